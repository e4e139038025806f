// Package collaboration implements the Collaboration Bus component
// (spec §4.10): a per-context blackboard of shared results, pending
// requests and sync points, backed by an append-only audit log. It is
// modeled as a mapping plus a log, never a callback graph — consumers
// poll or are handed shared results on request (spec §9 design note).
package collaboration

import (
	"sync"
	"time"
)

// SharedResult is one agent's contribution to a collaborative context.
type SharedResult struct {
	AgentID   string
	Data      string
	Timestamp time.Time
}

// Request is a pending ask for input that no shared result yet satisfies.
type Request struct {
	TaskID    string
	AgentID   string
	Query     string
	Timestamp time.Time
}

// LogEntry is one append-only collaboration-bus audit record.
type LogEntry struct {
	ContextID string
	Op        string // "share" | "requestInput" | "sync"
	TaskID    string
	AgentID   string
	Timestamp time.Time
}

type context struct {
	sharedResults map[string]SharedResult // taskID -> result
	requests      []Request
	syncPoints    map[string]interface{} // taskID -> payload
}

// Bus is the process-wide collaboration blackboard, keyed by context id
// (a parent task id, or a task's own id when it has no parent).
type Bus struct {
	mu       sync.Mutex
	contexts map[string]*context
	log      []LogEntry
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{contexts: make(map[string]*context)}
}

func (b *Bus) contextFor(id string) *context {
	c, ok := b.contexts[id]
	if !ok {
		c = &context{sharedResults: make(map[string]SharedResult), syncPoints: make(map[string]interface{})}
		b.contexts[id] = c
	}
	return c
}

// Share records taskID's contribution under contextID.
func (b *Bus) Share(contextID, taskID, agentID, data string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.contextFor(contextID)
	c.sharedResults[taskID] = SharedResult{AgentID: agentID, Data: data, Timestamp: now()}
	b.append(contextID, "share", taskID, agentID)
}

// RequestInput returns any matching shared result for taskID synchronously
// if present; otherwise it enqueues the request and returns ok=false
// (spec §4.10).
func (b *Bus) RequestInput(contextID, taskID, agentID, query string) (SharedResult, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.contextFor(contextID)
	if res, ok := c.sharedResults[taskID]; ok {
		b.append(contextID, "requestInput", taskID, agentID)
		return res, true
	}
	c.requests = append(c.requests, Request{TaskID: taskID, AgentID: agentID, Query: query, Timestamp: now()})
	b.append(contextID, "requestInput", taskID, agentID)
	return SharedResult{}, false
}

// Sync records a sync-point payload for taskID under contextID.
func (b *Bus) Sync(contextID, taskID string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.contextFor(contextID)
	c.syncPoints[taskID] = payload
	b.append(contextID, "sync", taskID, "")
}

// SharedResults returns a snapshot of every shared result recorded under
// contextID, used by the SubtaskAggregator to fold in collaboration
// contributions (spec §4.7).
func (b *Bus) SharedResults(contextID string) map[string]SharedResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.contexts[contextID]
	if !ok {
		return nil
	}
	out := make(map[string]SharedResult, len(c.sharedResults))
	for k, v := range c.sharedResults {
		out[k] = v
	}
	return out
}

// Log returns a snapshot of the append-only audit log.
func (b *Bus) Log() []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]LogEntry, len(b.log))
	copy(out, b.log)
	return out
}

func (b *Bus) append(contextID, op, taskID, agentID string) {
	b.log = append(b.log, LogEntry{ContextID: contextID, Op: op, TaskID: taskID, AgentID: agentID, Timestamp: now()})
}

// now is a seam so tests can observe ordering without depending on wall clock jitter.
var now = time.Now
