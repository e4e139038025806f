// Package eventlog defines the append-only event-log sink contract (spec
// §6 Event log). The durable store behind it is an external collaborator
// (spec §1); this package only shapes the record and offers an in-memory
// Sink useful for embedding and tests.
package eventlog

import (
	"sync"

	"github.com/kwstx/cool-LOC/pkg/models"
)

// Sink receives one EventRecord per terminal transition or aggregation.
type Sink interface {
	Emit(record models.EventRecord)
}

// MemorySink is a Sink that keeps every record in memory, for tests and
// for embedders that haven't wired a durable log yet.
type MemorySink struct {
	mu      sync.Mutex
	records []models.EventRecord
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Emit(record models.EventRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
}

// Records returns a snapshot of every record emitted so far.
func (s *MemorySink) Records() []models.EventRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.EventRecord, len(s.records))
	copy(out, s.records)
	return out
}

// NoopSink discards every record.
type NoopSink struct{}

func (NoopSink) Emit(models.EventRecord) {}
