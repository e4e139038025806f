// Package registry implements the AgentRegistry component (spec §4.1): it
// holds agent descriptors, skills, status and live performance stats, and
// is the only writer of an agent's Status field outside of learning
// updates, which are confined to the meta-reflection package.
package registry

import (
	"sync"

	"github.com/google/uuid"

	locerrors "github.com/kwstx/cool-LOC/pkg/errors"
	"github.com/kwstx/cool-LOC/pkg/models"
	"github.com/kwstx/cool-LOC/pkg/observability"
)

// DomainValidator reports whether a domain label belongs to the
// externally configured valid set (spec §6).
type DomainValidator func(label string) bool

// AgentRegistry is the process-wide set of registered agents. It shares
// nothing across engine instances (spec §9 "process-wide state").
type AgentRegistry struct {
	mu       sync.RWMutex
	agents   map[string]*models.Agent
	validate DomainValidator
	logger   observability.Logger
	metrics  observability.MetricsClient
}

// New creates an empty AgentRegistry.
func New(validate DomainValidator, logger observability.Logger, metrics observability.MetricsClient) *AgentRegistry {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoOpMetricsClient()
	}
	return &AgentRegistry{
		agents:   make(map[string]*models.Agent),
		validate: validate,
		logger:   logger,
		metrics:  metrics,
	}
}

// Register validates and stores a new agent descriptor, returning its id.
// Fails with KindInvalidAgent per spec §4.1.
func (r *AgentRegistry) Register(desc models.AgentDescriptor) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := desc.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := r.agents[id]; exists {
		return "", locerrors.New(locerrors.KindInvalidAgent, "AgentRegistry.Register", "agent id already registered: "+id)
	}
	if len(desc.DomainLabels) == 0 {
		return "", locerrors.New(locerrors.KindInvalidAgent, "AgentRegistry.Register", "domainLabels must not be empty")
	}
	if r.validate != nil {
		for _, d := range desc.DomainLabels {
			if !r.validate(d) {
				return "", locerrors.New(locerrors.KindInvalidAgent, "AgentRegistry.Register", "unknown domain label: "+d)
			}
		}
	}
	for domain, score := range desc.SkillScores {
		if domain == "" {
			return "", locerrors.New(locerrors.KindInvalidAgent, "AgentRegistry.Register", "skillScores keys must be non-empty domains")
		}
		if score < 0 || score > 10 {
			return "", locerrors.New(locerrors.KindInvalidAgent, "AgentRegistry.Register", "skillScores values must be in [0,10]")
		}
	}
	if desc.APIEndpoint == "" {
		return "", locerrors.New(locerrors.KindInvalidAgent, "AgentRegistry.Register", "apiEndpoint is required")
	}
	if desc.PerformanceData == nil {
		return "", locerrors.New(locerrors.KindInvalidAgent, "AgentRegistry.Register", "performanceData is required")
	}

	perf := desc.PerformanceData
	if perf.Domains == nil {
		perf.Domains = make(map[string]*models.DomainPerformance)
	}

	agent := &models.Agent{
		ID:           id,
		DomainLabels: append([]string(nil), desc.DomainLabels...),
		SkillScores:  copySkills(desc.SkillScores),
		Endpoint:     models.Endpoint{Address: desc.APIEndpoint},
		Status:       models.AgentStatusIdle,
		Performance:  perf,
	}
	r.agents[id] = agent

	r.logger.Info("agent registered", map[string]interface{}{
		"agent_id": id,
		"domains":  agent.DomainLabels,
	})
	r.metrics.RecordCounter("loc.registry.agents_registered", 1, nil)
	r.metrics.RecordGauge("loc.registry.agent_count", float64(len(r.agents)), nil)

	return id, nil
}

func copySkills(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Get returns the agent with the given id.
func (r *AgentRegistry) Get(id string) (*models.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, locerrors.New(locerrors.KindUnknownAgent, "AgentRegistry.Get", "no such agent: "+id)
	}
	return a, nil
}

// List returns a snapshot of all registered agents.
func (r *AgentRegistry) List() []*models.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	return out
}

// MarkBusy transitions an idle agent to busy. The scheduler calls this as
// part of the atomic pick-task+mark-busy+reserve-resources step.
func (r *AgentRegistry) MarkBusy(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return locerrors.New(locerrors.KindUnknownAgent, "AgentRegistry.MarkBusy", "no such agent: "+id)
	}
	a.Status = models.AgentStatusBusy
	return nil
}

// MarkIdle releases an agent back to the idle pool.
func (r *AgentRegistry) MarkIdle(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return locerrors.New(locerrors.KindUnknownAgent, "AgentRegistry.MarkIdle", "no such agent: "+id)
	}
	a.Status = models.AgentStatusIdle
	return nil
}

// UpdatePerformance applies fn to the agent's performance stats under the
// registry's write lock. Meta-Reflection's learn() is the only caller;
// this keeps performance mutation serialized with registration and status
// changes per spec §5 ("state mutations ... must be serialized").
func (r *AgentRegistry) UpdatePerformance(id string, fn func(*models.PerformanceStats)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return locerrors.New(locerrors.KindUnknownAgent, "AgentRegistry.UpdatePerformance", "no such agent: "+id)
	}
	fn(a.Performance)
	return nil
}

// IdleAgents returns a snapshot of every currently idle agent whose id is
// not in excludeIDs.
func (r *AgentRegistry) IdleAgents(excludeIDs map[string]bool) []*models.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Agent, 0)
	for id, a := range r.agents {
		if a.Status != models.AgentStatusIdle {
			continue
		}
		if excludeIDs != nil && excludeIDs[id] {
			continue
		}
		out = append(out, a)
	}
	return out
}
