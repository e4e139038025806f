// Package engine implements the Scheduler Loop (spec §4.6), the
// SubtaskAggregator (spec §4.7) and the StrategyRegistry tie-break
// (SPEC_FULL §12) that wire every other package into the running core.
package engine

import (
	"sync"

	locerrors "github.com/kwstx/cool-LOC/pkg/errors"
	"github.com/kwstx/cool-LOC/pkg/models"
	"github.com/kwstx/cool-LOC/pkg/reflection"
)

// AssignmentStrategy breaks a tie among agents whose predicted success for
// a task falls within the configured epsilon of the best score (SPEC_FULL
// §12). Meta-Reflection still picks the winning score band; a strategy
// only chooses among agents already judged equivalent.
type AssignmentStrategy interface {
	Name() string
	Pick(candidates []reflection.ScoredAgent) *models.Agent
}

// RoundRobinStrategy cycles through tied candidates in the order
// Candidates returned them, so repeated near-ties don't always land on
// the same agent.
type RoundRobinStrategy struct {
	mu      sync.Mutex
	counter uint64
}

func (s *RoundRobinStrategy) Name() string { return "round_robin" }

func (s *RoundRobinStrategy) Pick(candidates []reflection.ScoredAgent) *models.Agent {
	if len(candidates) == 0 {
		return nil
	}
	s.mu.Lock()
	idx := s.counter % uint64(len(candidates))
	s.counter++
	s.mu.Unlock()
	return candidates[idx].Agent
}

// LeastHistoryStrategy prefers the tied candidate with the fewest
// completed tasks, spreading assignments toward agents with thinner
// track records instead of always reinforcing the most-used one.
type LeastHistoryStrategy struct{}

func (LeastHistoryStrategy) Name() string { return "least_history" }

func (LeastHistoryStrategy) Pick(candidates []reflection.ScoredAgent) *models.Agent {
	if len(candidates) == 0 {
		return nil
	}
	best := candidates[0].Agent
	bestCount := tasksCompleted(best)
	for _, c := range candidates[1:] {
		if n := tasksCompleted(c.Agent); n < bestCount {
			best = c.Agent
			bestCount = n
		}
	}
	return best
}

func tasksCompleted(a *models.Agent) int {
	if a.Performance == nil {
		return 0
	}
	return a.Performance.TasksCompleted
}

// StrategyRegistry holds named tie-break strategies and resolves ties
// among near-equal predicted-success candidates.
type StrategyRegistry struct {
	mu         sync.RWMutex
	strategies map[string]AssignmentStrategy
	active     string
}

// NewStrategyRegistry registers the default strategies and activates
// defaultName (falls back to "round_robin" if empty).
func NewStrategyRegistry(defaultName string) *StrategyRegistry {
	r := &StrategyRegistry{strategies: make(map[string]AssignmentStrategy)}
	r.Register(&RoundRobinStrategy{})
	r.Register(LeastHistoryStrategy{})
	if defaultName == "" {
		defaultName = "round_robin"
	}
	r.active = defaultName
	return r
}

// Register adds or replaces a named strategy.
func (r *StrategyRegistry) Register(s AssignmentStrategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Name()] = s
}

// Activate switches the registry's active strategy.
func (r *StrategyRegistry) Activate(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.strategies[name]; !ok {
		return locerrors.New(locerrors.KindInvalidTask, "StrategyRegistry.Activate", "unknown strategy: "+name)
	}
	r.active = name
	return nil
}

// Resolve picks among candidate agents whose score is within epsilon of
// the best score, using the active strategy. candidates must already be
// sorted best-first (as reflection.Candidates returns them).
func (r *StrategyRegistry) Resolve(candidates []reflection.ScoredAgent, epsilon float64) *models.Agent {
	if len(candidates) == 0 {
		return nil
	}
	if len(candidates) == 1 {
		return candidates[0].Agent
	}

	best := candidates[0].Score
	tied := make([]reflection.ScoredAgent, 0, len(candidates))
	for _, c := range candidates {
		if best-c.Score <= epsilon {
			tied = append(tied, c)
		} else {
			break
		}
	}
	if len(tied) == 1 {
		return tied[0].Agent
	}

	r.mu.RLock()
	strategy := r.strategies[r.active]
	r.mu.RUnlock()
	if strategy == nil {
		return tied[0].Agent
	}
	return strategy.Pick(tied)
}
