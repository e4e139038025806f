// Package resilience wraps the Dispatcher boundary with a per-agent
// circuit breaker (github.com/sony/gobreaker), so a structurally broken
// agent endpoint fails fast instead of being hammered every tick, and
// exposes a backoff hint for callers pacing pending-task reassignment
// (github.com/cenkalti/backoff/v4), following the mesh's
// pkg/resilience circuit-breaker precedent.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/kwstx/cool-LOC/pkg/dispatch"
	"github.com/kwstx/cool-LOC/pkg/models"
	"github.com/kwstx/cool-LOC/pkg/observability"
)

// BreakerConfig configures every per-agent circuit breaker this package
// creates.
type BreakerConfig struct {
	FailureThreshold uint32
	ResetTimeout     time.Duration
}

// DefaultBreakerConfig mirrors sensible production defaults: trip after
// 5 consecutive failures, half-open after 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, ResetTimeout: 30 * time.Second}
}

// Dispatcher wraps an underlying dispatch.Dispatcher with a circuit
// breaker per agent id, so one misbehaving agent endpoint cannot starve
// the scheduler's tick budget dispatching to it repeatedly.
type Dispatcher struct {
	inner   dispatch.Dispatcher
	cfg     BreakerConfig
	logger  observability.Logger
	mu      sync.Mutex
	breaker map[string]*gobreaker.CircuitBreaker
}

// Wrap returns a resilient Dispatcher backed by inner.
func Wrap(inner dispatch.Dispatcher, cfg BreakerConfig, logger observability.Logger) *Dispatcher {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &Dispatcher{inner: inner, cfg: cfg, logger: logger, breaker: make(map[string]*gobreaker.CircuitBreaker)}
}

func (d *Dispatcher) breakerFor(agentID string) *gobreaker.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.breaker[agentID]
	if !ok {
		b = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "dispatch:" + agentID,
			Timeout: d.cfg.ResetTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= d.cfg.FailureThreshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				d.logger.Warn("dispatch circuit breaker state change", map[string]interface{}{
					"agent_id": agentID, "from": from.String(), "to": to.String(),
				})
			},
		})
		d.breaker[agentID] = b
	}
	return b
}

// Dispatch calls through the per-agent breaker. A breaker-open rejection
// surfaces as an ordinary error, which the scheduler treats like any
// other dispatch rejection entering the §4.9 failure path.
func (d *Dispatcher) Dispatch(ctx context.Context, agent *models.Agent, task *models.Task) (*models.DispatchResult, error) {
	b := d.breakerFor(agent.ID)
	result, err := b.Execute(func() (interface{}, error) {
		res, derr := d.inner.Dispatch(ctx, agent, task)
		if derr != nil {
			return nil, derr
		}
		if verr := dispatch.Validate(res); verr != nil {
			return nil, verr
		}
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.DispatchResult), nil
}

// NextRetryBackoff returns how long a caller might wait before nudging a
// pending-for-reassignment task again, growing with retryCount. The
// scheduler's own tick cadence still governs actual re-evaluation (spec
// §5); this is only a pacing hint for embedders polling faster than a
// tick to avoid busy-looping on a task stuck pending.
func NextRetryBackoff(retryCount int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	var d time.Duration
	for i := 0; i <= retryCount; i++ {
		d = b.NextBackOff()
	}
	return d
}
