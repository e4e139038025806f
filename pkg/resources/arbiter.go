// Package resources implements the ResourceArbiter component (spec
// §4.8): named resources with exclusive or parallel(capacity) semantics
// and an atomic, all-or-nothing lease lifecycle that avoids partial-hold
// deadlocks.
package resources

import (
	"sync"

	"github.com/kwstx/cool-LOC/pkg/models"
	"github.com/kwstx/cool-LOC/pkg/observability"
)

// ResourceArbiter owns the ledger of named resources and their holders.
type ResourceArbiter struct {
	mu              sync.Mutex
	resources       map[string]*models.ResourceDescriptor
	heldByTask      map[string][]string // taskID -> resource ids it holds
	defaultCapacity int
	logger          observability.Logger
	metrics         observability.MetricsClient
}

// New creates an empty ResourceArbiter. defaultCapacity is used for
// parallel resources referenced by a task before being explicitly
// registered.
func New(defaultCapacity int, logger observability.Logger, metrics observability.MetricsClient) *ResourceArbiter {
	if defaultCapacity < 1 {
		defaultCapacity = 1
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoOpMetricsClient()
	}
	return &ResourceArbiter{
		resources:       make(map[string]*models.ResourceDescriptor),
		heldByTask:      make(map[string][]string),
		defaultCapacity: defaultCapacity,
		logger:          logger,
		metrics:         metrics,
	}
}

// Register declares (or re-declares, idempotently) a named resource.
func (a *ResourceArbiter) Register(id string, mode models.ResourceMode, capacity int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.resources[id]; exists {
		return
	}
	a.resources[id] = models.NewResourceDescriptor(id, mode, capacity)
}

func (a *ResourceArbiter) resourceFor(id string, mode models.ResourceMode) *models.ResourceDescriptor {
	r, ok := a.resources[id]
	if !ok {
		r = models.NewResourceDescriptor(id, mode, a.defaultCapacity)
		a.resources[id] = r
	}
	return r
}

// TryAcquire attempts to lease every resource named in requirements for
// taskID. Acquisition is atomic across all requested resources: either
// every lease is granted or none is (spec §4.8).
func (a *ResourceArbiter) TryAcquire(taskID string, requirements map[string]models.ResourceMode) bool {
	if len(requirements) == 0 {
		return true
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for id, mode := range requirements {
		r := a.resourceFor(id, mode)
		if !r.HasCapacity() {
			return false
		}
	}

	held := make([]string, 0, len(requirements))
	for id, mode := range requirements {
		r := a.resourceFor(id, mode)
		r.Holders[taskID] = true
		r.CurrentUsage++
		held = append(held, id)
		a.metrics.RecordGauge("loc.resource.usage", float64(r.CurrentUsage), map[string]string{"resource_id": id})
	}
	a.heldByTask[taskID] = held

	a.logger.Debug("resources acquired", map[string]interface{}{
		"task_id":   taskID,
		"resources": held,
	})
	return true
}

// Release drops every lease taskID holds. Safe to call on a task that
// holds nothing.
func (a *ResourceArbiter) Release(taskID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, id := range a.heldByTask[taskID] {
		r, ok := a.resources[id]
		if !ok {
			continue
		}
		if r.Holders[taskID] {
			delete(r.Holders, taskID)
			r.CurrentUsage--
			a.metrics.RecordGauge("loc.resource.usage", float64(r.CurrentUsage), map[string]string{"resource_id": id})
		}
	}
	delete(a.heldByTask, taskID)
}

// Snapshot returns a copy of a resource's descriptor for inspection/tests.
func (a *ResourceArbiter) Snapshot(id string) (models.ResourceDescriptor, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.resources[id]
	if !ok {
		return models.ResourceDescriptor{}, false
	}
	holders := make(map[string]bool, len(r.Holders))
	for k, v := range r.Holders {
		holders[k] = v
	}
	return models.ResourceDescriptor{
		ID: r.ID, Mode: r.Mode, Capacity: r.Capacity, CurrentUsage: r.CurrentUsage, Holders: holders,
	}, true
}
