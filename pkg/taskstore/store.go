// Package taskstore implements the TaskStore component (spec §4.2): the
// canonical set of tasks (including sub-tasks), indexed by id, with a
// ready-queue snapshot ordered by (priority desc, predictedImpact desc).
package taskstore

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	locerrors "github.com/kwstx/cool-LOC/pkg/errors"
	"github.com/kwstx/cool-LOC/pkg/models"
	"github.com/kwstx/cool-LOC/pkg/observability"
)

// DomainValidator reports whether a domain label belongs to the
// externally configured valid set.
type DomainValidator func(label string) bool

// TaskStore is the process-wide set of tasks.
type TaskStore struct {
	mu      sync.RWMutex
	tasks   map[string]*models.Task
	validate DomainValidator
	logger  observability.Logger
	metrics observability.MetricsClient
}

// New creates an empty TaskStore.
func New(validate DomainValidator, logger observability.Logger, metrics observability.MetricsClient) *TaskStore {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoOpMetricsClient()
	}
	return &TaskStore{
		tasks:    make(map[string]*models.Task),
		validate: validate,
		logger:   logger,
		metrics:  metrics,
	}
}

func validateSpec(spec models.TaskSpec, validate DomainValidator) error {
	if spec.Description == "" {
		return locerrors.New(locerrors.KindInvalidTask, "TaskStore.Submit", "description must not be empty")
	}
	if spec.DomainLabel == "" {
		return locerrors.New(locerrors.KindInvalidTask, "TaskStore.Submit", "domainLabel is required")
	}
	if validate != nil && !validate(spec.DomainLabel) {
		return locerrors.New(locerrors.KindInvalidTask, "TaskStore.Submit", "unknown domain label: "+spec.DomainLabel)
	}
	if spec.ComplexityScore < 1 || spec.ComplexityScore > 10 {
		return locerrors.New(locerrors.KindInvalidTask, "TaskStore.Submit", "complexity must be in [1,10]")
	}
	return nil
}

// Submit validates and stores a new top-level task, returning its id.
// Fails with KindInvalidTask per spec §4.2.
func (s *TaskStore) Submit(spec models.TaskSpec) (string, error) {
	if err := validateSpec(spec, s.validate); err != nil {
		return "", err
	}

	priority := 1
	if spec.Priority != nil {
		priority = *spec.Priority
	}

	now := time.Now()
	task := &models.Task{
		ID:                   uuid.NewString(),
		Description:          spec.Description,
		Domain:               spec.DomainLabel,
		Complexity:           spec.ComplexityScore,
		Priority:             priority,
		Dependencies:         append([]string(nil), spec.Dependencies...),
		InterferedBy:         append([]string(nil), spec.InterferedBy...),
		ResourceRequirements: copyResourceReqs(spec.ResourceRequirements),
		ParentTaskID:         spec.ParentTaskID,
		Status:               models.TaskStatusPending,
		FailedAgents:         make(map[string]bool),
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	s.mu.Lock()
	s.tasks[task.ID] = task
	s.mu.Unlock()

	s.logger.Info("task submitted", map[string]interface{}{
		"task_id": task.ID,
		"domain":  task.Domain,
	})
	s.metrics.RecordCounter("loc.taskstore.submitted", 1, map[string]string{"domain": task.Domain})

	return task.ID, nil
}

func copyResourceReqs(in map[string]models.ResourceMode) map[string]models.ResourceMode {
	if in == nil {
		return nil
	}
	out := make(map[string]models.ResourceMode, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// InjectSubtask creates a sub-task of parentId, linking both directions
// (spec §4.6 SPLIT remediation, §4.7 aggregation).
func (s *TaskStore) InjectSubtask(parentID string, spec models.TaskSpec) (string, error) {
	s.mu.Lock()
	parent, ok := s.tasks[parentID]
	if !ok {
		s.mu.Unlock()
		return "", locerrors.New(locerrors.KindUnknownTask, "TaskStore.InjectSubtask", "no such parent task: "+parentID)
	}
	s.mu.Unlock()

	spec.ParentTaskID = parentID
	childID, err := s.Submit(spec)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	parent.Subtasks = append(parent.Subtasks, childID)
	parent.UpdatedAt = time.Now()
	s.mu.Unlock()

	return childID, nil
}

// Get returns the task with the given id.
func (s *TaskStore) Get(id string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, locerrors.New(locerrors.KindUnknownTask, "TaskStore.Get", "no such task: "+id)
	}
	return t, nil
}

// All returns a snapshot of every task in the store.
func (s *TaskStore) All() []*models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	return out
}

// ReadyQueueSnapshot returns pending, non-parent tasks whose dependencies
// are all completed, sorted by (priority desc, predictedImpact desc).
// Stable ordering across ticks is not guaranteed (spec §4.2).
func (s *TaskStore) ReadyQueueSnapshot() []*models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lookup := func(id string) (*models.Task, bool) {
		t, ok := s.tasks[id]
		return t, ok
	}

	ready := make([]*models.Task, 0)
	for _, t := range s.tasks {
		if t.IsReady(lookup) {
			ready = append(ready, t)
		}
	}

	sort.Slice(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority > ready[j].Priority
		}
		return ready[i].PredictedImpact > ready[j].PredictedImpact
	})

	return ready
}

// Insert stores t as-is, bypassing Submit's validation. It exists for
// restoring persisted state and for tests that need to place a
// structurally unsound ("toxic") task directly into the store to exercise
// the scheduler's on-inspection rejection (spec §7).
func (s *TaskStore) Insert(t *models.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.FailedAgents == nil {
		t.FailedAgents = make(map[string]bool)
	}
	s.tasks[t.ID] = t
}

// Update replaces the stored task, preserving the pointer identity other
// callers may hold. Callers must treat *models.Task fields as owned by
// the store once submitted; Update is used by the scheduler after
// mutating a task's fields in place under its own coordination lock.
func (s *TaskStore) Update(t *models.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.UpdatedAt = time.Now()
	s.tasks[t.ID] = t
}
