package models

import "time"

// TaskStatus is a task's lifecycle state (spec §3).
type TaskStatus string

const (
	TaskStatusPending            TaskStatus = "pending"
	TaskStatusProcessing         TaskStatus = "processing"
	TaskStatusWaitingForSubtasks TaskStatus = "waiting_for_subtasks"
	TaskStatusCompleted          TaskStatus = "completed"
	TaskStatusFailed             TaskStatus = "failed"
)

// ResourceMode is the contention semantics of a named resource (spec §3/§4.8).
type ResourceMode string

const (
	ResourceExclusive ResourceMode = "exclusive"
	ResourceParallel  ResourceMode = "parallel"
)

// Terminal/failure reasons attached to task records (spec §7).
const (
	ReasonCyclicDependency    = "CYCLIC_DEPENDENCY_FAILURE"
	ReasonDependencyCascade   = "DEPENDENCY_FAILURE_CASCADE"
	ReasonMaxRetriesExhausted = "MAX_RETRIES_EXHAUSTED"
	ReasonLowConfidenceAbort  = "LOW_CONFIDENCE_ABORT"
	ReasonMalformedDispatch   = "MALFORMED_DISPATCH_RESULT"
	ReasonInvalidTask         = "INVALID_TASK"
)

// Suggested collaborative-dispatch tag set on a task by the COLLABORATE
// remediation (spec §4.6).
const SuggestedActionUseCollaborationProtocol = "USE_COLLABORATION_PROTOCOL"

// AggregatorSystem is the sentinel agent id recorded against an
// aggregated parent task (spec §4.7).
const AggregatorSystem = "AGGREGATOR_SYSTEM"

// Task is a unit of work in exactly one domain (spec §3).
type Task struct {
	ID          string
	Description string
	Domain      string
	Complexity  float64 // 1-10
	Priority    int

	Dependencies []string
	Subtasks     []string
	ParentTaskID string

	InterferedBy         []string
	ResourceRequirements map[string]ResourceMode

	Status          TaskStatus
	AssignedTo      string
	RetryCount      int
	FailedAgents    map[string]bool
	PredictedImpact float64

	PredictedSuccess float64
	Collaborative    bool
	SuggestedAction  string

	FailureReason string

	// Populated once the task reaches a terminal success state, or
	// (for a parent) composed by the SubtaskAggregator.
	ResultData      string
	ConfidenceScore float64
	ActualImpact    float64
	ExecutionTimeMS int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsReady reports whether t is ready to dispatch: pending, without any
// sub-tasks, and every dependency completed (spec §3 inv. 4).
func (t *Task) IsReady(store func(id string) (*Task, bool)) bool {
	if t.Status != TaskStatusPending || len(t.Subtasks) > 0 {
		return false
	}
	for _, dep := range t.Dependencies {
		d, ok := store(dep)
		if !ok || d.Status != TaskStatusCompleted {
			return false
		}
	}
	return true
}

// TaskSpec is the submission-time shape consumed by TaskStore.Submit
// (spec §6 Task schema).
type TaskSpec struct {
	Description          string
	DomainLabel          string
	ComplexityScore       float64
	Priority             *int // optional, default 1
	Dependencies         []string
	InterferedBy         []string
	ResourceRequirements map[string]ResourceMode
	ParentTaskID         string // set internally for sub-tasks
}

// DispatchResult is the structured response the external Dispatcher
// capability returns for a successful dispatch (spec §6).
type DispatchResult struct {
	ResultData      string
	ConfidenceScore float64
	ActualImpact    float64
	ExecutionTimeMS int64
}

// EventRecord is one append-only record emitted on every terminal
// transition and on aggregation (spec §6 Event log).
type EventRecord struct {
	Timestamp       time.Time
	TaskID          string
	AgentID         string
	Domain          string
	PredictedImpact float64
	ActualImpact    float64
	ConfidenceScore float64
	ExecutionTimeMS int64
	Dependencies    []string
	Collaboration   bool
	Status          TaskStatus
	Reason          string
}
