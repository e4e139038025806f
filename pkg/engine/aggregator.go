package engine

import (
	"github.com/kwstx/cool-LOC/pkg/collaboration"
	"github.com/kwstx/cool-LOC/pkg/eventlog"
	"github.com/kwstx/cool-LOC/pkg/models"
	"github.com/kwstx/cool-LOC/pkg/taskstore"
)

// SubtaskAggregator watches for a parent task whose every sub-task has
// reached a terminal state and folds the children's outputs into the
// parent (spec §4.7). It never dispatches; AggregatorSystem is recorded
// as the parent's assignedTo so the event log can tell an aggregated
// completion apart from a dispatched one.
type SubtaskAggregator struct {
	store *taskstore.TaskStore
	bus   *collaboration.Bus
	sink  eventlog.Sink
}

// NewSubtaskAggregator builds an aggregator bound to the shared task
// store, collaboration bus and event sink.
func NewSubtaskAggregator(store *taskstore.TaskStore, bus *collaboration.Bus, sink eventlog.Sink) *SubtaskAggregator {
	return &SubtaskAggregator{store: store, bus: bus, sink: sink}
}

// OnChildTerminal is called whenever a sub-task reaches completed or
// failed. If every sibling under childID's parent has also reached a
// terminal state, it composes (or fails) the parent and recurses upward,
// since the parent may itself be a sub-task of a further ancestor.
func (a *SubtaskAggregator) OnChildTerminal(childID string) {
	child, err := a.store.Get(childID)
	if err != nil || child.ParentTaskID == "" {
		return
	}
	a.tryAggregate(child.ParentTaskID)
}

func (a *SubtaskAggregator) tryAggregate(parentID string) {
	parent, err := a.store.Get(parentID)
	if err != nil {
		return
	}
	if parent.Status != models.TaskStatusWaitingForSubtasks && parent.Status != models.TaskStatusPending {
		return
	}

	children := make([]*models.Task, 0, len(parent.Subtasks))
	for _, id := range parent.Subtasks {
		c, err := a.store.Get(id)
		if err != nil {
			return
		}
		if c.Status != models.TaskStatusCompleted && c.Status != models.TaskStatusFailed {
			return // at least one sub-task still in flight
		}
		children = append(children, c)
	}
	if len(children) == 0 {
		return
	}

	anyFailed := false
	for _, c := range children {
		if c.Status == models.TaskStatusFailed {
			anyFailed = true
			break
		}
	}

	if anyFailed {
		parent.Status = models.TaskStatusFailed
		parent.FailureReason = models.ReasonDependencyCascade
		parent.AssignedTo = models.AggregatorSystem
		a.store.Update(parent)
		a.emit(parent)
		a.tryAggregate(parent.ParentTaskID)
		return
	}

	var impactSum, confidenceSum, predictedImpactSum float64
	var timeSum int64
	var resultData string
	for i, c := range children {
		impactSum += c.ActualImpact
		confidenceSum += c.ConfidenceScore
		predictedImpactSum += c.PredictedImpact
		timeSum += c.ExecutionTimeMS
		if i > 0 {
			resultData += "\n---\n"
		}
		resultData += c.ResultData
	}
	for _, shared := range a.bus.SharedResults(parent.ID) {
		resultData += "\n---\n" + shared.Data
	}

	parent.Status = models.TaskStatusCompleted
	parent.AssignedTo = models.AggregatorSystem
	parent.ResultData = resultData
	parent.ConfidenceScore = confidenceSum / float64(len(children))
	parent.ActualImpact = impactSum / float64(len(children))
	parent.PredictedImpact = predictedImpactSum / float64(len(children))
	parent.ExecutionTimeMS = timeSum
	a.store.Update(parent)
	a.emit(parent)

	if parent.ParentTaskID != "" {
		a.tryAggregate(parent.ParentTaskID)
	}
}

func (a *SubtaskAggregator) emit(t *models.Task) {
	a.sink.Emit(models.EventRecord{
		Timestamp:       t.UpdatedAt,
		TaskID:          t.ID,
		AgentID:         t.AssignedTo,
		Domain:          t.Domain,
		PredictedImpact: t.PredictedImpact,
		ActualImpact:    t.ActualImpact,
		ConfidenceScore: t.ConfidenceScore,
		ExecutionTimeMS: t.ExecutionTimeMS,
		Dependencies:    t.Dependencies,
		Status:          t.Status,
		Reason:          t.FailureReason,
	})
}
