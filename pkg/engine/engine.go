package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/kwstx/cool-LOC/pkg/collaboration"
	"github.com/kwstx/cool-LOC/pkg/config"
	"github.com/kwstx/cool-LOC/pkg/dispatch"
	"github.com/kwstx/cool-LOC/pkg/eventlog"
	"github.com/kwstx/cool-LOC/pkg/graph"
	"github.com/kwstx/cool-LOC/pkg/models"
	"github.com/kwstx/cool-LOC/pkg/observability"
	"github.com/kwstx/cool-LOC/pkg/reflection"
	"github.com/kwstx/cool-LOC/pkg/registry"
	"github.com/kwstx/cool-LOC/pkg/resources"
	"github.com/kwstx/cool-LOC/pkg/scoring"
	"github.com/kwstx/cool-LOC/pkg/taskstore"
)

var errLowConfidenceResult = errors.New("dispatch result below confidence floor")

// Engine is the Scheduler Loop (spec §4.6): a periodic tick that picks the
// highest-priority ready task, evaluates an assignment, remediates
// low-confidence predictions, reserves resources, dispatches
// asynchronously and commits the outcome. A single mutex serializes the
// compound pick-task+mark-busy+reserve-resources step and the matching
// result-commit step against each other, per spec §5; the Dispatcher call
// itself happens outside any lock so a slow agent never stalls the loop.
type Engine struct {
	cfg *config.EngineConfig

	agents      *registry.AgentRegistry
	tasks       *taskstore.TaskStore
	arbiter     *resources.ResourceArbiter
	scorer      *scoring.Scorer
	reflect     *reflection.MetaReflection
	bus         *collaboration.Bus
	dispatcher  dispatch.Dispatcher
	sink        eventlog.Sink
	aggregator  *SubtaskAggregator
	strategies  *StrategyRegistry

	logger  observability.Logger
	metrics observability.MetricsClient

	mu       sync.Mutex
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopped  bool
	stopOnce sync.Once
}

// New wires every component into a runnable Engine.
func New(
	cfg *config.EngineConfig,
	agents *registry.AgentRegistry,
	tasks *taskstore.TaskStore,
	arbiter *resources.ResourceArbiter,
	scorer *scoring.Scorer,
	reflect *reflection.MetaReflection,
	bus *collaboration.Bus,
	dispatcher dispatch.Dispatcher,
	sink eventlog.Sink,
	strategies *StrategyRegistry,
	logger observability.Logger,
	metrics observability.MetricsClient,
) *Engine {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoOpMetricsClient()
	}
	if strategies == nil {
		strategies = NewStrategyRegistry("")
	}
	return &Engine{
		cfg:        cfg,
		agents:     agents,
		tasks:      tasks,
		arbiter:    arbiter,
		scorer:     scorer,
		reflect:    reflect,
		bus:        bus,
		dispatcher: dispatcher,
		sink:       sink,
		aggregator: NewSubtaskAggregator(tasks, bus, sink),
		strategies: strategies,
		logger:     logger,
		metrics:    metrics,
		stopCh:     make(chan struct{}),
	}
}

// Run blocks, ticking at cfg.TickInterval, until ctx is cancelled or Stop
// is called. It does not wait for in-flight dispatches on its own return;
// callers that need a drained shutdown should call Stop.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Stop signals Run to exit and waits (bounded by ctx) for every dispatch
// goroutine spawned by Tick to finish, so no result is lost mid-commit.
func (e *Engine) Stop(ctx context.Context) error {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		e.stopped = true
		e.mu.Unlock()
		close(e.stopCh)
	})

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick runs one iteration of the scheduler loop (spec §4.6): cycle
// detection and cascade, then a single ready-task assignment attempt.
func (e *Engine) Tick(ctx context.Context) {
	e.detectAndFailCycles()

	ready := e.tasks.ReadyQueueSnapshot()
	for _, task := range ready {
		if err := e.rejectIfInvalid(task); err != nil {
			continue // sanitized away; consider the next ready task this tick
		}
		e.tryAssign(ctx, task)
		return
	}
}

// rejectIfInvalid fails a task on first inspection if it is structurally
// unsound (spec §7 "toxic task" case), returning non-nil when it did so.
func (e *Engine) rejectIfInvalid(task *models.Task) error {
	if task.Description != "" && task.Domain != "" && task.Complexity >= 1 && task.Complexity <= 10 && e.cfg.HasDomain(task.Domain) {
		return nil
	}
	e.mu.Lock()
	task.Status = models.TaskStatusFailed
	task.FailureReason = models.ReasonInvalidTask
	e.tasks.Update(task)
	e.mu.Unlock()
	e.emit(task)
	e.logger.Warn("rejected invalid task on inspection", map[string]interface{}{"task_id": task.ID})
	return errors.New("invalid task")
}

func (e *Engine) tryAssign(ctx context.Context, task *models.Task) {
	e.mu.Lock()

	if e.stopped {
		e.mu.Unlock()
		return
	}

	candidates := e.compatibleCandidates(task)
	chosen := e.strategies.Resolve(candidates, e.cfg.TieBreakEpsilon)
	if chosen == nil {
		e.mu.Unlock()
		return // no eligible agent this tick; task stays pending
	}

	var predicted float64
	for _, c := range candidates {
		if c.Agent.ID == chosen.ID {
			predicted = c.Score
			break
		}
	}

	if predicted < e.cfg.LowConfidenceThreshold {
		remediation := e.reflect.SuggestRemediation(task)
		switch remediation {
		case reflection.RemediationSplit:
			e.mu.Unlock()
			e.split(task)
			return
		case reflection.RemediationReroute:
			e.mu.Unlock()
			return // leave pending; a future tick may see a better candidate pool
		case reflection.RemediationCollaborate:
			task.Collaborative = true
			task.Priority = clamp10(task.Priority + 2)
			task.SuggestedAction = models.SuggestedActionUseCollaborationProtocol
			// falls through to dispatch with the chosen agent, at the
			// boosted priority, so the collaborative task is revisited sooner.
		}
	}

	if !e.arbiter.TryAcquire(task.ID, task.ResourceRequirements) {
		e.mu.Unlock()
		return // resources unavailable this tick; task stays pending
	}

	task.Status = models.TaskStatusProcessing
	task.AssignedTo = chosen.ID
	task.PredictedSuccess = predicted
	task.PredictedImpact = e.reflect.PredictImpact(task)
	e.tasks.Update(task)
	_ = e.agents.MarkBusy(chosen.ID)

	e.mu.Unlock()

	e.wg.Add(1)
	go e.runDispatch(ctx, task, chosen)
}

// compatibleCandidates narrows Meta-Reflection's ranked candidate list to
// agents the Compatibility Scorer accepts (spec §4.4: domain match, skill
// fit, history and reliability combined into one score, floored at
// cfg.MinScoreThreshold), so an agent whose combined score falls below the
// floor is never handed to the tie-break strategy regardless of its
// predicted-success ranking. A domain mismatch only forfeits the domain
// weight; it does not by itself drop an agent.
func (e *Engine) compatibleCandidates(task *models.Task) []reflection.ScoredAgent {
	ranked := e.reflect.Candidates(task, task.FailedAgents)
	out := make([]reflection.ScoredAgent, 0, len(ranked))
	for _, c := range ranked {
		if _, ok := e.scorer.Score(c.Agent, task); ok {
			out = append(out, c)
		}
	}
	return out
}

func clamp10(v int) int {
	if v > 10 {
		return 10
	}
	return v
}

// runDispatch executes the one suspension point in the loop (spec §5):
// the Dispatcher call happens outside any lock, so a slow or hanging
// agent endpoint cannot stall the tick loop or any other in-flight
// dispatch.
func (e *Engine) runDispatch(ctx context.Context, task *models.Task, agent *models.Agent) {
	defer e.wg.Done()

	result, err := e.dispatcher.Dispatch(ctx, agent, task)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.arbiter.Release(task.ID)
	_ = e.agents.MarkIdle(agent.ID)

	if err != nil {
		e.handleFailure(task, agent, err)
		return
	}
	if result.ConfidenceScore < e.cfg.DispatchConfidenceFloor {
		e.handleFailure(task, agent, errLowConfidenceResult)
		return
	}
	e.commitSuccess(task, agent, result)
}

// handleFailure applies a dispatch failure or low-confidence result to
// task and agent state under e.mu (spec §4.9): reassign while retries
// remain, otherwise fail terminally and cascade.
func (e *Engine) handleFailure(task *models.Task, agent *models.Agent, cause error) {
	task.RetryCount++
	if task.FailedAgents == nil {
		task.FailedAgents = make(map[string]bool)
	}
	task.FailedAgents[agent.ID] = true

	if err := e.reflect.Learn(agent.ID, task.Domain, false, 0); err != nil {
		e.logger.Warn("learn failed", map[string]interface{}{"agent_id": agent.ID, "error": err.Error()})
	}

	if task.RetryCount >= e.cfg.MaxRetries {
		task.Status = models.TaskStatusFailed
		if errors.Is(cause, errLowConfidenceResult) {
			task.FailureReason = models.ReasonLowConfidenceAbort
		} else {
			task.FailureReason = models.ReasonMaxRetriesExhausted
		}
		e.tasks.Update(task)
		e.emitLocked(task)
		e.cascadeFailuresLocked([]string{task.ID})
		e.aggregator.OnChildTerminal(task.ID)
		return
	}

	task.Status = models.TaskStatusPending
	e.tasks.Update(task)
}

func (e *Engine) commitSuccess(task *models.Task, agent *models.Agent, result *models.DispatchResult) {
	task.Status = models.TaskStatusCompleted
	task.ResultData = result.ResultData
	task.ConfidenceScore = result.ConfidenceScore
	task.ActualImpact = result.ActualImpact
	task.ExecutionTimeMS = result.ExecutionTimeMS
	e.tasks.Update(task)

	if err := e.reflect.Learn(agent.ID, task.Domain, true, result.ActualImpact); err != nil {
		e.logger.Warn("learn failed", map[string]interface{}{"agent_id": agent.ID, "error": err.Error()})
	}

	e.emitLocked(task)
	e.aggregator.OnChildTerminal(task.ID)
}

// detectAndFailCycles runs dependency-cycle detection and its cascade
// every tick (spec §4.3/§4.9): each cyclic task fails with
// CYCLIC_DEPENDENCY_FAILURE, and every task transitively depending on one
// fails with DEPENDENCY_FAILURE_CASCADE, all within the same tick.
func (e *Engine) detectAndFailCycles() {
	all := e.tasks.All()
	cyclic := graph.DetectCycles(all)
	if len(cyclic) == 0 {
		return
	}

	e.mu.Lock()
	for _, id := range cyclic {
		t, err := e.tasks.Get(id)
		if err != nil || t.Status == models.TaskStatusCompleted || t.Status == models.TaskStatusFailed {
			continue
		}
		t.Status = models.TaskStatusFailed
		t.FailureReason = models.ReasonCyclicDependency
		e.tasks.Update(t)
		e.emitLocked(t)
		e.aggregator.OnChildTerminal(t.ID)
	}
	e.cascadeFailuresLocked(cyclic)
	e.mu.Unlock()
}

// cascadeFailuresLocked must be called with e.mu held.
func (e *Engine) cascadeFailuresLocked(failedIDs []string) {
	cascaded := graph.Cascade(e.tasks.All(), failedIDs)
	for _, id := range cascaded {
		t, err := e.tasks.Get(id)
		if err != nil {
			continue
		}
		t.Status = models.TaskStatusFailed
		t.FailureReason = models.ReasonDependencyCascade
		e.tasks.Update(t)
		e.emitLocked(t)
		e.aggregator.OnChildTerminal(t.ID)
	}
}

// split implements the SPLIT remediation (spec §4.6, spec §8 S3): the
// parent moves to waiting_for_subtasks and two children are injected —
// complexity ceil(c/2) and floor(c/2), priorities prio+1 (clamped to 10)
// and prio.
func (e *Engine) split(task *models.Task) {
	firstHalf := math.Ceil(task.Complexity / 2)
	secondHalf := math.Floor(task.Complexity / 2)
	if firstHalf < 1 {
		firstHalf = 1
	}
	if secondHalf < 1 {
		secondHalf = 1
	}

	e.mu.Lock()
	task.Status = models.TaskStatusWaitingForSubtasks
	e.tasks.Update(task)
	e.mu.Unlock()

	firstPriority := clamp10(task.Priority + 1)
	secondPriority := task.Priority

	_, _ = e.tasks.InjectSubtask(task.ID, models.TaskSpec{
		Description:     task.Description + " (part 1/2)",
		DomainLabel:     task.Domain,
		ComplexityScore: firstHalf,
		Priority:        &firstPriority,
	})
	_, _ = e.tasks.InjectSubtask(task.ID, models.TaskSpec{
		Description:     task.Description + " (part 2/2)",
		DomainLabel:     task.Domain,
		ComplexityScore: secondHalf,
		Priority:        &secondPriority,
	})
}

func (e *Engine) emit(t *models.Task) {
	e.sink.Emit(models.EventRecord{
		Timestamp:       t.UpdatedAt,
		TaskID:          t.ID,
		AgentID:         t.AssignedTo,
		Domain:          t.Domain,
		PredictedImpact: t.PredictedImpact,
		ActualImpact:    t.ActualImpact,
		ConfidenceScore: t.ConfidenceScore,
		ExecutionTimeMS: t.ExecutionTimeMS,
		Dependencies:    t.Dependencies,
		Collaboration:   t.Collaborative,
		Status:          t.Status,
		Reason:          t.FailureReason,
	})
	e.metrics.RecordCounter("loc.engine.task_terminal", 1, map[string]string{
		"status": string(t.Status), "domain": t.Domain,
	})
}

// emitLocked is emit called from within an e.mu-held section; eventlog
// sinks and the metrics client are safe for concurrent use on their own,
// so it is identical to emit but named for call-site clarity.
func (e *Engine) emitLocked(t *models.Task) {
	e.emit(t)
}
