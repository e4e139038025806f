package engine

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwstx/cool-LOC/pkg/collaboration"
	"github.com/kwstx/cool-LOC/pkg/config"
	"github.com/kwstx/cool-LOC/pkg/dispatch"
	"github.com/kwstx/cool-LOC/pkg/eventlog"
	"github.com/kwstx/cool-LOC/pkg/models"
	"github.com/kwstx/cool-LOC/pkg/reflection"
	"github.com/kwstx/cool-LOC/pkg/registry"
	"github.com/kwstx/cool-LOC/pkg/resilience"
	"github.com/kwstx/cool-LOC/pkg/resources"
	"github.com/kwstx/cool-LOC/pkg/scoring"
	"github.com/kwstx/cool-LOC/pkg/taskstore"
)

type fakeDispatcher struct {
	fn func(agent *models.Agent, task *models.Task) (*models.DispatchResult, error)
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, agent *models.Agent, task *models.Task) (*models.DispatchResult, error) {
	return f.fn(agent, task)
}

func testConfig() *config.EngineConfig {
	return &config.EngineConfig{
		TickInterval:             time.Millisecond,
		ValidDomains:             []string{"infra"},
		LowConfidenceThreshold:   0.65,
		DispatchConfidenceFloor:  0.6,
		MaxRetries:               3,
		InterferenceCoefficient:  0.15,
		InterferenceFloor:        0.1,
		SplitComplexityThreshold: 6,
		MinScoreThreshold:        0.2,
		DefaultResourceCapacity:  1,
		TieBreakEpsilon:          0.02,
	}
}

type harness struct {
	cfg     *config.EngineConfig
	agents  *registry.AgentRegistry
	tasks   *taskstore.TaskStore
	arbiter *resources.ResourceArbiter
	scorer  *scoring.Scorer
	reflect *reflection.MetaReflection
	bus     *collaboration.Bus
	sink    *eventlog.MemorySink
	engine  *Engine
}

func newHarness(cfg *config.EngineConfig, dispatcher dispatch.Dispatcher) *harness {
	agents := registry.New(cfg.HasDomain, nil, nil)
	tasks := taskstore.New(cfg.HasDomain, nil, nil)
	arbiter := resources.New(cfg.DefaultResourceCapacity, nil, nil)
	scorer := scoring.New(cfg.MinScoreThreshold, 64)
	reflect := reflection.New(reflection.Config{
		InterferenceCoefficient:  cfg.InterferenceCoefficient,
		InterferenceFloor:        cfg.InterferenceFloor,
		SplitComplexityThreshold: cfg.SplitComplexityThreshold,
	}, tasks, agents, scorer, nil, nil)
	bus := collaboration.New()
	sink := eventlog.NewMemorySink()
	strategies := NewStrategyRegistry("")

	wrapped := resilience.Wrap(dispatcher, resilience.DefaultBreakerConfig(), nil)
	eng := New(cfg, agents, tasks, arbiter, scorer, reflect, bus, wrapped, sink, strategies, nil, nil)
	return &harness{cfg: cfg, agents: agents, tasks: tasks, arbiter: arbiter, scorer: scorer, reflect: reflect, bus: bus, sink: sink, engine: eng}
}

func registerAgent(t *testing.T, h *harness, id string, skill float64) {
	t.Helper()
	_, err := h.agents.Register(models.AgentDescriptor{
		ID:              id,
		DomainLabels:    []string{"infra"},
		SkillScores:     map[string]float64{"infra": skill},
		APIEndpoint:     "svc://" + id,
		PerformanceData: models.NewPerformanceStats(),
	})
	require.NoError(t, err)
}

func submit(t *testing.T, h *harness, complexity float64, priority int) string {
	t.Helper()
	id, err := h.tasks.Submit(models.TaskSpec{
		Description:     "do work",
		DomainLabel:     "infra",
		ComplexityScore: complexity,
		Priority:        &priority,
	})
	require.NoError(t, err)
	return id
}

// waitForStatus polls the store until task reaches one of the wanted
// statuses or the deadline passes, ticking the engine each iteration.
func waitForStatus(t *testing.T, h *harness, taskID string, ticks int, wanted ...models.TaskStatus) *models.Task {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < ticks; i++ {
		h.engine.Tick(ctx)
		task, err := h.tasks.Get(taskID)
		require.NoError(t, err)
		for _, w := range wanted {
			if task.Status == w {
				return task
			}
		}
		time.Sleep(2 * time.Millisecond) // let any in-flight dispatch goroutine commit
	}
	task, err := h.tasks.Get(taskID)
	require.NoError(t, err)
	return task
}

// S1: a dependency cycle fails every member, and a task depending on a
// cyclic member fails by cascade, within a couple of ticks.
func TestSchedulerCyclicChainFailsWithCascade(t *testing.T) {
	dispatcher := &fakeDispatcher{fn: func(a *models.Agent, tk *models.Task) (*models.DispatchResult, error) {
		return &models.DispatchResult{ConfidenceScore: 0.9, ActualImpact: 5}, nil
	}}
	h := newHarness(testConfig(), dispatcher)

	a := submit(t, h, 3, 1)
	b := submit(t, h, 3, 1)
	c := submit(t, h, 3, 1)
	d := submit(t, h, 3, 1)

	ta, _ := h.tasks.Get(a)
	tb, _ := h.tasks.Get(b)
	tc, _ := h.tasks.Get(c)
	td, _ := h.tasks.Get(d)
	ta.Dependencies = []string{b}
	tb.Dependencies = []string{c}
	tc.Dependencies = []string{a}
	td.Dependencies = []string{a}
	h.tasks.Update(ta)
	h.tasks.Update(tb)
	h.tasks.Update(tc)
	h.tasks.Update(td)

	h.engine.Tick(context.Background())

	gotA, _ := h.tasks.Get(a)
	gotB, _ := h.tasks.Get(b)
	gotC, _ := h.tasks.Get(c)
	gotD, _ := h.tasks.Get(d)

	assert.Equal(t, models.TaskStatusFailed, gotA.Status)
	assert.Equal(t, models.ReasonCyclicDependency, gotA.FailureReason)
	assert.Equal(t, models.TaskStatusFailed, gotB.Status)
	assert.Equal(t, models.ReasonCyclicDependency, gotB.FailureReason)
	assert.Equal(t, models.TaskStatusFailed, gotC.Status)
	assert.Equal(t, models.ReasonCyclicDependency, gotC.FailureReason)
	assert.Equal(t, models.TaskStatusFailed, gotD.Status)
	assert.Equal(t, models.ReasonDependencyCascade, gotD.FailureReason)
}

// S2: a single covering agent with a weak skill fit predicts below the
// low-confidence threshold; suggestRemediation has only one covering
// agent so it reroutes, and the task is left pending rather than dispatched.
func TestSchedulerLowConfidenceReroutesLeavesPending(t *testing.T) {
	dispatcher := &fakeDispatcher{fn: func(a *models.Agent, tk *models.Task) (*models.DispatchResult, error) {
		return &models.DispatchResult{ConfidenceScore: 0.9, ActualImpact: 5}, nil
	}}
	cfg := testConfig()
	h := newHarness(cfg, dispatcher)
	registerAgent(t, h, "weak-agent", 1) // skill 1/10 against complexity well above it

	taskID := submit(t, h, 5, 1)
	h.engine.Tick(context.Background())

	task, err := h.tasks.Get(taskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, task.Status)
}

// S2: a dispatch that resolves but with a below-floor confidenceScore is
// treated as a reassignable failure, not a success; once retries exhaust
// across the available agents the task aborts with LOW_CONFIDENCE_ABORT.
func TestSchedulerLowConfidenceResultExhaustsToAbort(t *testing.T) {
	dispatcher := &fakeDispatcher{fn: func(a *models.Agent, tk *models.Task) (*models.DispatchResult, error) {
		return &models.DispatchResult{ConfidenceScore: 0.4, ActualImpact: 1}, nil
	}}
	cfg := testConfig()
	cfg.MaxRetries = 2
	h := newHarness(cfg, dispatcher)
	registerAgent(t, h, "a1", 9)
	registerAgent(t, h, "a2", 9)

	taskID := submit(t, h, 3, 5)

	task := waitForStatus(t, h, taskID, 30, models.TaskStatusFailed)
	assert.Equal(t, models.TaskStatusFailed, task.Status)
	assert.Equal(t, models.ReasonLowConfidenceAbort, task.FailureReason)
	assert.Equal(t, 2, task.RetryCount)
}

// S3: a low-confidence prediction on a task whose complexity exceeds the
// split threshold triggers SPLIT: the parent waits on two half-complexity
// children instead of dispatching.
func TestSchedulerSplitsHighComplexityLowConfidenceTask(t *testing.T) {
	dispatcher := &fakeDispatcher{fn: func(a *models.Agent, tk *models.Task) (*models.DispatchResult, error) {
		return &models.DispatchResult{ConfidenceScore: 0.9, ActualImpact: 5}, nil
	}}
	cfg := testConfig()
	h := newHarness(cfg, dispatcher)
	registerAgent(t, h, "weak-agent", 1)

	taskID := submit(t, h, 8, 1)
	h.engine.Tick(context.Background())

	parent, err := h.tasks.Get(taskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusWaitingForSubtasks, parent.Status)
	require.Len(t, parent.Subtasks, 2)

	for _, childID := range parent.Subtasks {
		child, err := h.tasks.Get(childID)
		require.NoError(t, err)
		assert.Equal(t, 4.0, child.Complexity)
		assert.Equal(t, parent.ID, child.ParentTaskID)
	}
}

// S4: once every sub-task of a parent completes, the SubtaskAggregator
// composes the parent's result from the children's outputs.
func TestSchedulerAggregatesCompletedSubtasks(t *testing.T) {
	dispatcher := &fakeDispatcher{fn: func(a *models.Agent, tk *models.Task) (*models.DispatchResult, error) {
		impact := 4.0
		if tk.Description == "child1" {
			impact = 6.0
		}
		return &models.DispatchResult{ResultData: "ok:" + tk.ID, ConfidenceScore: 0.85, ActualImpact: impact, ExecutionTimeMS: 100}, nil
	}}
	cfg := testConfig()
	h := newHarness(cfg, dispatcher)
	registerAgent(t, h, "a1", 9)

	parentID := submit(t, h, 5, 5)
	parent, err := h.tasks.Get(parentID)
	require.NoError(t, err)

	child1Priority, child2Priority := 5, 5
	child1, err := h.tasks.InjectSubtask(parentID, models.TaskSpec{
		Description: "child1", DomainLabel: "infra", ComplexityScore: 2, Priority: &child1Priority,
	})
	require.NoError(t, err)
	child2, err := h.tasks.InjectSubtask(parentID, models.TaskSpec{
		Description: "child2", DomainLabel: "infra", ComplexityScore: 2, Priority: &child2Priority,
	})
	require.NoError(t, err)

	parent.Status = models.TaskStatusWaitingForSubtasks
	h.tasks.Update(parent)

	// Drive both children to completion, one per tick (one assignment/tick).
	waitForStatus(t, h, child1, 20, models.TaskStatusCompleted, models.TaskStatusFailed)
	waitForStatus(t, h, child2, 20, models.TaskStatusCompleted, models.TaskStatusFailed)

	got, err := h.tasks.Get(parentID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	assert.Equal(t, models.AggregatorSystem, got.AssignedTo)
	assert.InDelta(t, 0.85, got.ConfidenceScore, 1e-9)
	assert.InDelta(t, 5.0, got.ActualImpact, 1e-9)
	assert.Equal(t, int64(200), got.ExecutionTimeMS)
}

// S5: an exclusive resource can only be held by one in-flight task at a
// time; a second task requesting it fails to acquire and stays pending
// until the first releases.
func TestSchedulerExclusiveResourceBlocksSecondTask(t *testing.T) {
	release := make(chan struct{})
	dispatcher := &fakeDispatcher{fn: func(a *models.Agent, tk *models.Task) (*models.DispatchResult, error) {
		<-release
		return &models.DispatchResult{ConfidenceScore: 0.9, ActualImpact: 5}, nil
	}}
	cfg := testConfig()
	h := newHarness(cfg, dispatcher)
	registerAgent(t, h, "a1", 9)
	registerAgent(t, h, "a2", 9)
	h.arbiter.Register("db-lock", models.ResourceExclusive, 1)

	spec := func(priority int) models.TaskSpec {
		return models.TaskSpec{
			Description: "needs lock", DomainLabel: "infra", ComplexityScore: 3, Priority: &priority,
			ResourceRequirements: map[string]models.ResourceMode{"db-lock": models.ResourceExclusive},
		}
	}
	p1, p2 := 6, 5 // `first` outranks `second`, so the first tick picks it
	first, err := h.tasks.Submit(spec(p1))
	require.NoError(t, err)
	second, err := h.tasks.Submit(spec(p2))
	require.NoError(t, err)

	ctx := context.Background()
	h.engine.Tick(ctx) // dispatches `first`, blocks inside the fake dispatcher
	time.Sleep(5 * time.Millisecond)
	h.engine.Tick(ctx) // should fail to acquire db-lock for `second`

	firstTask, _ := h.tasks.Get(first)
	secondTask, _ := h.tasks.Get(second)
	assert.Equal(t, models.TaskStatusProcessing, firstTask.Status)
	assert.Equal(t, models.TaskStatusPending, secondTask.Status)

	close(release)
	h.engine.wg.Wait()
}

// S6: a dispatcher that always returns a structurally malformed result
// (non-finite confidence) never produces a successful completion; once
// retries are exhausted the task fails terminally.
func TestSchedulerExhaustsRetriesOnMalformedResult(t *testing.T) {
	dispatcher := &fakeDispatcher{fn: func(a *models.Agent, tk *models.Task) (*models.DispatchResult, error) {
		return &models.DispatchResult{ConfidenceScore: math.NaN()}, nil
	}}
	cfg := testConfig()
	cfg.MaxRetries = 1
	h := newHarness(cfg, dispatcher)
	registerAgent(t, h, "a1", 9)

	taskID := submit(t, h, 3, 5)

	task := waitForStatus(t, h, taskID, 20, models.TaskStatusFailed)
	assert.Equal(t, models.TaskStatusFailed, task.Status)
	assert.Equal(t, models.ReasonMaxRetriesExhausted, task.FailureReason)
}
