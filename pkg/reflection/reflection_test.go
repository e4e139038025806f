package reflection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwstx/cool-LOC/pkg/models"
	"github.com/kwstx/cool-LOC/pkg/registry"
	"github.com/kwstx/cool-LOC/pkg/scoring"
	"github.com/kwstx/cool-LOC/pkg/taskstore"
)

func newHarness(t *testing.T) (*registry.AgentRegistry, *taskstore.TaskStore, *scoring.Scorer) {
	t.Helper()
	valid := func(label string) bool { return label == "analysis" || label == "logic" || label == "creative-writing" }
	return registry.New(valid, nil, nil), taskstore.New(valid, nil, nil), scoring.New(0.2, 16)
}

func defaultCfg() Config {
	return Config{InterferenceCoefficient: 0.15, InterferenceFloor: 0.1, SplitComplexityThreshold: 6}
}

func TestPredictSuccessNoHistoryUsesSkillFit(t *testing.T) {
	reg, store, scorer := newHarness(t)
	m := New(defaultCfg(), store, reg, scorer, nil, nil)

	id, err := reg.Register(models.AgentDescriptor{
		DomainLabels: []string{"analysis"}, SkillScores: map[string]float64{"analysis": 10},
		APIEndpoint: "x", PerformanceData: models.NewPerformanceStats(),
	})
	require.NoError(t, err)
	agent, _ := reg.Get(id)

	task := &models.Task{ID: "t1", Domain: "analysis", Complexity: 5, Priority: 1}
	p := m.PredictSuccess(agent, task)
	// u=1 (no history) => prediction == skillFit == 1.0
	assert.InDelta(t, 1.0, p, 1e-9)
}

func TestPredictSuccessInterferencePenalty(t *testing.T) {
	reg, store, scorer := newHarness(t)
	m := New(defaultCfg(), store, reg, scorer, nil, nil)

	id, _ := reg.Register(models.AgentDescriptor{
		DomainLabels: []string{"analysis"}, SkillScores: map[string]float64{"analysis": 10},
		APIEndpoint: "x", PerformanceData: models.NewPerformanceStats(),
	})
	agent, _ := reg.Get(id)

	blocker, _ := store.Submit(models.TaskSpec{Description: "d", DomainLabel: "logic", ComplexityScore: 3})
	bt, _ := store.Get(blocker)
	bt.Status = models.TaskStatusProcessing
	store.Update(bt)

	task := &models.Task{ID: "t1", Domain: "analysis", Complexity: 5, Priority: 1, InterferedBy: []string{"logic"}}
	p := m.PredictSuccess(agent, task)
	assert.Less(t, p, 1.0)
}

func TestLearnUpdatesRunningStats(t *testing.T) {
	reg, store, scorer := newHarness(t)
	m := New(defaultCfg(), store, reg, scorer, nil, nil)

	id, _ := reg.Register(models.AgentDescriptor{
		DomainLabels: []string{"analysis"}, APIEndpoint: "x", PerformanceData: models.NewPerformanceStats(),
	})

	require.NoError(t, m.Learn(id, "analysis", true, 6))
	require.NoError(t, m.Learn(id, "analysis", false, 0))

	agent, _ := reg.Get(id)
	dp := agent.Performance.Domains["analysis"]
	require.NotNil(t, dp)
	assert.Equal(t, 2, dp.TasksCompleted)
	assert.InDelta(t, 0.5, dp.SuccessRate, 1e-9)
	assert.InDelta(t, 6.0, dp.AverageImpact, 1e-9)
	assert.InDelta(t, 1.0/3.0, dp.Uncertainty, 1e-9)
}

func TestSuggestRemediation(t *testing.T) {
	reg, store, scorer := newHarness(t)
	m := New(defaultCfg(), store, reg, scorer, nil, nil)

	hard := &models.Task{Domain: "analysis", Complexity: 9}
	assert.Equal(t, RemediationSplit, m.SuggestRemediation(hard))

	_, _ = reg.Register(models.AgentDescriptor{DomainLabels: []string{"analysis"}, APIEndpoint: "x1", PerformanceData: models.NewPerformanceStats()})
	_, _ = reg.Register(models.AgentDescriptor{DomainLabels: []string{"analysis"}, APIEndpoint: "x2", PerformanceData: models.NewPerformanceStats()})

	covered := &models.Task{Domain: "analysis", Complexity: 4}
	assert.Equal(t, RemediationCollaborate, m.SuggestRemediation(covered))

	reg2, store2, scorer2 := newHarness(t)
	m2 := New(defaultCfg(), store2, reg2, scorer2, nil, nil)
	_, _ = reg2.Register(models.AgentDescriptor{DomainLabels: []string{"analysis"}, APIEndpoint: "x1", PerformanceData: models.NewPerformanceStats()})
	lonely := &models.Task{Domain: "analysis", Complexity: 4}
	assert.Equal(t, RemediationReroute, m2.SuggestRemediation(lonely))
}

func TestEvaluateAssignmentPicksArgMax(t *testing.T) {
	reg, store, scorer := newHarness(t)
	m := New(defaultCfg(), store, reg, scorer, nil, nil)

	weakID, _ := reg.Register(models.AgentDescriptor{DomainLabels: []string{"analysis"}, SkillScores: map[string]float64{"analysis": 2}, APIEndpoint: "w", PerformanceData: models.NewPerformanceStats()})
	strongID, _ := reg.Register(models.AgentDescriptor{DomainLabels: []string{"analysis"}, SkillScores: map[string]float64{"analysis": 10}, APIEndpoint: "s", PerformanceData: models.NewPerformanceStats()})

	task := &models.Task{ID: "t1", Domain: "analysis", Complexity: 9, Priority: 1}
	best, score := m.EvaluateAssignment(task, nil)
	require.NotNil(t, best)
	assert.Equal(t, strongID, best.ID)
	assert.Greater(t, score, 0.0)
	_ = weakID
}
