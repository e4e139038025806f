// Package reflection implements the Meta-Reflection component (spec
// §4.5): predicted success and impact, the domain-level learning update,
// the interference adjustment, and the SPLIT/COLLABORATE/REROUTE
// remediation selector. It is a strategy selector, never a dispatcher:
// every method here is a pure function of (agent, task, history
// snapshot) plus the one mutating exception, learn(), which is the sole
// writer of an agent's performance stats (spec §9 design note).
package reflection

import (
	"sort"

	"github.com/kwstx/cool-LOC/pkg/models"
	"github.com/kwstx/cool-LOC/pkg/observability"
)

// Remediation is the scheduler's response to a low-prediction assignment.
type Remediation string

const (
	RemediationSplit       Remediation = "SPLIT"
	RemediationCollaborate Remediation = "COLLABORATE"
	RemediationReroute     Remediation = "REROUTE"
)

// TaskLister exposes the task snapshot Meta-Reflection needs to find
// active interferers and compute domain-wide impact averages.
type TaskLister interface {
	All() []*models.Task
}

// AgentSource exposes the agent operations Meta-Reflection needs.
type AgentSource interface {
	IdleAgents(excludeIDs map[string]bool) []*models.Agent
	List() []*models.Agent
	UpdatePerformance(id string, fn func(*models.PerformanceStats)) error
}

// SkillFitter isolates the scorer's skill-fit component so it can be
// reused without pulling in the whole scoring weighting.
type SkillFitter interface {
	SkillFit(agent *models.Agent, task *models.Task) float64
	Invalidate(agentID, domain string)
}

// Config parameterizes the interference penalty and remediation
// thresholds (spec §4.5, defaults per SPEC_FULL §10.4).
type Config struct {
	InterferenceCoefficient  float64
	InterferenceFloor        float64
	SplitComplexityThreshold float64
}

// MetaReflection implements predictSuccess, evaluateAssignment,
// predictImpact, learn and suggestRemediation.
type MetaReflection struct {
	cfg     Config
	tasks   TaskLister
	agents  AgentSource
	scorer  SkillFitter
	logger  observability.Logger
	metrics observability.MetricsClient
}

// New creates a MetaReflection bound to the given task/agent views and
// skill-fit scorer.
func New(cfg Config, tasks TaskLister, agents AgentSource, scorer SkillFitter, logger observability.Logger, metrics observability.MetricsClient) *MetaReflection {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoOpMetricsClient()
	}
	return &MetaReflection{cfg: cfg, tasks: tasks, agents: agents, scorer: scorer, logger: logger, metrics: metrics}
}

// activeInterferers returns the tasks currently processing or completed
// whose domain appears in task.InterferedBy (spec §4.5).
func (m *MetaReflection) activeInterferers(task *models.Task) []*models.Task {
	if len(task.InterferedBy) == 0 {
		return nil
	}
	interferes := make(map[string]bool, len(task.InterferedBy))
	for _, d := range task.InterferedBy {
		interferes[d] = true
	}

	var found []*models.Task
	for _, t := range m.tasks.All() {
		if t.ID == task.ID {
			continue
		}
		if t.Status != models.TaskStatusProcessing && t.Status != models.TaskStatusCompleted {
			continue
		}
		if interferes[t.Domain] {
			found = append(found, t)
		}
	}
	return found
}

// PredictSuccess blends an agent's domain track record with raw skill
// fit, weighted by how much history backs the track record, then
// subtracts an interference penalty (spec §4.5).
func (m *MetaReflection) PredictSuccess(agent *models.Agent, task *models.Task) float64 {
	dp := agent.Performance.DomainOrDefault(task.Domain)

	u := dp.Uncertainty
	if u <= 0 {
		u = 1.0 / float64(dp.TasksCompleted+1)
	}

	skillFit := m.scorer.SkillFit(agent, task)
	prediction := dp.SuccessRate*(1-u) + skillFit*u

	interferers := m.activeInterferers(task)
	if len(interferers) > 0 {
		penalty := m.cfg.InterferenceCoefficient * float64(len(interferers))
		prediction -= penalty
		if prediction < m.cfg.InterferenceFloor {
			prediction = m.cfg.InterferenceFloor
		}
		m.logger.Info("INTERFERENCE_DETECTED", map[string]interface{}{
			"task_id":          task.ID,
			"agent_id":         agent.ID,
			"interferer_count": len(interferers),
		})
	}

	return prediction
}

// ScoredAgent pairs a candidate agent with its predicted success for a
// specific task, ordered best-first by Candidates.
type ScoredAgent struct {
	Agent *models.Agent
	Score float64
}

// Candidates returns every idle, non-excluded agent for task with its
// predicted success, sorted best-first. The scheduler's StrategyRegistry
// uses the full ordering to find near-tied top candidates (SPEC_FULL §12);
// EvaluateAssignment uses only the head.
func (m *MetaReflection) Candidates(task *models.Task, excludeAgentIDs map[string]bool) []ScoredAgent {
	agents := m.agents.IdleAgents(excludeAgentIDs)
	out := make([]ScoredAgent, 0, len(agents))
	for _, agent := range agents {
		out = append(out, ScoredAgent{Agent: agent, Score: m.PredictSuccess(agent, task)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// EvaluateAssignment finds the idle, non-excluded agent with the highest
// predicted success for task (spec §4.5).
func (m *MetaReflection) EvaluateAssignment(task *models.Task, excludeAgentIDs map[string]bool) (*models.Agent, float64) {
	candidates := m.Candidates(task, excludeAgentIDs)
	if len(candidates) == 0 {
		return nil, 0
	}
	return candidates[0].Agent, candidates[0].Score
}

// PredictImpact estimates a task's expected business impact before
// dispatch (spec §4.5).
func (m *MetaReflection) PredictImpact(task *models.Task) float64 {
	baseImpact := task.Complexity
	prioMul := 1 + float64(task.Priority)/10

	var weightedSum, weight float64
	for _, agent := range m.agents.List() {
		if agent.Performance == nil {
			continue
		}
		for _, dp := range agent.Performance.Domains {
			weightedSum += dp.AverageImpact * float64(dp.TasksCompleted)
			weight += float64(dp.TasksCompleted)
		}
	}
	domAvg := 5.0
	if weight > 0 {
		domAvg = weightedSum / weight
	}

	return 0.6*baseImpact*prioMul + 0.4*domAvg
}

// Learn applies a completed or failed dispatch's outcome to the agent's
// domain performance (spec §4.5). It is the only method in the package
// that mutates state.
func (m *MetaReflection) Learn(agentID, domain string, success bool, impact float64) error {
	err := m.agents.UpdatePerformance(agentID, func(perf *models.PerformanceStats) {
		if perf.Domains == nil {
			perf.Domains = make(map[string]*models.DomainPerformance)
		}
		dp, ok := perf.Domains[domain]
		if !ok {
			dp = &models.DomainPerformance{SuccessRate: 0.5}
			perf.Domains[domain] = dp
		}

		outcome := 0.0
		if success {
			outcome = 1.0
		}

		priorDomainSuccesses := dp.SuccessRate * float64(dp.TasksCompleted)
		dp.TasksCompleted++
		domainSuccesses := priorDomainSuccesses + outcome
		dp.SuccessRate = domainSuccesses / float64(dp.TasksCompleted)
		if success {
			dp.AverageImpact = (dp.AverageImpact*(domainSuccesses-1) + impact) / domainSuccesses
		}
		dp.Uncertainty = 1.0 / float64(dp.TasksCompleted+1)
		dp.Confidence = 0.7*dp.SuccessRate + 0.3*(1-dp.Uncertainty)

		priorGlobalSuccesses := perf.SuccessRate * float64(perf.TasksCompleted)
		perf.TasksCompleted++
		globalSuccesses := priorGlobalSuccesses + outcome
		perf.SuccessRate = globalSuccesses / float64(perf.TasksCompleted)
		if success {
			perf.AverageImpact = (perf.AverageImpact*(globalSuccesses-1) + impact) / globalSuccesses
		}
	})
	if err != nil {
		return err
	}
	m.scorer.Invalidate(agentID, domain)
	m.metrics.RecordGauge("loc.learning.success", boolToFloat(success), map[string]string{"domain": domain})
	return nil
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// SuggestRemediation picks SPLIT, COLLABORATE or REROUTE for a task that
// scored below the low-confidence threshold (spec §4.5).
func (m *MetaReflection) SuggestRemediation(task *models.Task) Remediation {
	if task.Complexity > m.cfg.SplitComplexityThreshold {
		return RemediationSplit
	}

	covering := 0
	for _, agent := range m.agents.List() {
		if agent.HasDomain(task.Domain) {
			covering++
		}
	}
	if covering >= 2 {
		return RemediationCollaborate
	}
	return RemediationReroute
}
