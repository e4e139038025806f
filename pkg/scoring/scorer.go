// Package scoring implements the Compatibility Scorer component (spec
// §4.4): a scalar (agent, task) -> [0,1] score combining domain match,
// skill fit, history and a reliability buffer. Scoring and Meta-Reflection
// are kept as separate pure functions of (agent, task, history snapshot)
// per spec §9, so each is independently testable.
package scoring

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kwstx/cool-LOC/pkg/models"
)

// Scorer computes compatibility scores, caching the per-(agent,domain)
// skill-fit base value so repeated scoring within a tick over the same
// ready queue doesn't re-walk an agent's skill map every time.
type Scorer struct {
	minThreshold float64
	skillCache   *lru.Cache[string, float64]
}

// New creates a Scorer that rejects candidates scoring below
// minThreshold (spec §4.4, default 0.2).
func New(minThreshold float64, cacheSize int) *Scorer {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, _ := lru.New[string, float64](cacheSize)
	return &Scorer{minThreshold: minThreshold, skillCache: cache}
}

func cacheKey(agentID, domain string) string { return agentID + "|" + domain }

// Invalidate drops the cached skill-fit base value for (agentID, domain),
// called after a learning update touches that pairing.
func (s *Scorer) Invalidate(agentID, domain string) {
	s.skillCache.Remove(cacheKey(agentID, domain))
}

func (s *Scorer) skillFor(agent *models.Agent, domain string) float64 {
	key := cacheKey(agent.ID, domain)
	if v, ok := s.skillCache.Get(key); ok {
		return v
	}
	v := agent.SkillFor(domain)
	s.skillCache.Add(key, v)
	return v
}

// Score computes the compatibility score for (agent, task). ok is false
// when the score falls below the configured threshold, meaning the
// caller must treat the agent as rejected (spec §4.4: "returns nil").
func (s *Scorer) Score(agent *models.Agent, task *models.Task) (score float64, ok bool) {
	domainMatch := 0.0
	if agent.HasDomain(task.Domain) {
		domainMatch = 1.0
	}

	skillFit := s.SkillFit(agent, task)

	successRate := 0.5
	if agent.Performance != nil && agent.Performance.TasksCompleted > 0 {
		successRate = agent.Performance.SuccessRate
	}

	reliability := 0.5*min1(float64(tasksCompleted(agent))/50) + 0.5*(float64(task.Priority)/10)

	total := 0.4*domainMatch + 0.3*skillFit + 0.2*successRate + 0.1*reliability

	if total < s.minThreshold {
		return 0, false
	}
	return total, true
}

// SkillFit computes the 30%-weighted skill-vs-complexity component used
// by both Score and Meta-Reflection's predictSuccess (spec §4.4/§4.5):
// 1.0 once normalized skill meets normalized complexity, otherwise the
// ratio between them.
func (s *Scorer) SkillFit(agent *models.Agent, task *models.Task) float64 {
	skill := s.skillFor(agent, task.Domain)
	ns := skill / 10
	nc := task.Complexity / 10
	if nc <= 0 || ns >= nc {
		return 1.0
	}
	return ns / nc
}

func tasksCompleted(agent *models.Agent) int {
	if agent.Performance == nil {
		return 0
	}
	return agent.Performance.TasksCompleted
}

func min1(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}
