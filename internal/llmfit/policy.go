package llmfit

import "github.com/evanchen57/jobsieve/internal/model"

// Plan decides, per borderline job, whether to classify synchronously or
// queue for batch. The decision is fixed once at the start of a run from
// the expected number of LLM-eligible jobs.
type Plan struct {
	mode      model.LLMMode
	useBatch  bool
	syncQuota int
}

// PlanRun builds the routing plan for a run expecting roughly expected
// LLM-eligible jobs. Under auto mode, small runs stay synchronous; large
// runs send everything to batch except the first few jobs, which remain
// synchronous so the run surfaces some verdicts immediately.
func (c *Classifier) PlanRun(mode model.LLMMode, expected int) Plan {
	switch mode {
	case model.ModeRealtime:
		return Plan{mode: mode}
	case model.ModeBatch:
		return Plan{mode: mode, useBatch: true}
	default:
		if expected < c.cfg.BatchThreshold {
			return Plan{mode: model.ModeAuto}
		}
		return Plan{mode: model.ModeAuto, useBatch: true, syncQuota: c.cfg.BatchFallback}
	}
}

// UseSync reports whether the ordinal-th LLM-eligible job of the run
// (zero-based) should take the synchronous path.
func (p Plan) UseSync(ordinal int) bool {
	if !p.useBatch {
		return true
	}
	return ordinal < p.syncQuota
}

// Batching reports whether the plan routes any jobs to the batch API.
func (p Plan) Batching() bool { return p.useBatch }
