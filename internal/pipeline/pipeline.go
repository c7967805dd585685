// Package pipeline runs ingestion end to end: fan out to the sources,
// resolve identity, gate, classify, and finalize the run row. One
// TriggerRun call is one IngestionRun.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/evanchen57/jobsieve/internal/budget"
	"github.com/evanchen57/jobsieve/internal/filter"
	"github.com/evanchen57/jobsieve/internal/gate"
	"github.com/evanchen57/jobsieve/internal/ingest"
	"github.com/evanchen57/jobsieve/internal/llmfit"
	"github.com/evanchen57/jobsieve/internal/model"
	"github.com/evanchen57/jobsieve/internal/notifier"
	"github.com/evanchen57/jobsieve/internal/store"
)

// ErrFamilyBusy is returned when a run of the same family is already in
// flight. Different families run concurrently; same-family runs never
// overlap.
var ErrFamilyBusy = fmt.Errorf("a run of this family is already in progress")

// SearchSource is a budget-limited search adapter built fresh for each
// search run; Used reports the billed queries it actually spent.
type SearchSource interface {
	model.SourceAdapter
	Used() int
}

// Options configures the orchestrator.
type Options struct {
	Profile          model.Profile
	Gate             gate.Options
	Mode             model.LLMMode
	FreshnessHours   int
	AllowUnknownDate bool
	CoreSources      []model.SourceAdapter
	BigTechSources   []model.SourceAdapter
	NewSearchSource  func(runBudget int) SearchSource
	Notifiers        []notifier.Notifier
}

// Orchestrator owns run execution, the per-family exclusion flags, and the
// live progress snapshots.
type Orchestrator struct {
	store      *store.Store
	resolver   *ingest.Resolver
	classifier *llmfit.Classifier
	serpAlloc  *budget.SerpAllocator
	opts       Options
	logger     *slog.Logger

	familyMu map[model.RunFamily]*atomic.Bool

	progMu   sync.Mutex
	progress map[int64]*model.ProgressSnapshot
	admitted map[int64][]int64 // run id -> jobs newly admitted to inbox
}

// New wires an orchestrator. serpAlloc may be nil when the search family is
// not configured.
func New(st *store.Store, resolver *ingest.Resolver, classifier *llmfit.Classifier, serpAlloc *budget.SerpAllocator, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.FreshnessHours < 1 {
		opts.FreshnessHours = 24
	}
	if opts.Mode == "" {
		opts.Mode = model.ModeAuto
	}
	return &Orchestrator{
		store:      st,
		resolver:   resolver,
		classifier: classifier,
		serpAlloc:  serpAlloc,
		opts:       opts,
		logger:     logger,
		familyMu: map[model.RunFamily]*atomic.Bool{
			model.FamilyCore:    {},
			model.FamilySearch:  {},
			model.FamilyBigTech: {},
			model.FamilyCleanup: {},
		},
		progress: make(map[int64]*model.ProgressSnapshot),
		admitted: make(map[int64][]int64),
	}
}

// fetchResult is one source's contribution, kept in declaration order.
type fetchResult struct {
	source string
	jobs   []model.NormalizedJob
	err    error
}

// TriggerRun executes one run of the given family. mode overrides the
// configured LLM routing when non-empty. The returned summary is also
// persisted on the run row.
func (o *Orchestrator) TriggerRun(ctx context.Context, family model.RunFamily, trigger string, mode model.LLMMode) (*model.RunSummary, error) {
	lock, ok := o.familyMu[family]
	if !ok {
		return nil, fmt.Errorf("unknown run family %q", family)
	}
	if !lock.CompareAndSwap(false, true) {
		return nil, ErrFamilyBusy
	}
	defer lock.Store(false)

	if mode == "" {
		mode = o.opts.Mode
	}

	runID, err := o.store.CreateRun(ctx, trigger)
	if err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}
	o.logger.Info("run started", "run_id", runID, "family", family, "trigger", trigger, "mode", mode)

	if family == model.FamilyCleanup {
		return o.runCleanup(ctx, runID)
	}

	summary := &model.RunSummary{RunID: runID, Family: family}

	var searchUsed func() int
	results := o.fetchSources(ctx, family, &searchUsed)

	var jobs []model.NormalizedJob
	for _, res := range results {
		sb := model.SourceBreakdown{Source: res.source, Fetched: len(res.jobs)}
		if res.err != nil {
			sb.Error = res.err.Error()
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", res.source, res.err))
		}
		summary.Sources = append(summary.Sources, sb)
		jobs = append(jobs, res.jobs...)
	}
	summary.Totals.Fetched = len(jobs)

	if family == model.FamilyBigTech {
		for i := range jobs {
			jobs[i].IsBigTech = true
		}
	}
	jobs, fresh := filter.ByFreshness(jobs, o.opts.FreshnessHours, o.opts.AllowUnknownDate, time.Now())
	summary.DroppedOld = fresh.DroppedOld
	summary.DroppedDate = fresh.DroppedUnknownDate

	o.trackProgress(runID, len(jobs))
	defer o.untrackProgress(runID)

	escalations := o.processJobs(ctx, runID, jobs, summary)
	o.classifyEscalations(ctx, runID, mode, escalations, summary)

	if searchUsed != nil && o.serpAlloc != nil {
		if err := o.serpAlloc.Record(ctx, runID, searchUsed(), "search run"); err != nil {
			o.logger.Warn("recording search usage failed", "run_id", runID, "error", err)
		}
	}

	o.notifyAdmitted(ctx, runID)

	return o.finalize(ctx, runID, summary)
}

// fetchSources fans out to every adapter of the family concurrently and
// returns the results in declaration order. A failing source contributes
// an empty list plus its error; it never aborts the run.
func (o *Orchestrator) fetchSources(ctx context.Context, family model.RunFamily, searchUsed *func() int) []fetchResult {
	var adapters []model.SourceAdapter
	switch family {
	case model.FamilyCore:
		adapters = o.opts.CoreSources
	case model.FamilyBigTech:
		adapters = o.opts.BigTechSources
	case model.FamilySearch:
		if o.opts.NewSearchSource == nil || o.serpAlloc == nil {
			return []fetchResult{{source: "serpapi", err: fmt.Errorf("search family not configured")}}
		}
		b, err := o.serpAlloc.RunBudget(ctx)
		if err != nil {
			return []fetchResult{{source: "serpapi", err: fmt.Errorf("computing search budget: %w", err)}}
		}
		search := o.opts.NewSearchSource(b.PerRunLimit)
		*searchUsed = search.Used
		adapters = []model.SourceAdapter{search}
	}

	results := make([]fetchResult, len(adapters))
	var wg sync.WaitGroup
	for i, a := range adapters {
		wg.Add(1)
		go func(i int, a model.SourceAdapter) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[i] = fetchResult{source: a.Name(), err: fmt.Errorf("source panicked: %v", r)}
				}
			}()
			jobs, err := a.FetchAll(ctx)
			results[i] = fetchResult{source: a.Name(), jobs: jobs, err: err}
		}(i, a)
	}
	wg.Wait()
	return results
}

// escalation is one borderline job awaiting the classifier.
type escalation struct {
	jobID    int64
	job      model.NormalizedJob
	admitted bool // final inbox admission after classification
}

// processJobs resolves and gates every fetched job sequentially. Gate
// verdicts are persisted immediately; borderline jobs are returned for the
// classification stage. Per-job failures count toward totals and never
// abort the loop.
func (o *Orchestrator) processJobs(ctx context.Context, runID int64, jobs []model.NormalizedJob, summary *model.RunSummary) []*escalation {
	var escalations []*escalation
	for i, job := range jobs {
		o.stepProgress(runID, i+1, summary.Totals)

		res, err := o.resolver.Resolve(ctx, job, runID)
		if err != nil {
			if err == ingest.ErrInvalidJob {
				summary.Totals.Skipped++
			} else {
				summary.Totals.Failed++
				summary.Errors = append(summary.Errors, fmt.Sprintf("resolve %s @ %s: %v", job.Title, job.Company, err))
			}
			continue
		}
		if res.Deduped {
			summary.Totals.Deduped++
		} else {
			summary.Totals.Inserted++
		}

		verdict := gate.Evaluate(job.Normalize(), o.opts.Profile, o.opts.Gate)
		if err := o.store.ApplyGateResult(ctx, res.JobID, runID, verdict.FitScore, verdict.FitLabel, verdict.QualityBucket, verdict.AdmittedToInbox, verdict.ReasonCodes); err != nil {
			summary.Totals.Failed++
			summary.Errors = append(summary.Errors, fmt.Sprintf("gate %s @ %s: %v", job.Title, job.Company, err))
			continue
		}

		switch verdict.QualityBucket {
		case model.BucketHigh:
			summary.Quality.High++
		case model.BucketBorderline:
			summary.Quality.Borderline++
		case model.BucketFiltered:
			summary.Quality.Filtered++
		}

		if verdict.NeedsLLM {
			escalations = append(escalations, &escalation{jobID: res.JobID, job: job.Normalize(), admitted: verdict.AdmittedToInbox})
		} else if verdict.AdmittedToInbox && !res.Deduped {
			// High-bucket inserts are announced without classifier input.
			o.rememberAdmission(runID, res.JobID)
		}
	}
	return escalations
}

// classifyEscalations routes the borderline jobs through the classifier
// per the mode policy, then flushes anything buffered for batch.
func (o *Orchestrator) classifyEscalations(ctx context.Context, runID int64, mode model.LLMMode, escalations []*escalation, summary *model.RunSummary) {
	if len(escalations) == 0 {
		return
	}
	plan := o.classifier.PlanRun(mode, len(escalations))

	for i, e := range escalations {
		if plan.UseSync(i) {
			o.classifySync(ctx, runID, e, summary)
			continue
		}

		outcome, err := o.classifier.QueueBatch(ctx, runID, e.jobID, e.job, o.opts.Profile)
		if err != nil {
			summary.LLM.Skipped++
			summary.Errors = append(summary.Errors, fmt.Sprintf("queue %s @ %s: %v", e.job.Title, e.job.Company, err))
			continue
		}
		if !outcome.Skipped {
			// Cache hit: apply directly, no batch slot spent.
			o.applyVerdict(ctx, runID, e, outcome.Fit, summary)
			summary.LLM.CacheHits++
			continue
		}
		if outcome.SkipReason != llmfit.SkipBatchQueued {
			// Keep the deterministic-gate decision.
			summary.LLM.Skipped++
			if err := o.store.AddEvent(ctx, e.jobID, runID, model.EventSyncFailed,
				"classifier skipped: "+outcome.SkipReason, nil); err != nil {
				o.logger.Warn("recording skip event failed", "job_id", e.jobID, "error", err)
			}
			continue
		}
		if err := o.store.MarkPendingLLM(ctx, e.jobID, runID, outcome.CustomID); err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("pending %s @ %s: %v", e.job.Title, e.job.Company, err))
			continue
		}
		// Optimistic admission while the batch verdict is outstanding.
		e.admitted = true
		summary.Quality.PendingLLM++
		summary.LLM.BatchQueued++
	}

	if plan.Batching() {
		_, flushed, err := o.classifier.FlushBatch(ctx, runID)
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("batch flush: %v", err))
		}
		summary.LLM.BatchFlushed = flushed
	}
}

func (o *Orchestrator) classifySync(ctx context.Context, runID int64, e *escalation, summary *model.RunSummary) {
	outcome := o.classifier.Classify(ctx, e.job, o.opts.Profile, runID)
	if outcome.Skipped {
		// Keep the deterministic-gate decision.
		summary.LLM.Skipped++
		if err := o.store.AddEvent(ctx, e.jobID, runID, model.EventSyncFailed,
			"classifier skipped: "+outcome.SkipReason, nil); err != nil {
			o.logger.Warn("recording skip event failed", "job_id", e.jobID, "error", err)
		}
		return
	}
	if outcome.Fit.Cached {
		summary.LLM.CacheHits++
	} else {
		summary.LLM.SyncCalls++
	}
	o.applyVerdict(ctx, runID, e, outcome.Fit, summary)
}

func (o *Orchestrator) applyVerdict(ctx context.Context, runID int64, e *escalation, fit model.FitResult, summary *model.RunSummary) {
	admitted := fit.Admitted(o.classifier.AdmitThreshold())
	if err := o.store.ApplyLLMFit(ctx, e.jobID, runID, fit, admitted); err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("apply fit to job %d: %v", e.jobID, err))
		return
	}
	e.admitted = admitted
	if admitted {
		summary.Quality.High++
		o.rememberAdmission(runID, e.jobID)
	} else {
		summary.Quality.Filtered++
	}
	if summary.Quality.Borderline > 0 {
		summary.Quality.Borderline--
	}
}

// finalize computes the run status, persists the summary, and logs the
// outcome. Status: success with no errors; partial when errors occurred but
// work landed; failed when nothing did.
func (o *Orchestrator) finalize(ctx context.Context, runID int64, summary *model.RunSummary) (*model.RunSummary, error) {
	switch {
	case len(summary.Errors) == 0:
		summary.Status = model.RunSuccess
	case summary.Totals.Inserted > 0 || summary.Totals.Deduped > 0 ||
		summary.LLM.BatchQueued > 0 || summary.LLM.CacheHits > 0 ||
		summary.Quality.High > 0 || summary.Quality.Filtered > 0:
		summary.Status = model.RunPartial
	default:
		summary.Status = model.RunFailed
	}

	payload, err := json.Marshal(summary)
	if err != nil {
		return summary, fmt.Errorf("marshaling run summary: %w", err)
	}
	errorText := ""
	if summary.Status == model.RunFailed && len(summary.Errors) > 0 {
		errorText = summary.Errors[0]
	}
	if err := o.store.FinalizeRun(ctx, runID, summary.Status, string(payload), errorText); err != nil {
		return summary, fmt.Errorf("finalizing run %d: %w", runID, err)
	}

	o.logger.Info("run finished",
		"run_id", runID,
		"status", summary.Status,
		"fetched", summary.Totals.Fetched,
		"inserted", summary.Totals.Inserted,
		"deduped", summary.Totals.Deduped,
		"failed", summary.Totals.Failed,
		"errors", len(summary.Errors),
	)
	return summary, nil
}

// Reconcile polls outstanding batches; it is run-independent and called by
// the daemon's reconcile timer or the CLI.
func (o *Orchestrator) Reconcile(ctx context.Context) (llmfit.ReconcileStats, error) {
	return o.classifier.Reconcile(ctx)
}
