package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/evanchen57/jobsieve/internal/model"
	"github.com/evanchen57/jobsieve/internal/store"
)

// Resolver is the identity & dedup engine: it maps a NormalizedJob onto
// exactly one job_queue row, inserting or updating as needed.
type Resolver struct {
	store  *store.Store
	logger *slog.Logger
}

// NewResolver creates a resolver backed by the given store.
func NewResolver(st *store.Store, logger *slog.Logger) *Resolver {
	return &Resolver{store: st, logger: logger}
}

// Resolution is the outcome of resolving one job's identity.
type Resolution struct {
	JobID       int64
	Deduped     bool
	Fingerprint model.Fingerprint
}

// ErrInvalidJob is returned for jobs missing their required identity fields.
var ErrInvalidJob = fmt.Errorf("job missing company or title")

// Resolve finds or creates the job_queue row for a posting. Matching
// precedence: canonical fingerprint, then the composite of normalized
// identity keys, then the legacy company+title+url triple. A matched row
// has its mutable fields refreshed; terminal workflow statuses survive. A
// provenance observation is appended either way.
func (r *Resolver) Resolve(ctx context.Context, job model.NormalizedJob, runID int64) (Resolution, error) {
	if !job.Valid() {
		return Resolution{}, ErrInvalidJob
	}
	n := job.Normalize()
	rec := r.buildRecord(n, runID)

	ref, matched, err := r.lookup(ctx, rec, n)
	if err != nil {
		return Resolution{}, err
	}

	res := Resolution{Fingerprint: model.Fingerprint{Value: rec.CanonicalFingerprint, Reason: rec.DedupReason}}
	if matched {
		res.JobID = ref.ID
		res.Deduped = true
		if err := r.store.UpdateJobOnDedup(ctx, ref.ID, rec); err != nil {
			return Resolution{}, err
		}
	} else {
		id, inserted, err := r.store.InsertJob(ctx, rec)
		if err != nil {
			return Resolution{}, err
		}
		if inserted {
			res.JobID = id
		} else {
			// Another writer inserted the same identity between our lookup
			// and insert. Re-resolve and fall back to an update, keeping at
			// most one row per fingerprint.
			ref, matched, err = r.lookup(ctx, rec, n)
			if err != nil {
				return Resolution{}, err
			}
			if !matched {
				return Resolution{}, fmt.Errorf("resolving %q at %q: insert conflicted but no row found", n.Title, n.Company)
			}
			res.JobID = ref.ID
			res.Deduped = true
			if err := r.store.UpdateJobOnDedup(ctx, ref.ID, rec); err != nil {
				return Resolution{}, err
			}
		}
	}

	if err := r.store.AddObservation(ctx, model.SourceObservation{
		JobID:        res.JobID,
		RunID:        runID,
		Source:       n.Source,
		SourceJobKey: SourceJobKey(n),
		RawPostDate:  n.PostDate,
		PayloadHash:  PayloadHash(n),
	}); err != nil {
		return Resolution{}, err
	}

	eventType := model.EventIngested
	message := "Inserted as new job"
	if res.Deduped {
		eventType = model.EventDeduped
		message = "Matched existing job via " + rec.DedupReason
	}
	if err := r.store.AddEvent(ctx, res.JobID, runID, eventType, message, map[string]any{
		"fingerprint":    rec.CanonicalFingerprint,
		"dedup_reason":   rec.DedupReason,
		"source":         n.Source,
		"source_job_key": SourceJobKey(n),
	}); err != nil {
		return Resolution{}, err
	}

	return res, nil
}

// lookup applies the three-tier matching precedence; first hit wins.
func (r *Resolver) lookup(ctx context.Context, rec *model.JobRecord, n model.NormalizedJob) (store.JobRef, bool, error) {
	ref, ok, err := r.store.FindJobByFingerprint(ctx, rec.CanonicalFingerprint)
	if err != nil || ok {
		return ref, ok, err
	}
	ref, ok, err = r.store.FindJobByCompositeKeys(ctx, rec.CompanyKey, rec.TitleKey, rec.LocationKey, rec.PostDateKey)
	if err != nil || ok {
		return ref, ok, err
	}
	return r.store.FindJobByLegacyKeys(ctx, n.Company, n.Title, n.URL)
}

func (r *Resolver) buildRecord(n model.NormalizedJob, runID int64) *model.JobRecord {
	fp := BuildFingerprint(n)
	return &model.JobRecord{
		Company:              n.Company,
		Title:                n.Title,
		Location:             n.Location,
		PostDate:             n.PostDate,
		Source:               n.Source,
		URL:                  n.URL,
		JDText:               n.JDText,
		CompanyKey:           lowerKey(n.Company),
		TitleKey:             lowerKey(n.Title),
		LocationKey:          lowerKey(n.Location),
		PostDateKey:          n.PostDate,
		CanonicalFingerprint: fp.Value,
		DedupReason:          fp.Reason,
		YearsReq:             ExtractYearsRequirement(n.JDText),
		IsBigTech:            n.IsBigTech,
		LastRunID:            runID,
	}
}
