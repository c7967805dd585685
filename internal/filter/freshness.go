// Package filter holds the pre-gate run transforms: freshness windowing
// and big-tech tagging. These run on the flattened fetch results before
// identity resolution.
package filter

import (
	"strings"
	"time"

	"github.com/evanchen57/jobsieve/internal/model"
)

// granularity records how precisely a post date could be parsed. Day-level
// dates compare by calendar day so a "posted today" job is never dropped by
// an intra-day cutoff.
type granularity int

const (
	granularityNone granularity = iota
	granularityDay
	granularityExact
)

// parsePostedAt parses the free-form post_date strings adapters emit.
func parsePostedAt(value string) (time.Time, granularity) {
	str := strings.TrimSpace(value)
	if str == "" {
		return time.Time{}, granularityNone
	}

	if t, err := time.Parse("2006-01-02", str); err == nil {
		return t.UTC(), granularityDay
	}
	if t, err := time.Parse(time.RFC3339, str); err == nil {
		return t.UTC(), granularityExact
	}
	if t, err := time.Parse("2006-01-02 15:04:05", str); err == nil {
		return t.UTC(), granularityExact
	}
	return time.Time{}, granularityNone
}

// FreshWithinHours reports whether a post date falls inside the window
// ending at now. Unparseable dates are never fresh.
func FreshWithinHours(value string, hours int, now time.Time) bool {
	t, g := parsePostedAt(value)
	if g == granularityNone {
		return false
	}

	cutoff := now.Add(-time.Duration(hours) * time.Hour)
	if g == granularityDay {
		return t.Format("2006-01-02") >= cutoff.UTC().Format("2006-01-02")
	}
	return !t.Before(cutoff)
}

// FreshnessStats summarizes one freshness pass.
type FreshnessStats struct {
	RawFetched          int  `json:"raw_fetched"`
	KeptFresh           int  `json:"kept_fresh"`
	DroppedOld          int  `json:"dropped_old"`
	DroppedUnknownDate  int  `json:"dropped_unknown_date"`
	FreshnessHours      int  `json:"freshness_hours"`
	AllowUnknownDate    bool `json:"allow_unknown_date"`
}

// ByFreshness keeps jobs posted within the window. Jobs without a post date
// pass only when allowUnknownDate is set. A present but unparseable date
// ("3 days ago") is treated as stale, not unknown.
func ByFreshness(jobs []model.NormalizedJob, hours int, allowUnknownDate bool, now time.Time) ([]model.NormalizedJob, FreshnessStats) {
	stats := FreshnessStats{
		RawFetched:       len(jobs),
		FreshnessHours:   hours,
		AllowUnknownDate: allowUnknownDate,
	}

	kept := make([]model.NormalizedJob, 0, len(jobs))
	for _, job := range jobs {
		if strings.TrimSpace(job.PostDate) == "" {
			if allowUnknownDate {
				kept = append(kept, job)
			} else {
				stats.DroppedUnknownDate++
			}
			continue
		}

		if FreshWithinHours(job.PostDate, hours, now) {
			kept = append(kept, job)
		} else {
			stats.DroppedOld++
		}
	}

	stats.KeptFresh = len(kept)
	return kept, stats
}
