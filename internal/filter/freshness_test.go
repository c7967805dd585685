package filter

import (
	"testing"
	"time"

	"github.com/evanchen57/jobsieve/internal/model"
)

func TestFreshWithinHours(t *testing.T) {
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value string
		hours int
		want  bool
	}{
		{"exact timestamp inside window", "2026-08-29T02:00:00Z", 24, true},
		{"exact timestamp outside window", "2026-08-27T09:00:00Z", 24, false},
		{"space-separated datetime inside window", "2026-08-28 20:00:00", 24, true},
		// Day-granularity dates compare by calendar day: a job posted
		// "yesterday" survives a 24h window even though midnight is more
		// than 24 hours before now.
		{"day date on cutoff day kept", "2026-08-28", 24, true},
		{"day date today kept", "2026-08-29", 24, true},
		{"day date before cutoff day dropped", "2026-08-27", 24, false},
		{"unparseable never fresh", "3 days ago", 24, false},
		{"empty never fresh", "", 24, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FreshWithinHours(tt.value, tt.hours, now); got != tt.want {
				t.Errorf("FreshWithinHours(%q, %d) = %v, want %v", tt.value, tt.hours, got, tt.want)
			}
		})
	}
}

func TestByFreshness(t *testing.T) {
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	jobs := []model.NormalizedJob{
		{Title: "fresh exact", PostDate: "2026-08-29T01:00:00Z"},
		{Title: "fresh day", PostDate: "2026-08-28"},
		{Title: "stale", PostDate: "2026-08-20"},
		{Title: "unknown", PostDate: ""},
		{Title: "relative junk", PostDate: "2 weeks ago"},
	}

	t.Run("unknown dates dropped by default", func(t *testing.T) {
		kept, stats := ByFreshness(jobs, 24, false, now)
		if len(kept) != 2 {
			t.Fatalf("kept %d jobs, want 2", len(kept))
		}
		if stats.DroppedUnknownDate != 1 {
			t.Errorf("droppedUnknownDate = %d, want 1", stats.DroppedUnknownDate)
		}
		// A present but unparseable date counts as stale, not unknown.
		if stats.DroppedOld != 2 {
			t.Errorf("droppedOld = %d, want 2", stats.DroppedOld)
		}
		if stats.RawFetched != 5 || stats.KeptFresh != 2 {
			t.Errorf("stats = %+v", stats)
		}
	})

	t.Run("unknown dates kept when allowed", func(t *testing.T) {
		kept, stats := ByFreshness(jobs, 24, true, now)
		if len(kept) != 3 {
			t.Fatalf("kept %d jobs, want 3", len(kept))
		}
		if stats.DroppedUnknownDate != 0 {
			t.Errorf("droppedUnknownDate = %d, want 0", stats.DroppedUnknownDate)
		}
		found := false
		for _, j := range kept {
			if j.Title == "unknown" {
				found = true
			}
		}
		if !found {
			t.Error("unknown-date job missing from kept set")
		}
	})
}
