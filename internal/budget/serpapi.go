// Package budget divides external API quotas across the runs remaining in
// the current window so a burst never exhausts a monthly cap early.
package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/evanchen57/jobsieve/internal/store"
)

// SerpConfig is the monthly-quota policy for the external search API.
type SerpConfig struct {
	MonthlyCap    int           `yaml:"monthly_cap"`
	Reserve       int           `yaml:"reserve"`
	FetchInterval time.Duration `yaml:"fetch_interval"`
}

// SerpBudget is the computed allowance for one run.
type SerpBudget struct {
	MonthlyCap        int
	Reserve           int
	UsedThisMonth     int
	RemainingRunSlots int
	PerRunLimit       int
	RemainingBudget   int
}

// StartOfNextMonthUTC returns midnight UTC of the first day of the month
// after now.
func StartOfNextMonthUTC(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

// RemainingRunSlots counts how many fetch intervals fit between now and the
// month boundary, floored at 1 so the divider never zeroes out.
func RemainingRunSlots(now time.Time, interval time.Duration) int {
	if interval < time.Minute {
		interval = time.Minute
	}
	remaining := StartOfNextMonthUTC(now).Sub(now)
	slots := int((remaining + interval - 1) / interval)
	if slots < 1 {
		return 1
	}
	return slots
}

// PerRunLimit divides the unspent, unreserved budget across the remaining
// run slots. Never negative.
func PerRunLimit(monthlyCap, usedThisMonth, reserve, remainingRunSlots int) int {
	if monthlyCap < 0 {
		monthlyCap = 0
	}
	if usedThisMonth < 0 {
		usedThisMonth = 0
	}
	if reserve < 0 {
		reserve = 0
	}
	if remainingRunSlots < 1 {
		remainingRunSlots = 1
	}
	available := monthlyCap - usedThisMonth - reserve
	if available < 0 {
		available = 0
	}
	return available / remainingRunSlots
}

// SerpAllocator computes per-run query budgets from the usage ledger.
type SerpAllocator struct {
	store *store.Store
	cfg   SerpConfig
	now   func() time.Time
}

// NewSerpAllocator creates an allocator over the given ledger store.
func NewSerpAllocator(st *store.Store, cfg SerpConfig) *SerpAllocator {
	if cfg.MonthlyCap <= 0 {
		cfg.MonthlyCap = 250
	}
	if cfg.Reserve <= 0 {
		cfg.Reserve = 10
	}
	if cfg.FetchInterval <= 0 {
		cfg.FetchInterval = 24 * time.Hour
	}
	return &SerpAllocator{store: st, cfg: cfg, now: time.Now}
}

// RunBudget computes the query allowance for the current run. Queries past
// the limit are simply not issued this run; they are deferred, not queued.
func (a *SerpAllocator) RunBudget(ctx context.Context) (SerpBudget, error) {
	now := a.now()
	used, err := a.store.SerpUsageThisMonth(ctx, now)
	if err != nil {
		return SerpBudget{}, fmt.Errorf("computing serpapi budget: %w", err)
	}
	slots := RemainingRunSlots(now, a.cfg.FetchInterval)
	remaining := a.cfg.MonthlyCap - used
	if remaining < 0 {
		remaining = 0
	}
	return SerpBudget{
		MonthlyCap:        a.cfg.MonthlyCap,
		Reserve:           a.cfg.Reserve,
		UsedThisMonth:     used,
		RemainingRunSlots: slots,
		PerRunLimit:       PerRunLimit(a.cfg.MonthlyCap, used, a.cfg.Reserve, slots),
		RemainingBudget:   remaining,
	}, nil
}

// Record charges queries issued during a run against the monthly ledger.
func (a *SerpAllocator) Record(ctx context.Context, runID int64, queriesUsed int, notes string) error {
	return a.store.RecordSerpUsage(ctx, runID, queriesUsed, notes)
}
