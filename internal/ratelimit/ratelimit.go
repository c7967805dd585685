// Package ratelimit spaces out requests hitting the same board backend so
// a run with many companies on one ATS never bursts it.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/evanchen57/jobsieve/internal/model"
)

// BackendLimiter enforces a minimum delay between requests to the same
// board backend.
type BackendLimiter struct {
	mu       sync.Mutex
	lastCall map[string]time.Time // key: backend name
	minDelay time.Duration
}

// NewBackendLimiter creates a limiter that enforces minDelay between
// consecutive requests to the same backend.
func NewBackendLimiter(minDelay time.Duration) *BackendLimiter {
	return &BackendLimiter{
		lastCall: make(map[string]time.Time),
		minDelay: minDelay,
	}
}

// Wait blocks until enough time has passed since the last request to the
// given backend. Returns an error if the context is cancelled while waiting.
func (r *BackendLimiter) Wait(ctx context.Context, backend string) error {
	r.mu.Lock()
	last, ok := r.lastCall[backend]
	now := time.Now()

	if !ok {
		// First request for this backend — no wait needed.
		r.lastCall[backend] = now
		r.mu.Unlock()
		return nil
	}

	elapsed := now.Sub(last)
	if elapsed >= r.minDelay {
		r.lastCall[backend] = now
		r.mu.Unlock()
		return nil
	}

	remaining := r.minDelay - elapsed
	r.mu.Unlock()

	select {
	case <-ctx.Done():
		return fmt.Errorf("rate limiter wait for %s: %w", backend, ctx.Err())
	case <-time.After(remaining):
	}

	// Record the actual time after waiting.
	r.mu.Lock()
	r.lastCall[backend] = time.Now()
	r.mu.Unlock()

	return nil
}

// Adapter enforces backend-level rate limiting before delegating to the
// wrapped SourceAdapter. All adapters targeting the same backend should
// share one limiter instance.
type Adapter struct {
	inner   model.SourceAdapter
	limiter *BackendLimiter
	backend string
}

// Wrap decorates a SourceAdapter with backend-level rate limiting.
func Wrap(inner model.SourceAdapter, limiter *BackendLimiter, backend string) *Adapter {
	return &Adapter{
		inner:   inner,
		limiter: limiter,
		backend: backend,
	}
}

func (a *Adapter) Name() string { return a.inner.Name() }

// FetchAll waits for the limiter to allow a request, then delegates.
func (a *Adapter) FetchAll(ctx context.Context) ([]model.NormalizedJob, error) {
	if err := a.limiter.Wait(ctx, a.backend); err != nil {
		return nil, err
	}
	return a.inner.FetchAll(ctx)
}
