package retry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/evanchen57/jobsieve/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockAdapter calls a function on each invocation, tracking call count.
type mockAdapter struct {
	calls int
	fn    func(attempt int) ([]model.NormalizedJob, error)
}

func (m *mockAdapter) Name() string { return "mock" }

func (m *mockAdapter) FetchAll(_ context.Context) ([]model.NormalizedJob, error) {
	m.calls++
	return m.fn(m.calls)
}

func TestRetry_SucceedsOnFirstAttempt(t *testing.T) {
	jobs := []model.NormalizedJob{{Company: "Acme", Title: "Engineer"}}
	mock := &mockAdapter{fn: func(_ int) ([]model.NormalizedJob, error) {
		return jobs, nil
	}}

	a := Wrap(mock, 2, 10*time.Millisecond, discardLogger())
	got, err := a.FetchAll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Engineer" {
		t.Fatalf("unexpected jobs: %v", got)
	}
	if mock.calls != 1 {
		t.Fatalf("expected 1 call, got %d", mock.calls)
	}
}

func TestRetry_RetriesOn5xx_SucceedsOnSecondAttempt(t *testing.T) {
	jobs := []model.NormalizedJob{{Company: "Acme", Title: "Engineer"}}
	mock := &mockAdapter{fn: func(attempt int) ([]model.NormalizedJob, error) {
		if attempt == 1 {
			return nil, &model.HTTPError{StatusCode: 503, Err: errors.New("service unavailable")}
		}
		return jobs, nil
	}}

	a := Wrap(mock, 2, 10*time.Millisecond, discardLogger())
	got, err := a.FetchAll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 job, got %d", len(got))
	}
	if mock.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", mock.calls)
	}
}

func TestRetry_DoesNotRetryOn4xx(t *testing.T) {
	mock := &mockAdapter{fn: func(_ int) ([]model.NormalizedJob, error) {
		return nil, &model.HTTPError{StatusCode: 404, Err: errors.New("not found")}
	}}

	a := Wrap(mock, 2, 10*time.Millisecond, discardLogger())
	_, err := a.FetchAll(context.Background())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var httpErr *model.HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != 404 {
		t.Fatalf("expected HTTPError with status 404, got %v", err)
	}
	if mock.calls != 1 {
		t.Fatalf("expected 1 call (no retry), got %d", mock.calls)
	}
}

func TestRetry_GivesUpAfterMaxRetries(t *testing.T) {
	mock := &mockAdapter{fn: func(_ int) ([]model.NormalizedJob, error) {
		return nil, &model.HTTPError{StatusCode: 500, Err: errors.New("internal error")}
	}}

	a := Wrap(mock, 2, 10*time.Millisecond, discardLogger())
	_, err := a.FetchAll(context.Background())
	if err == nil {
		t.Fatal("expected error after max retries, got nil")
	}
	// 1 initial + 2 retries = 3
	if mock.calls != 3 {
		t.Fatalf("expected 3 calls (1 + 2 retries), got %d", mock.calls)
	}
}

func TestRetry_RespectsContextCancellation(t *testing.T) {
	mock := &mockAdapter{fn: func(_ int) ([]model.NormalizedJob, error) {
		return nil, &model.HTTPError{StatusCode: 500, Err: errors.New("internal error")}
	}}

	ctx, cancel := context.WithCancel(context.Background())
	// Cancel immediately so the backoff sleep is interrupted.
	cancel()

	a := Wrap(mock, 2, time.Second, discardLogger())
	_, err := a.FetchAll(ctx)
	if err == nil {
		t.Fatal("expected error from context cancellation, got nil")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	// Should have made the initial call, then been cancelled during backoff.
	if mock.calls != 1 {
		t.Fatalf("expected 1 call before cancellation, got %d", mock.calls)
	}
}

func TestBackoffDelay_RetryAfterPrecedence(t *testing.T) {
	a := Wrap(&mockAdapter{}, 3, 10*time.Millisecond, discardLogger())

	withHeader := &model.HTTPError{StatusCode: 429, RetryAfter: 700 * time.Millisecond}
	if got := a.backoffDelay(1, withHeader); got != 700*time.Millisecond {
		t.Errorf("delay = %v, want the server's Retry-After", got)
	}

	// Without Retry-After, exponential with ±30% jitter around base*2^(n-1).
	withoutHeader := &model.HTTPError{StatusCode: 500}
	for attempt, center := range map[int]time.Duration{1: 10 * time.Millisecond, 3: 40 * time.Millisecond} {
		got := a.backoffDelay(attempt, withoutHeader)
		lo := time.Duration(float64(center) * 0.69)
		hi := time.Duration(float64(center) * 1.31)
		if got < lo || got > hi {
			t.Errorf("attempt %d delay = %v, want within [%v, %v]", attempt, got, lo, hi)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"429", &model.HTTPError{StatusCode: 429}, true},
		{"500", &model.HTTPError{StatusCode: 500}, true},
		{"503", &model.HTTPError{StatusCode: 503}, true},
		{"401", &model.HTTPError{StatusCode: 401}, false},
		{"404", &model.HTTPError{StatusCode: 404}, false},
		{"network error", errors.New("connection refused"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryable(tt.err); got != tt.want {
				t.Errorf("isRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
