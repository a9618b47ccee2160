// Package retry wraps cenkalti/backoff/v4 with the exact policy spec §7
// mandates for Unavailable/Transport errors: exponential backoff, base
// 250ms, cap 30s, jitter, bounded by the caller's context deadline.
//
// Grounded on the teacher's internal/storage/dolt/store.go retry helpers
// (newServerRetryBackoff, isRetryableError), generalized from "is this a
// Dolt server-mode connection error" to "is this kind retryable" via
// internal/errkind.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lancejames221b/agent-hivemind-sub004/internal/errkind"
)

const (
	baseInterval = 250 * time.Millisecond
	maxInterval  = 30 * time.Second
)

// NewBackoff returns the spec's standard exponential-backoff-with-jitter
// policy, bounded to ctx's deadline (or unbounded if ctx has none — the
// caller is expected to have set a per-call timeout per spec §5).
func NewBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = baseInterval
	b.MaxInterval = maxInterval
	b.MaxElapsedTime = 0 // bounded by ctx instead
	return backoff.WithContext(b, ctx)
}

// Do retries fn under the spec's backoff policy, but only for errors whose
// errkind.Kind is Retryable (Unavailable, Transport); any other error, or
// context cancellation, returns immediately.
func Do(ctx context.Context, fn func() error) error {
	policy := NewBackoff(ctx)
	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !errkind.KindOf(err).Retryable() {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

// Quarantine tracks repeated failures of a single replicated Change so Y
// can give up and raise an operator alert after a bounded number of
// attempts (default 10, per §7).
type Quarantine struct {
	MaxAttempts int
	attempts    map[string]int
}

// NewQuarantine returns a Quarantine with the spec's default bound.
func NewQuarantine() *Quarantine {
	return &Quarantine{MaxAttempts: 10, attempts: make(map[string]int)}
}

// Fail records a failed attempt for key and reports whether the attempt
// count has now reached MaxAttempts (the caller should quarantine and alert).
func (q *Quarantine) Fail(key string) bool {
	q.attempts[key]++
	return q.attempts[key] >= q.MaxAttempts
}

// Clear resets the failure count for key, e.g. after a successful apply.
func (q *Quarantine) Clear(key string) {
	delete(q.attempts, key)
}
