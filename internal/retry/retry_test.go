package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lancejames221b/agent-hivemind-sub004/internal/errkind"
)

func TestDoReturnsImmediatelyOnSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want exactly 1 on first-try success", calls)
	}
}

func TestDoDoesNotRetryNonRetryableKind(t *testing.T) {
	calls := 0
	wantErr := errkind.New(errkind.Validation, "bad input")
	err := Do(context.Background(), func() error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Do() error = %v, want the original Validation error", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, a non-retryable kind must not be retried", calls)
	}
}

func TestDoRetriesRetryableKindUntilContextDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	calls := 0
	err := Do(ctx, func() error {
		calls++
		return errkind.New(errkind.Unavailable, "transient")
	})
	if err == nil {
		t.Fatal("Do() must eventually return an error once the context deadline passes")
	}
	if calls < 1 {
		t.Fatalf("calls = %d, want at least one attempt", calls)
	}
}

func TestQuarantineFailReturnsTrueAtBound(t *testing.T) {
	q := NewQuarantine()
	q.MaxAttempts = 3

	if q.Fail("k") {
		t.Fatal("Fail() must report false before the bound is reached")
	}
	if q.Fail("k") {
		t.Fatal("Fail() must report false before the bound is reached")
	}
	if !q.Fail("k") {
		t.Fatal("Fail() must report true once attempts reach MaxAttempts")
	}
}

func TestQuarantineClearResetsCount(t *testing.T) {
	q := NewQuarantine()
	q.MaxAttempts = 2
	q.Fail("k")
	q.Clear("k")
	if q.Fail("k") {
		t.Fatal("Fail() after Clear() must start counting from zero again")
	}
}
