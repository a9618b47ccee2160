package errkind

import (
	"errors"
	"fmt"
	"testing"
)

func TestRetryableOnlyForUnavailableAndTransport(t *testing.T) {
	cases := []struct {
		kind Kind
		want bool
	}{
		{Validation, false}, {NotFound, false}, {Conflict, false},
		{Unavailable, true}, {Transport, true}, {Policy, false}, {Internal, false},
	}
	for _, c := range cases {
		if got := c.kind.Retryable(); got != c.want {
			t.Errorf("%s.Retryable() = %v, want %v", c.kind, got, c.want)
		}
	}
}

func TestWrapPreservesCauseAndUnwraps(t *testing.T) {
	cause := errors.New("underlying failure")
	err := Wrap(Internal, "context", cause)

	if !errors.Is(err, cause) {
		t.Fatal("Wrap() must preserve the cause for errors.Is")
	}
	if got := err.Error(); got == "" {
		t.Fatal("Error() must not be empty")
	}
}

func TestKindOfDefaultsToInternalForPlainErrors(t *testing.T) {
	if got := KindOf(fmt.Errorf("plain")); got != Internal {
		t.Fatalf("KindOf(plain error) = %v, want Internal", got)
	}
	if got := KindOf(Wrap(Conflict, "x", ErrVersionConflict)); got != Conflict {
		t.Fatalf("KindOf(wrapped) = %v, want Conflict", got)
	}
}

func TestIsMatchesWrappedKind(t *testing.T) {
	err := Wrap(NotFound, "missing", ErrNotFound)
	if !Is(err, NotFound) {
		t.Fatal("Is() must match the wrapped kind")
	}
	if Is(err, Conflict) {
		t.Fatal("Is() must not match an unrelated kind")
	}
}

func TestWithRetryAfterAndCorrelationIDAreChainable(t *testing.T) {
	err := New(Unavailable, "busy").WithRetryAfter(500).WithCorrelationID("corr-1")
	if err.RetryAfterMs != 500 {
		t.Fatalf("RetryAfterMs = %d, want 500", err.RetryAfterMs)
	}
	if err.CorrelationID != "corr-1" {
		t.Fatalf("CorrelationID = %q, want corr-1", err.CorrelationID)
	}
}
