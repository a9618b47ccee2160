package daemonlock

import (
	"errors"
	"testing"
)

func TestAcquireThenCloseAllowsReacquire(t *testing.T) {
	dir := t.TempDir()

	l1, err := Acquire(dir, "m1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := l1.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	l2, err := Acquire(dir, "m1")
	if err != nil {
		t.Fatalf("second Acquire() after Close() error = %v", err)
	}
	l2.Close()
}

func TestAcquireTwiceWithoutReleaseReturnsErrLocked(t *testing.T) {
	dir := t.TempDir()

	l1, err := Acquire(dir, "m1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	t.Cleanup(func() { l1.Close() })

	_, err = Acquire(dir, "m1")
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("second Acquire() error = %v, want ErrLocked", err)
	}
}
