package storage

import (
	"testing"

	"github.com/lancejames221b/agent-hivemind-sub004/internal/types"
)

func TestChangeRingDrainsInOrder(t *testing.T) {
	r := newChangeRing(4)
	r.Enqueue(Change{Memory: types.Memory{ID: "1"}})
	r.Enqueue(Change{Memory: types.Memory{ID: "2"}})

	if got := (<-r.Chan()).Memory.ID; got != "1" {
		t.Fatalf("first drained = %q, want 1", got)
	}
	if got := (<-r.Chan()).Memory.ID; got != "2" {
		t.Fatalf("second drained = %q, want 2", got)
	}
}

func TestChangeRingOverflowSetsNeedsResync(t *testing.T) {
	r := newChangeRing(2)
	r.Enqueue(Change{Memory: types.Memory{ID: "1"}})
	r.Enqueue(Change{Memory: types.Memory{ID: "2"}})
	// Ring is now full; this enqueue must overflow and flip needsResync.
	r.Enqueue(Change{Memory: types.Memory{ID: "3"}})

	if !r.NeedsResync() {
		t.Fatal("overflow must set the sticky needsResync flag")
	}
	// NeedsResync clears on read.
	if r.NeedsResync() {
		t.Fatal("NeedsResync must clear after being observed once")
	}
}

func TestChangeRingFillPctReflectsOccupancy(t *testing.T) {
	r := newChangeRing(10)
	for i := 0; i < 9; i++ {
		r.Enqueue(Change{Memory: types.Memory{ID: "x"}})
	}
	if r.fillPct() < 0.89 {
		t.Fatalf("fillPct() = %v, want ~0.9 at 9/10 occupancy", r.fillPct())
	}
}
