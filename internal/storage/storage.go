// Package storage implements component M: authoritative local persistence
// of memories and tombstones (spec §4.1), emitting Change events for Y to
// drain and enforcing the invariants of spec §3.
//
// Grounded on the teacher's internal/storage/provider.go interface-adapter
// pattern (a narrow Storage interface wrapping a concrete backend) and
// internal/storage/sqlite's raw database/sql insert style. The version
// index uses the teacher's ncruces/go-sqlite3 (pure-Go, no CGO) rather than
// its primary Dolt backend — see DESIGN.md for the full justification.
package storage

import (
	"context"
	"time"

	"github.com/lancejames221b/agent-hivemind-sub004/internal/types"
)

// ChangeKind distinguishes the four mutations Y replicates (spec §4.1).
type ChangeKind string

const (
	ChangeCreate  ChangeKind = "Create"
	ChangeUpdate  ChangeKind = "Update"
	ChangeDelete  ChangeKind = "Delete"
	ChangeRecover ChangeKind = "Recover"
)

// Change is what M emits into the ring for Y to drain (spec §4.1, §4.4).
type Change struct {
	Kind   ChangeKind
	Memory types.Memory
}

// Patch carries the allowed mutable fields of update_memory (spec §4.1:
// "Merges allowed fields (content, tags, importance)").
type Patch struct {
	Content    *string
	Tags       []string
	Importance *types.Importance
}

// ListFilter narrows list_recent (spec §4.1).
type ListFilter struct {
	Category types.Category
	Since    time.Time
}

// Store is component M's operation surface (spec §4.1).
type Store interface {
	Store(ctx context.Context, content string, category types.Category, tags []string, scope types.Scope, importance types.Importance, origin types.Origin) (types.Memory, error)
	Update(ctx context.Context, id string, patch Patch) (types.Version, error)
	SoftDelete(ctx context.Context, id, reason, actor string) error
	Recover(ctx context.Context, id string) (types.Version, error)
	Purge(ctx context.Context, id string) error
	Get(ctx context.Context, id string, includeDeleted bool) (types.Memory, error)
	ListRecent(ctx context.Context, filter ListFilter) ([]types.Memory, error)

	// Since returns every memory (any state, including soft-deleted) whose
	// version was stamped by machineID with a counter greater than after,
	// ordered oldest-first. Used by Y to answer a Request (spec §4.4 step
	// 2): ListRecent alone would drop deletes from a catch-up stream.
	Since(ctx context.Context, machineID string, after uint64) ([]types.Memory, error)

	// Checkpoints reports the highest version counter observed locally per
	// origin machine, across every state. Compared against an incoming
	// Digest to detect divergence (spec §4.4 step 2).
	Checkpoints(ctx context.Context) (map[string]types.Version, error)

	// FindDuplicates groups active collective-scope memories whose vectors
	// are mutually above threshold cosine similarity (spec §4.1). Merge then
	// resolves each returned cluster.
	FindDuplicates(ctx context.Context, threshold float64) ([][]types.Memory, error)

	// Merge implements spec §4.1's duplicate handling for a cluster
	// identified by FindDuplicates (or supplied directly by a caller).
	Merge(ctx context.Context, cluster []types.Memory, policy string, primaryHint string) (types.Memory, error)

	// Apply idempotently applies an incoming replicated Change through the
	// local conflict policy (spec §4.1, §4.4 step 3). Used by Y.
	Apply(ctx context.Context, change Change) (applied bool, err error)

	// Changes returns the channel Y drains (spec §4.1's bounded MPSC ring).
	Changes() <-chan Change

	// RingFillPct reports the ring's current occupancy for the health
	// endpoint (spec §6) and the ≥90%-full backpressure rule (spec §4.1).
	RingFillPct() float64

	Close() error
}
