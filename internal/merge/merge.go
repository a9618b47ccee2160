// Package merge implements the conflict-resolution policy of spec §4.1:
// concurrent writes to the same memory id are resolved by greater
// (counter, machine_id), and find_duplicates/merge reconcile near-duplicate
// memories discovered via the semantic index.
//
// Adapted field-by-field from the teacher's vendored 3-way merge engine
// (internal/merge/merge.go, MIT-licensed, originally by @neongreen,
// github.com/neongreen/mono/tree/main/beads-merge), retargeted from
// types.Issue to types.Memory: the same "pick the field from whichever side
// has the later timestamp, never silently drop content" philosophy applies
// here via ShadowHistory instead of the teacher's notes-concatenation.
package merge

import (
	"fmt"
	"sort"

	"github.com/lancejames221b/agent-hivemind-sub004/internal/clockid"
	"github.com/lancejames221b/agent-hivemind-sub004/internal/types"
)

// Resolve applies spec §4.1's conflict policy to two concurrent writes of
// the same memory id and returns the winner. The loser's content is
// appended to the winner's ShadowHistory so no text is lost.
//
// Resolve panics if a and b have different IDs, and asserts that equal
// versions never happen in practice: IDs are unique by construction
// (Open Question (b), resolved in SPEC_FULL §9) so two distinct writes to
// the same id can never carry the identical (counter, machine_id) pair
// unless one side replayed its own write, which callers must filter before
// reaching Resolve.
func Resolve(a, b types.Memory) types.Memory {
	if a.ID != b.ID {
		panic(fmt.Sprintf("merge.Resolve: mismatched ids %q vs %q", a.ID, b.ID))
	}

	cmp := a.Version.Compare(b.Version)
	if cmp == 0 {
		assertNoTie(a, b)
		return a
	}

	winner, loser := a, b
	if cmp < 0 {
		winner, loser = b, a
	}

	// Soft-delete beats update at equal counter only if its machine_id is
	// lexicographically greater (spec §4.1) — already covered by Compare's
	// total order, so a soft-deleted side gets no extra precedence here.

	merged := winner
	if loser.Content != "" && loser.Content != winner.Content {
		merged.ShadowHistory = appendShadow(winner.ShadowHistory, types.ShadowEntry{
			Content:    loser.Content,
			Version:    loser.Version,
			RecordedAt: clockid.WallNow(),
		})
	}
	merged.Tags = types.Tags2Set(append(append([]string{}, winner.Tags...), loser.Tags...))
	return merged
}

func assertNoTie(a, b types.Memory) {
	if a.ID == b.ID && a.Version == b.Version && a.Content != b.Content {
		panic(fmt.Sprintf("merge: impossible tie at version %s for id %s", a.Version, a.ID))
	}
}

func appendShadow(existing []types.ShadowEntry, entry types.ShadowEntry) []types.ShadowEntry {
	for _, e := range existing {
		if e.Version == entry.Version {
			return existing
		}
	}
	out := append(append([]types.ShadowEntry{}, existing...), entry)
	sort.Slice(out, func(i, j int) bool { return out[i].Version.Compare(out[j].Version) < 0 })
	return out
}

// KeepPolicy chooses which of a duplicate cluster's memories survives a
// merge() call (spec §4.1).
type KeepPolicy string

const (
	KeepNewest KeepPolicy = "newest"
	KeepLongest KeepPolicy = "longest"
	KeepManual KeepPolicy = "manual"
)

// Cluster chooses the primary memory from a set of near-duplicates per
// policy, with "manual" deferring to primaryHint (the caller's explicit
// choice; required when policy is KeepManual).
func Cluster(cluster []types.Memory, policy KeepPolicy, primaryHint string) (primary types.Memory, secondaries []types.Memory, err error) {
	if len(cluster) < 2 {
		return types.Memory{}, nil, fmt.Errorf("merge.Cluster: need at least 2 memories, got %d", len(cluster))
	}

	idx := 0
	switch policy {
	case KeepNewest:
		for i, m := range cluster {
			if m.Version.Compare(cluster[idx].Version) > 0 {
				idx = i
			}
		}
	case KeepLongest:
		for i, m := range cluster {
			if len(m.Content) > len(cluster[idx].Content) {
				idx = i
			}
		}
	case KeepManual:
		found := false
		for i, m := range cluster {
			if m.ID == primaryHint {
				idx, found = i, true
				break
			}
		}
		if !found {
			return types.Memory{}, nil, fmt.Errorf("merge.Cluster: primaryHint %q not in cluster", primaryHint)
		}
	default:
		return types.Memory{}, nil, fmt.Errorf("merge.Cluster: unknown keep policy %q", policy)
	}

	primary = cluster[idx]
	secondaryIDs := make([]string, 0, len(cluster)-1)
	for i, m := range cluster {
		if i == idx {
			continue
		}
		secondaries = append(secondaries, m)
		secondaryIDs = append(secondaryIDs, m.ID)
		if m.Content != primary.Content {
			primary.ShadowHistory = appendShadow(primary.ShadowHistory, types.ShadowEntry{
				Content:    m.Content,
				Version:    m.Version,
				RecordedAt: clockid.WallNow(),
			})
		}
	}
	primary.MergeRecord = &types.MergeRecord{
		PrimaryID:    primary.ID,
		SecondaryIDs: secondaryIDs,
		KeepPolicy:   string(policy),
		MergedAt:     clockid.WallNow(),
	}
	return primary, secondaries, nil
}
