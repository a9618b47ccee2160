package merge

import (
	"testing"

	"github.com/lancejames221b/agent-hivemind-sub004/internal/types"
)

func TestResolvePicksGreaterVersion(t *testing.T) {
	a := types.Memory{ID: "m1", Content: "a", Version: types.Version{Counter: 1, MachineID: "x"}, State: types.StateActive}
	b := types.Memory{ID: "m1", Content: "b", Version: types.Version{Counter: 2, MachineID: "x"}, State: types.StateActive}

	got := Resolve(a, b)
	if got.Content != "b" {
		t.Fatalf("Resolve() content = %q, want %q (higher counter wins)", got.Content, "b")
	}
}

func TestResolvePreservesLoserContentInShadowHistory(t *testing.T) {
	a := types.Memory{ID: "m1", Content: "old text", Version: types.Version{Counter: 1, MachineID: "x"}, State: types.StateActive}
	b := types.Memory{ID: "m1", Content: "new text", Version: types.Version{Counter: 2, MachineID: "x"}, State: types.StateActive}

	got := Resolve(a, b)
	if len(got.ShadowHistory) != 1 {
		t.Fatalf("ShadowHistory = %v, want 1 entry preserving loser content", got.ShadowHistory)
	}
	if got.ShadowHistory[0].Content != "old text" {
		t.Fatalf("ShadowHistory[0].Content = %q, want %q", got.ShadowHistory[0].Content, "old text")
	}
}

func TestResolveMismatchedIDsPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Resolve with mismatched ids must panic")
		}
	}()
	Resolve(types.Memory{ID: "a"}, types.Memory{ID: "b"})
}

func TestResolveUnionsTags(t *testing.T) {
	a := types.Memory{ID: "m1", Version: types.Version{Counter: 1, MachineID: "x"}, Tags: []string{"x", "shared"}}
	b := types.Memory{ID: "m1", Version: types.Version{Counter: 2, MachineID: "x"}, Tags: []string{"y", "shared"}}

	got := Resolve(a, b)
	want := map[string]bool{"y": true, "shared": true, "x": true}
	if len(got.Tags) != len(want) {
		t.Fatalf("Tags = %v, want union of both sides", got.Tags)
	}
	for _, tag := range got.Tags {
		if !want[tag] {
			t.Fatalf("unexpected tag %q in merged result", tag)
		}
	}
}

func TestClusterKeepNewest(t *testing.T) {
	cluster := []types.Memory{
		{ID: "a", Content: "short", Version: types.Version{Counter: 1, MachineID: "x"}},
		{ID: "b", Content: "newer", Version: types.Version{Counter: 5, MachineID: "x"}},
	}
	primary, secondaries, err := Cluster(cluster, KeepNewest, "")
	if err != nil {
		t.Fatalf("Cluster() error = %v", err)
	}
	if primary.ID != "b" {
		t.Fatalf("primary.ID = %q, want %q (newest)", primary.ID, "b")
	}
	if len(secondaries) != 1 || secondaries[0].ID != "a" {
		t.Fatalf("secondaries = %v, want [a]", secondaries)
	}
	if primary.MergeRecord == nil || primary.MergeRecord.PrimaryID != "b" {
		t.Fatalf("MergeRecord not recorded correctly: %+v", primary.MergeRecord)
	}
}

func TestClusterKeepLongest(t *testing.T) {
	cluster := []types.Memory{
		{ID: "a", Content: "a much longer piece of content here", Version: types.Version{Counter: 1, MachineID: "x"}},
		{ID: "b", Content: "short", Version: types.Version{Counter: 5, MachineID: "x"}},
	}
	primary, _, err := Cluster(cluster, KeepLongest, "")
	if err != nil {
		t.Fatalf("Cluster() error = %v", err)
	}
	if primary.ID != "a" {
		t.Fatalf("primary.ID = %q, want %q (longest content)", primary.ID, "a")
	}
}

func TestClusterKeepManualRequiresValidHint(t *testing.T) {
	cluster := []types.Memory{{ID: "a"}, {ID: "b"}}
	if _, _, err := Cluster(cluster, KeepManual, "nonexistent"); err == nil {
		t.Fatal("Cluster with an unknown primaryHint must error")
	}
	primary, _, err := Cluster(cluster, KeepManual, "b")
	if err != nil {
		t.Fatalf("Cluster() error = %v", err)
	}
	if primary.ID != "b" {
		t.Fatalf("primary.ID = %q, want %q", primary.ID, "b")
	}
}

func TestClusterRequiresAtLeastTwo(t *testing.T) {
	if _, _, err := Cluster([]types.Memory{{ID: "a"}}, KeepNewest, ""); err == nil {
		t.Fatal("Cluster with fewer than 2 memories must error")
	}
}
