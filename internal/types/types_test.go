package types

import "testing"

func TestVersionCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b Version
		want int
	}{
		{"equal", Version{1, "m1"}, Version{1, "m1"}, 0},
		{"counter-wins", Version{2, "m1"}, Version{1, "m9"}, 1},
		{"counter-loses", Version{1, "m9"}, Version{2, "m1"}, -1},
		{"tie-break-machine", Version{1, "m1"}, Version{1, "m2"}, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Compare(tt.b); got != tt.want {
				t.Fatalf("Compare(%v, %v) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestVersionGreaterAndZero(t *testing.T) {
	if (Version{}).Greater(Version{}) {
		t.Fatal("zero version must not be greater than itself")
	}
	if !(Version{}).Zero() {
		t.Fatal("zero-value Version must report Zero() true")
	}
	if (Version{Counter: 1, MachineID: "m1"}).Zero() {
		t.Fatal("non-zero version reported Zero()")
	}
	if !(Version{Counter: 2, MachineID: "m1"}).Greater(Version{Counter: 1, MachineID: "m9"}) {
		t.Fatal("higher counter must be greater regardless of machine id")
	}
}

func TestTags2SetDedupesPreservingOrder(t *testing.T) {
	got := Tags2Set([]string{"b", "a", "b", "", "c", "a"})
	want := []string{"b", "a", "c"}
	if len(got) != len(want) {
		t.Fatalf("Tags2Set() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Tags2Set() = %v, want %v", got, want)
		}
	}
}

func TestAgentCapabilities(t *testing.T) {
	a := Agent{Capabilities: []string{"go", "deploy"}}
	if !a.HasCapability("go") {
		t.Fatal("expected HasCapability(go) true")
	}
	if a.HasCapability("python") {
		t.Fatal("expected HasCapability(python) false")
	}
	if !a.HasAllCapabilities([]string{"go", "deploy"}) {
		t.Fatal("expected HasAllCapabilities true for subset")
	}
	if a.HasAllCapabilities([]string{"go", "python"}) {
		t.Fatal("expected HasAllCapabilities false when a capability is missing")
	}
}

func TestCategoryIsValid(t *testing.T) {
	if !CategoryGlobal.IsValid() {
		t.Fatal("CategoryGlobal must be valid")
	}
	if Category("not-a-category").IsValid() {
		t.Fatal("unknown category must not be valid")
	}
}
