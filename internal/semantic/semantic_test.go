package semantic

import (
	"context"
	"testing"
	"time"
)

func TestFlatIndexSearchRanksByCosineSimilarity(t *testing.T) {
	idx := NewFlatIndex()
	ctx := context.Background()

	idx.Upsert(ctx, "same", []float32{1, 0}, Metadata{})
	idx.Upsert(ctx, "orthogonal", []float32{0, 1}, Metadata{})
	idx.Upsert(ctx, "opposite", []float32{-1, 0}, Metadata{})

	hits, err := idx.Search(ctx, []float32{1, 0}, Filter{}, 3)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("Search() returned %d hits, want 3", len(hits))
	}
	if hits[0].VectorRef != "same" {
		t.Fatalf("top hit = %q, want %q (identical vector)", hits[0].VectorRef, "same")
	}
	if hits[len(hits)-1].VectorRef != "opposite" {
		t.Fatalf("last hit = %q, want %q (opposite vector)", hits[len(hits)-1].VectorRef, "opposite")
	}
}

func TestFlatIndexRemoveExcludesFromSearch(t *testing.T) {
	idx := NewFlatIndex()
	ctx := context.Background()
	idx.Upsert(ctx, "a", []float32{1, 0}, Metadata{})
	idx.Remove(ctx, "a")

	hits, err := idx.Search(ctx, []float32{1, 0}, Filter{}, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("Search() after Remove returned %d hits, want 0", len(hits))
	}
}

func TestFlatIndexFilterAppliesBeforeTopK(t *testing.T) {
	idx := NewFlatIndex()
	ctx := context.Background()
	idx.Upsert(ctx, "a", []float32{1, 0}, Metadata{Category: "incidents"})
	idx.Upsert(ctx, "b", []float32{1, 0}, Metadata{Category: "runbooks"})

	hits, err := idx.Search(ctx, []float32{1, 0}, Filter{Category: "incidents"}, 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 || hits[0].VectorRef != "a" {
		t.Fatalf("filtered Search() = %v, want only %q", hits, "a")
	}
}

func TestFlatIndexFilterByAgeWithin(t *testing.T) {
	idx := NewFlatIndex()
	ctx := context.Background()
	now := time.Now()
	idx.Upsert(ctx, "fresh", []float32{1, 0}, Metadata{CreatedAt: now})
	idx.Upsert(ctx, "old", []float32{1, 0}, Metadata{CreatedAt: now.Add(-48 * time.Hour)})

	hits, err := idx.Search(ctx, []float32{1, 0}, Filter{AgeWithin: time.Hour}, 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 || hits[0].VectorRef != "fresh" {
		t.Fatalf("age-filtered Search() = %v, want only %q", hits, "fresh")
	}
}

func TestFlatIndexVectorForRoundTrips(t *testing.T) {
	idx := NewFlatIndex()
	ctx := context.Background()
	idx.Upsert(ctx, "a", []float32{1, 2, 3}, Metadata{})

	vec, ok := idx.VectorFor("a")
	if !ok {
		t.Fatal("VectorFor(a) not found")
	}
	if len(vec) != 3 || vec[0] != 1 {
		t.Fatalf("VectorFor(a) = %v, want [1 2 3]", vec)
	}
	if _, ok := idx.VectorFor("missing"); ok {
		t.Fatal("VectorFor(missing) should report not found")
	}
}

func TestFlatIndexSearchRejectsNonPositiveK(t *testing.T) {
	idx := NewFlatIndex()
	if _, err := idx.Search(context.Background(), []float32{1}, Filter{}, 0); err == nil {
		t.Fatal("Search with k=0 must error")
	}
}
