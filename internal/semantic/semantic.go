// Package semantic implements component S: an adapter in front of an
// opaque vector similarity store (spec §4.3). The embedding model and the
// real vector index are explicitly out of scope (spec §1 Non-goals); this
// package defines the contract a real backend must satisfy and ships a
// brute-force in-process implementation useful standalone and in tests.
package semantic

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/lancejames221b/agent-hivemind-sub004/internal/errkind"
)

// EmbedFunc produces a fixed-dimension vector for text. Supplied by the
// caller; never implemented in core (spec §4.3, §1 Non-goals).
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// Filter narrows a search before top-k selection is applied (spec §4.3:
// "the filter is applied before top-k").
type Filter struct {
	Category  string
	Scope     string
	MachineID string
	TagsAny   []string
	TagsAll   []string
	AgeWithin time.Duration
}

// Hit is one search result.
type Hit struct {
	VectorRef string
	Score     float64
}

// Metadata is the set of fields a Filter can match against; the index
// stores whatever the caller upserts without interpreting it further.
type Metadata struct {
	Category  string
	Scope     string
	MachineID string
	Tags      []string
	CreatedAt time.Time
	Purged    bool
}

func (m Metadata) matches(f Filter, now time.Time) bool {
	if f.Category != "" && f.Category != m.Category {
		return false
	}
	if f.Scope != "" && f.Scope != m.Scope {
		return false
	}
	if f.MachineID != "" && f.MachineID != m.MachineID {
		return false
	}
	if f.AgeWithin > 0 && now.Sub(m.CreatedAt) > f.AgeWithin {
		return false
	}
	if len(f.TagsAny) > 0 && !anyTag(m.Tags, f.TagsAny) {
		return false
	}
	if len(f.TagsAll) > 0 && !allTags(m.Tags, f.TagsAll) {
		return false
	}
	return true
}

func anyTag(have, want []string) bool {
	set := toSet(have)
	for _, t := range want {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

func allTags(have, want []string) bool {
	set := toSet(have)
	for _, t := range want {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}

func toSet(ss []string) map[string]struct{} {
	m := make(map[string]struct{}, len(ss))
	for _, s := range ss {
		m[s] = struct{}{}
	}
	return m
}

// Index is the contract S adapts M to (spec §4.3). Upsert and Remove are
// idempotent; Search never returns purged entries.
type Index interface {
	Upsert(ctx context.Context, vectorRef string, vector []float32, meta Metadata) error
	Remove(ctx context.Context, vectorRef string) error
	Search(ctx context.Context, queryVector []float32, filter Filter, k int) ([]Hit, error)
}

// FlatIndex is a brute-force cosine-similarity Index held entirely in
// memory: O(n) per search, fine for a single machine's working set and for
// tests, behind the same interface a networked vector database would
// satisfy.
type FlatIndex struct {
	mu      sync.RWMutex
	vectors map[string][]float32
	meta    map[string]Metadata
}

// NewFlatIndex returns an empty FlatIndex.
func NewFlatIndex() *FlatIndex {
	return &FlatIndex{
		vectors: make(map[string][]float32),
		meta:    make(map[string]Metadata),
	}
}

func (f *FlatIndex) Upsert(_ context.Context, vectorRef string, vector []float32, meta Metadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectors[vectorRef] = vector
	f.meta[vectorRef] = meta
	return nil
}

func (f *FlatIndex) Remove(_ context.Context, vectorRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.vectors, vectorRef)
	delete(f.meta, vectorRef)
	return nil
}

// VectorFor returns the vector stored under ref, for callers (like M's
// find_duplicates) that need to re-query the index with an existing
// entry's own vector rather than a freshly embedded query.
func (f *FlatIndex) VectorFor(ref string) ([]float32, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.vectors[ref]
	return v, ok
}

func (f *FlatIndex) Search(_ context.Context, query []float32, filter Filter, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, errkind.New(errkind.Validation, "k must be positive")
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	now := time.Now()
	hits := make([]Hit, 0, len(f.vectors))
	for ref, vec := range f.vectors {
		meta := f.meta[ref]
		if meta.Purged {
			continue
		}
		if !meta.matches(filter, now) {
			continue
		}
		hits = append(hits, Hit{VectorRef: ref, Score: cosine(query, vec)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
