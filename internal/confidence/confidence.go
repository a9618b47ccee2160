// Package confidence computes the composite score of spec §4.2 from seven
// weighted factors. Score is a pure function called on demand; nothing in
// the store or the rpc server calls it on read or invalidates a stored
// score on write.
//
// Written in the same small-pure-function style as the teacher's
// internal/merge/merge.go field mergers, just scoring instead of merging.
package confidence

import (
	"math"
	"time"

	"github.com/lancejames221b/agent-hivemind-sub004/internal/types"
)

// Weights are the seven tunable factor weights; the zero value is invalid
// until Normalize is called or DefaultWeights is used.
type Weights struct {
	Freshness        float64
	Source           float64
	Verification     float64
	Consensus        float64
	NoContradiction  float64
	SuccessRate      float64
	ContextRelevance float64
}

// DefaultWeights gives every factor equal weight, per spec §4.2.
func DefaultWeights() Weights {
	return Weights{
		Freshness: 1.0 / 7, Source: 1.0 / 7, Verification: 1.0 / 7,
		Consensus: 1.0 / 7, NoContradiction: 1.0 / 7, SuccessRate: 1.0 / 7,
		ContextRelevance: 1.0 / 7,
	}
}

const normalizeEpsilon = 1e-6

// Normalize rescales w so its components sum to 1 (within normalizeEpsilon),
// resolving Open Question (a): weights are configuration, never learned, by
// construction — there is no code path that mutates Weights except this one
// and explicit operator configuration.
func (w Weights) Normalize() Weights {
	sum := w.Freshness + w.Source + w.Verification + w.Consensus +
		w.NoContradiction + w.SuccessRate + w.ContextRelevance
	if math.Abs(sum-1) < normalizeEpsilon || sum == 0 {
		if sum == 0 {
			return DefaultWeights()
		}
		return w
	}
	scale := 1 / sum
	return Weights{
		Freshness: w.Freshness * scale, Source: w.Source * scale,
		Verification: w.Verification * scale, Consensus: w.Consensus * scale,
		NoContradiction: w.NoContradiction * scale, SuccessRate: w.SuccessRate * scale,
		ContextRelevance: w.ContextRelevance * scale,
	}
}

// halfLives gives the freshness decay half-life per category; categories
// not listed fall back to defaultHalfLife.
var halfLives = map[types.Category]time.Duration{
	types.CategoryIncidents: 14 * 24 * time.Hour,
	types.CategoryRunbooks:  180 * 24 * time.Hour,
}

const defaultHalfLife = 60 * 24 * time.Hour

// Inputs carries everything the scorer needs beyond the memory itself,
// since none of it is intrinsic to a single Memory record.
type Inputs struct {
	Now                time.Time
	SourceTrust        float64 // trust weight of the originating agent/role, [0,1]
	Verified           bool    // a distinct agent has marked this memory verified
	DuplicateCount     int
	CompatibleDupes    int // duplicates with compatible content
	ContradictoryDupes int // duplicates with contradictory content
	SuccessCount       int // times this memory was applied successfully
	ApplyCount         int // times this memory was applied at all
	QueryTags          []string
}

// Score computes the composite confidence for m given w and in, and the
// bucketed level name.
func Score(m types.Memory, w Weights, in Inputs) types.Confidence {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	w = w.Normalize()

	freshness := freshnessFactor(m, now)
	source := clamp01(in.SourceTrust)
	verification := 0.0
	if in.Verified {
		verification = 1.0
	}
	consensus := ratio(in.CompatibleDupes, in.DuplicateCount, 1.0)
	noContradiction := 1 - ratio(in.ContradictoryDupes, in.DuplicateCount, 0.0)
	successRate := ratio(in.SuccessCount, in.ApplyCount, 1.0)
	contextRelevance := tagOverlap(m.Tags, in.QueryTags)

	score := w.Freshness*freshness + w.Source*source + w.Verification*verification +
		w.Consensus*consensus + w.NoContradiction*noContradiction +
		w.SuccessRate*successRate + w.ContextRelevance*contextRelevance

	return types.Confidence{
		Freshness: freshness, Source: source, Verification: verification,
		Consensus: consensus, NoContradiction: noContradiction,
		SuccessRate: successRate, ContextRelevance: contextRelevance,
		Score: clamp01(score), Level: Level(clamp01(score)),
	}
}

func freshnessFactor(m types.Memory, now time.Time) float64 {
	half := halfLives[m.Category]
	if half <= 0 {
		half = defaultHalfLife
	}
	age := now.Sub(m.UpdatedAt)
	if age < 0 {
		age = 0
	}
	return math.Exp(-math.Ln2 * age.Hours() / half.Hours())
}

func ratio(numer, denom int, whenZero float64) float64 {
	if denom <= 0 {
		return whenZero
	}
	return clamp01(float64(numer) / float64(denom))
}

func tagOverlap(tags, query []string) float64 {
	if len(query) == 0 {
		return 1.0
	}
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
	}
	hits := 0
	for _, q := range query {
		if _, ok := set[q]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}

func clamp01(f float64) float64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}

// Level buckets a score per spec §4.2.
func Level(score float64) string {
	switch {
	case score >= 0.85:
		return "very_high"
	case score >= 0.70:
		return "high"
	case score >= 0.55:
		return "medium"
	case score >= 0.40:
		return "low"
	default:
		return "very_low"
	}
}
