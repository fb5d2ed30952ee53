// Package vibe drives the dispatch engine over a labeled phrase corpus
// and aggregates correctness and latency into reproducible reports. The
// harness is a pure consumer of the engine's public contract; given the
// same gateway responses it produces the same numbers.
package vibe

import (
	"math"
	"sort"
	"time"
)

// TimingStats summarizes the latency of repeated trials of one phrase.
// All figures are milliseconds. Summaries are computed fresh from the raw
// samples each run, never updated incrementally.
type TimingStats struct {
	Count            int     `json:"count"`
	MeanMs           float64 `json:"mean_ms"`
	MedianMs         float64 `json:"median_ms"`
	MinMs            float64 `json:"min_ms"`
	MaxMs            float64 `json:"max_ms"`
	P25Ms            float64 `json:"p25_ms"`
	P75Ms            float64 `json:"p75_ms"`
	P95Ms            float64 `json:"p95_ms"`
	StdDevMs         float64 `json:"std_dev_ms"`
	ConsistencyScore float64 `json:"consistency_score"`
	Category         string  `json:"category"`
}

// Performance categories by mean latency.
const (
	categoryVeryFast = "Very Fast"
	categoryFast     = "Fast"
	categoryModerate = "Moderate"
	categorySlow     = "Slow"
	categoryVerySlow = "Very Slow"
)

// ComputeTiming derives the full summary from raw samples. The
// consistency score is 100*(1-cv) clamped to [0,100], where cv is the
// coefficient of variation; an identical-latency run set scores 100.
func ComputeTiming(samples []time.Duration) TimingStats {
	if len(samples) == 0 {
		return TimingStats{Category: categorize(0)}
	}

	ms := make([]float64, len(samples))
	for i, d := range samples {
		ms[i] = float64(d) / float64(time.Millisecond)
	}
	sort.Float64s(ms)

	var sum float64
	for _, v := range ms {
		sum += v
	}
	mean := sum / float64(len(ms))

	var sqDiff float64
	for _, v := range ms {
		d := v - mean
		sqDiff += d * d
	}
	stdDev := math.Sqrt(sqDiff / float64(len(ms)))

	score := 100.0
	if mean > 0 && stdDev > 0 {
		score = 100 * (1 - stdDev/mean)
		if score < 0 {
			score = 0
		}
	}

	return TimingStats{
		Count:            len(ms),
		MeanMs:           mean,
		MedianMs:         percentile(ms, 50),
		MinMs:            ms[0],
		MaxMs:            ms[len(ms)-1],
		P25Ms:            percentile(ms, 25),
		P75Ms:            percentile(ms, 75),
		P95Ms:            percentile(ms, 95),
		StdDevMs:         stdDev,
		ConsistencyScore: score,
		Category:         categorize(mean),
	}
}

// percentile interpolates linearly between the closest ranks of sorted
// samples.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func categorize(meanMs float64) string {
	switch {
	case meanMs < 1000:
		return categoryVeryFast
	case meanMs < 3000:
		return categoryFast
	case meanMs < 8000:
		return categoryModerate
	case meanMs < 15000:
		return categorySlow
	default:
		return categoryVerySlow
	}
}
