package types

import (
	"math"
	"time"
)

// LatencyStats summarizes round-trip probes of a peer.
type LatencyStats struct {
	MinMs    float64 `json:"min_ms"`
	AvgMs    float64 `json:"avg_ms"`
	MaxMs    float64 `json:"max_ms"`
	JitterMs float64 `json:"jitter_ms"`
	Samples  int     `json:"samples"`
}

// SummarizeLatency computes min/avg/max and the mean absolute difference
// between consecutive probes.
func SummarizeLatency(rtts []time.Duration) LatencyStats {
	if len(rtts) == 0 {
		return LatencyStats{}
	}
	ms := func(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

	stats := LatencyStats{MinMs: math.MaxFloat64, Samples: len(rtts)}
	var sum, diffs float64
	for i, d := range rtts {
		v := ms(d)
		sum += v
		stats.MinMs = math.Min(stats.MinMs, v)
		stats.MaxMs = math.Max(stats.MaxMs, v)
		if i > 0 {
			diffs += math.Abs(v - ms(rtts[i-1]))
		}
	}
	stats.AvgMs = sum / float64(len(rtts))
	if len(rtts) > 1 {
		stats.JitterMs = diffs / float64(len(rtts)-1)
	}
	return stats
}
