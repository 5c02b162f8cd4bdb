// Package diagnostic grades finished measurements for people and agents.
package diagnostic

import (
	"fmt"
	"strings"

	"github.com/saveenergy/netguardian/pkg/types"
)

// Interpretation is the graded reading of one or two phases.
type Interpretation struct {
	Grade           string   `json:"grade"`
	Summary         string   `json:"summary"`
	LatencyRating   string   `json:"latency_rating"`
	SpeedRating     string   `json:"speed_rating"`
	StabilityRating string   `json:"stability_rating"`
	SuitableFor     []string `json:"suitable_for"`
	Concerns        []string `json:"concerns"`
}

// Params are the inputs to Interpret. Throughput figures are Mbps; zero
// means not measured.
type Params struct {
	DownloadMbps float64
	UploadMbps   float64
	LatencyMs    float64
	PingJitterMs float64
	// Variation is throughput jitter over average throughput, 0..1+.
	Variation float64
	Degraded  bool
}

// FromResults builds Params from finished phases. Either may be nil.
func FromResults(download, upload *types.PhaseResult) Params {
	var p Params
	var variations []float64
	for _, r := range []*types.PhaseResult{download, upload} {
		if r == nil {
			continue
		}
		mbps := types.KbpsToMbps(r.Stats.AvgKbps)
		if r.Direction == types.DirectionUpload {
			p.UploadMbps = mbps
		} else {
			p.DownloadMbps = mbps
		}
		if r.Stats.AvgKbps > 0 {
			variations = append(variations, r.Stats.JitterKbps/r.Stats.AvgKbps)
		}
		if r.Stats.Degraded {
			p.Degraded = true
		}
		if r.Latency != nil && p.LatencyMs == 0 {
			p.LatencyMs = r.Latency.AvgMs
			p.PingJitterMs = r.Latency.JitterMs
		}
	}
	for _, v := range variations {
		p.Variation = max(p.Variation, v)
	}
	return p
}

func Interpret(p Params) *Interpretation {
	interp := &Interpretation{
		LatencyRating:   rateLatency(p.LatencyMs),
		SpeedRating:     rateSpeed(p.DownloadMbps, p.UploadMbps),
		StabilityRating: rateStability(p),
		SuitableFor:     suitability(p),
		Concerns:        concerns(p),
	}
	interp.Grade = grade(interp.LatencyRating, interp.SpeedRating, interp.StabilityRating)
	interp.Summary = summary(interp.Grade, p)
	return interp
}

func rateLatency(ms float64) string {
	switch {
	case ms <= 0:
		return "unknown"
	case ms <= 20:
		return "excellent"
	case ms <= 50:
		return "good"
	case ms <= 100:
		return "fair"
	default:
		return "poor"
	}
}

func rateSpeed(downMbps, upMbps float64) string {
	speed := downMbps
	if speed <= 0 {
		speed = upMbps
	}
	switch {
	case speed <= 0:
		return "unknown"
	case speed >= 100:
		return "fast"
	case speed >= 25:
		return "good"
	case speed >= 5:
		return "moderate"
	default:
		return "slow"
	}
}

// rateStability looks at how much the instant rate wandered around its mean
// and at ping jitter.
func rateStability(p Params) string {
	if p.Variation <= 0 && p.PingJitterMs <= 0 {
		return "unknown"
	}
	switch {
	case p.Variation > 0.5:
		return "unstable"
	case p.Variation > 0.25 || p.PingJitterMs > 30:
		return "degraded"
	case p.Variation > 0.1 || p.PingJitterMs > 10:
		return "fair"
	default:
		return "stable"
	}
}

func suitability(p Params) []string {
	s := []string{}
	if (p.DownloadMbps >= 1 || p.UploadMbps >= 1) && p.LatencyMs < 200 {
		s = append(s, "web_browsing")
	}
	if p.DownloadMbps >= 5 && p.UploadMbps >= 2 && p.LatencyMs < 100 && p.PingJitterMs < 30 {
		s = append(s, "video_conferencing")
	}
	if p.DownloadMbps >= 25 {
		s = append(s, "streaming_4k")
	} else if p.DownloadMbps >= 5 {
		s = append(s, "streaming_hd")
	}
	if p.LatencyMs > 0 && p.LatencyMs < 50 && p.PingJitterMs < 15 {
		s = append(s, "gaming")
	}
	if p.DownloadMbps >= 50 || p.UploadMbps >= 50 {
		s = append(s, "large_transfers")
	}
	return s
}

func concerns(p Params) []string {
	c := []string{}
	if p.LatencyMs > 100 {
		c = append(c, "high_latency")
	}
	if p.PingJitterMs > 30 {
		c = append(c, "high_jitter")
	}
	if p.Variation > 0.25 {
		c = append(c, "unsteady_throughput")
	}
	if p.DownloadMbps > 0 && p.DownloadMbps < 5 {
		c = append(c, "slow_download")
	}
	if p.UploadMbps > 0 && p.UploadMbps < 2 {
		c = append(c, "slow_upload")
	}
	if p.Degraded {
		c = append(c, "estimated_statistics")
	}
	return c
}

var ratingScore = map[string]int{
	"excellent": 4,
	"fast":      4,
	"stable":    4,
	"good":      3,
	"fair":      2,
	"moderate":  2,
	"degraded":  1,
	"poor":      0,
	"slow":      0,
	"unstable":  0,
	"unknown":   2,
}

func grade(latency, speed, stability string) string {
	score := ratingScore[latency] + ratingScore[speed] + ratingScore[stability]
	switch {
	case score >= 11:
		return "A"
	case score >= 9:
		return "B"
	case score >= 6:
		return "C"
	case score >= 3:
		return "D"
	default:
		return "F"
	}
}

var gradeNames = map[string]string{
	"A": "Excellent",
	"B": "Good",
	"C": "Fair",
	"D": "Poor",
	"F": "Very poor",
}

func summary(g string, p Params) string {
	var parts []string
	if p.DownloadMbps > 0 {
		parts = append(parts, fmt.Sprintf("%.0f Mbps down", p.DownloadMbps))
	}
	if p.UploadMbps > 0 {
		parts = append(parts, fmt.Sprintf("%.0f Mbps up", p.UploadMbps))
	}
	if p.LatencyMs > 0 {
		parts = append(parts, fmt.Sprintf("%.0fms latency", p.LatencyMs))
	}
	s := gradeNames[g] + " connection"
	if len(parts) > 0 {
		s += ": " + strings.Join(parts, ", ")
	}
	return s
}
