package types

import "time"

// SessionStats is an immutable snapshot of a measurement session. Rates are
// kbps computed as bytes*8/1024 per second. MinKbps is 0 while unset.
type SessionStats struct {
	InstantKbps float64 `json:"instant_kbps"`
	MaxKbps     float64 `json:"max_kbps"`
	MinKbps     float64 `json:"min_kbps"`
	AvgKbps     float64 `json:"avg_kbps"`
	JitterKbps  float64 `json:"jitter_kbps"`
	TotalBytes  int64   `json:"total_bytes"`
	Samples     int     `json:"samples"`
	Degraded    bool    `json:"degraded,omitempty"`
}

type Direction string

const (
	DirectionDownload Direction = "download"
	DirectionUpload   Direction = "upload"
)

func (d Direction) Valid() bool {
	return d == DirectionDownload || d == DirectionUpload
}

// PhaseResult is the outcome of one download or upload phase.
type PhaseResult struct {
	SessionID string        `json:"session_id"`
	Direction Direction     `json:"direction"`
	ServerURL string        `json:"server_url"`
	Stats     SessionStats  `json:"stats"`
	Samples   []float64     `json:"samples,omitempty"`
	Latency   *LatencyStats `json:"latency,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// KbpsToMbps converts the binary-kilo kbps used throughout to Mbps.
func KbpsToMbps(kbps float64) float64 {
	return kbps / 1024
}
