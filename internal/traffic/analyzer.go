// Package traffic turns a stream of byte-count events into smoothed
// throughput statistics.
//
// Rates are kbps computed as bytes*8/1024 per second. Bursts closer together
// than the gate interval are folded into the next committed interval instead
// of producing a noisy per-chunk rate.
package traffic

import (
	"math"
	"time"

	nerrors "github.com/saveenergy/netguardian/pkg/errors"
	"github.com/saveenergy/netguardian/pkg/types"
)

const (
	DefaultGateInterval  = 100 * time.Millisecond
	DefaultJitterWindow  = 100
	DefaultWarmupSamples = 5
)

// Recorder is the ingestion contract shared by the analyzer and its degraded
// fallback.
type Recorder interface {
	Reset()
	RecordChunk(byteLength int64) (types.SessionStats, error)
}

// Clock returns the current monotonic time.
type Clock func() time.Time

type Option func(*Analyzer)

func WithClock(clock Clock) Option {
	return func(a *Analyzer) {
		if clock != nil {
			a.now = clock
		}
	}
}

func WithGateInterval(d time.Duration) Option {
	return func(a *Analyzer) {
		if d > 0 {
			a.gate = d
		}
	}
}

func WithJitterWindow(capacity int) Option {
	return func(a *Analyzer) {
		if capacity > 0 {
			a.window = NewJitterWindow(capacity)
		}
	}
}

// WithWarmupSamples sets how many accepted samples are ignored before the
// minimum starts tracking.
func WithWarmupSamples(n int) Option {
	return func(a *Analyzer) {
		if n >= 0 {
			a.warmup = n
		}
	}
}

// Analyzer aggregates one measurement stream. It is not safe for concurrent
// use; callers feed a single logical stream per session.
type Analyzer struct {
	now    Clock
	gate   time.Duration
	warmup int
	window *JitterWindow

	totalBytes   int64
	uncommitted  int64
	firstPacket  bool
	lastCommit   time.Time
	sessionStart time.Time

	instant  float64
	max      float64
	min      float64
	minSet   bool
	avg      float64
	jitter   float64
	accepted int
}

var _ Recorder = (*Analyzer)(nil)

func NewAnalyzer(opts ...Option) *Analyzer {
	a := &Analyzer{
		now:    time.Now,
		gate:   DefaultGateInterval,
		warmup: DefaultWarmupSamples,
		window: NewJitterWindow(DefaultJitterWindow),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.Reset()
	return a
}

// Reset starts a new session.
func (a *Analyzer) Reset() {
	a.window.Reset()
	a.totalBytes = 0
	a.uncommitted = 0
	a.firstPacket = true
	a.instant = 0
	a.max = 0
	a.min = 0
	a.minSet = false
	a.avg = 0
	a.jitter = 0
	a.accepted = 0
	now := a.now()
	a.lastCommit = now
	a.sessionStart = now
}

// RecordChunk ingests byteLength bytes that arrived now.
func (a *Analyzer) RecordChunk(byteLength int64) (types.SessionStats, error) {
	if byteLength < 0 {
		return types.SessionStats{}, nerrors.InvalidArgument("byte count must be non-negative")
	}
	return a.record(byteLength), nil
}

// RecordBuffer ingests a received buffer; its length is the byte count.
func (a *Analyzer) RecordBuffer(buf []byte) (types.SessionStats, error) {
	return a.RecordChunk(int64(len(buf)))
}

// RecordValue ingests a byte count that arrived as a number from an untyped
// boundary (JSON, MCP). Fractions are truncated.
func (a *Analyzer) RecordValue(v float64) (types.SessionStats, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return types.SessionStats{}, nerrors.InvalidArgument("byte count must be a finite number")
	}
	if v < 0 {
		return types.SessionStats{}, nerrors.InvalidArgument("byte count must be non-negative")
	}
	if v >= math.MaxInt64 {
		return types.SessionStats{}, nerrors.InvalidArgument("byte count out of range")
	}
	return a.RecordChunk(int64(v))
}

// Stats returns the latest snapshot without ingesting anything.
func (a *Analyzer) Stats() types.SessionStats {
	return a.snapshot()
}

func (a *Analyzer) record(byteLength int64) types.SessionStats {
	now := a.now()
	a.totalBytes += byteLength

	if a.firstPacket {
		// The first chunk only anchors the interval; its bytes count toward
		// the total but not toward the first instant rate.
		a.firstPacket = false
		a.lastCommit = now
		a.sessionStart = now
		return types.SessionStats{TotalBytes: a.totalBytes}
	}

	a.uncommitted += byteLength
	elapsed := now.Sub(a.lastCommit)
	if elapsed < a.gate {
		a.avg = a.averageAt(now)
		return a.snapshot()
	}

	a.instant = kbps(a.uncommitted, elapsed)
	if a.instant > a.max {
		a.max = a.instant
	}
	a.accepted++
	if a.accepted > a.warmup {
		if !a.minSet || a.instant < a.min {
			a.min = a.instant
			a.minSet = true
		}
	}

	a.window.Add(a.instant)
	a.jitter = a.window.StdDev()
	a.avg = a.averageAt(now)

	a.uncommitted = 0
	a.lastCommit = now
	return a.snapshot()
}

func (a *Analyzer) averageAt(now time.Time) float64 {
	return kbps(a.totalBytes, now.Sub(a.sessionStart))
}

func (a *Analyzer) snapshot() types.SessionStats {
	minKbps := 0.0
	if a.minSet {
		minKbps = a.min
	}
	return types.SessionStats{
		InstantKbps: a.instant,
		MaxKbps:     a.max,
		MinKbps:     minKbps,
		AvgKbps:     a.avg,
		JitterKbps:  a.jitter,
		TotalBytes:  a.totalBytes,
		Samples:     a.accepted,
	}
}

func kbps(bytes int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(bytes) * 8 / 1024 / elapsed.Seconds()
}
