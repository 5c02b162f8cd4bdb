// Package measure runs download and upload phases against a speed test peer
// and feeds every received chunk through the traffic analyzer and the
// waveform pipeline.
package measure

import (
	"fmt"
	"sync"
	"time"

	"github.com/saveenergy/netguardian/internal/logging"
	"github.com/saveenergy/netguardian/internal/render"
	"github.com/saveenergy/netguardian/internal/traffic"
	nerrors "github.com/saveenergy/netguardian/pkg/errors"
	"github.com/saveenergy/netguardian/pkg/types"
)

// SampleObserver is notified after each committed sample with the new stats
// and the buffered waveform.
type SampleObserver func(stats types.SessionStats, samples []float64)

type SessionOption func(*Session)

func WithSessionClock(clock traffic.Clock) SessionOption {
	return func(s *Session) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithObserver registers fn to receive committed samples.
func WithObserver(fn SampleObserver) SessionOption {
	return func(s *Session) { s.observer = fn }
}

// Session serializes one logical measurement stream. Chunks from concurrent
// transfer goroutines are folded into a single analyzer, committed samples
// are pushed to the pipeline. If the analyzer fails the session keeps going
// on a byte counter.
type Session struct {
	mu       sync.Mutex
	now      traffic.Clock
	analyzer traffic.Recorder
	fallback *traffic.ByteCounter
	degraded bool
	last     types.SessionStats
	samples  int
	lastPush time.Time

	pipeline *render.Pipeline
	observer SampleObserver
	logger   *logging.Logger
}

func NewSession(analyzer traffic.Recorder, pipeline *render.Pipeline, opts ...SessionOption) *Session {
	s := &Session{
		now:      time.Now,
		analyzer: analyzer,
		pipeline: pipeline,
		logger:   logging.NewLogger("measure"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.analyzer == nil {
		s.analyzer = traffic.NewAnalyzer(traffic.WithClock(s.now))
	}
	if s.pipeline == nil {
		s.pipeline = render.NewPipeline(nil, nil)
	}
	s.fallback = traffic.NewByteCounter(s.now)
	return s
}

func (s *Session) Pipeline() *render.Pipeline {
	return s.pipeline
}

// Reset starts a new phase: analyzer state and the waveform are cleared.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.degraded = false
	s.last = types.SessionStats{}
	s.samples = 0
	s.lastPush = time.Time{}
	if err := s.guard(func() error { s.analyzer.Reset(); return nil }); err != nil {
		s.failover(err)
	}
	s.fallback.Reset()
	s.pipeline.Clear()
}

// RecordBuffer ingests a received buffer.
func (s *Session) RecordBuffer(buf []byte) (types.SessionStats, error) {
	return s.RecordChunk(int64(len(buf)))
}

// RecordChunk ingests byteLength bytes.
func (s *Session) RecordChunk(byteLength int64) (types.SessionStats, error) {
	if byteLength < 0 {
		return types.SessionStats{}, nerrors.InvalidArgument("byte count must be non-negative")
	}

	s.mu.Lock()
	degradedStats, _ := s.fallback.RecordChunk(byteLength)
	var stats types.SessionStats
	if !s.degraded {
		err := s.guard(func() error {
			var err error
			stats, err = s.analyzer.RecordChunk(byteLength)
			return err
		})
		if err != nil {
			s.failover(err)
		}
	}
	if s.degraded {
		stats = degradedStats
	}
	s.last = stats
	push, sample := s.committed(stats)
	var samples []float64
	if push {
		// Buffered in commit order; the draw runs outside the lock.
		s.pipeline.Buffer().Push(sample)
		if s.observer != nil {
			samples = s.pipeline.Snapshot()
		}
	}
	s.mu.Unlock()

	if push {
		s.pipeline.RequestFrame()
		if s.observer != nil {
			s.observer(stats, samples)
		}
	}
	return stats, nil
}

// Stats returns the stats of the most recent chunk.
func (s *Session) Stats() types.SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Session) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// committed reports whether stats carry a new waveform sample. Degraded
// stats have no sample count, so the average is sampled at the gate interval.
func (s *Session) committed(stats types.SessionStats) (bool, float64) {
	if !stats.Degraded {
		if stats.Samples > s.samples {
			s.samples = stats.Samples
			return true, stats.InstantKbps
		}
		return false, 0
	}
	now := s.now()
	if !s.lastPush.IsZero() && now.Sub(s.lastPush) < traffic.DefaultGateInterval {
		return false, 0
	}
	s.lastPush = now
	return true, stats.AvgKbps
}

func (s *Session) failover(cause error) {
	if s.degraded {
		return
	}
	s.degraded = true
	err := nerrors.NativeComputationFailure("analyzer unavailable", cause)
	s.logger.Warn("falling back to byte counter", logging.Err(err))
}

// guard runs fn, converting a panic into an error.
func (s *Session) guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("analyzer panic: %v", r)
		}
	}()
	return fn()
}
