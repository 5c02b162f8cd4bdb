// Package render holds the waveform sample buffer, the single-flight frame
// scheduler and the rasterizer that paints samples into an RGBA image.
package render

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/saveenergy/netguardian/internal/logging"
)

// DefaultFrameTimeout bounds how long a frame may wait on buffer acquisition.
const DefaultFrameTimeout = 250 * time.Millisecond

// FrameSink consumes a sample snapshot. Implementations rasterize it and hand
// the result to the display.
type FrameSink interface {
	DrawFrame(ctx context.Context, samples []float64) error
}

// Pipeline feeds the sample buffer and admits at most one draw at a time.
// Draws run inline on the goroutine that wins admission; losers return
// immediately and their sample is picked up by the next draw.
type Pipeline struct {
	buffer       *SampleBuffer
	sink         atomic.Pointer[sinkHolder]
	inFlight     atomic.Bool
	redraw       atomic.Bool
	frameTimeout time.Duration
	frames       atomic.Uint64
	dropped      atomic.Uint64
	logger       *logging.Logger
}

type sinkHolder struct {
	sink FrameSink
}

// PipelineStats counts admitted and coalesced frame requests.
type PipelineStats struct {
	Frames    uint64 `json:"frames"`
	Coalesced uint64 `json:"coalesced"`
}

func NewPipeline(buffer *SampleBuffer, sink FrameSink) *Pipeline {
	if buffer == nil {
		buffer = NewSampleBuffer(DefaultCapacity)
	}
	p := &Pipeline{
		buffer:       buffer,
		frameTimeout: DefaultFrameTimeout,
		logger:       logging.NewLogger("render"),
	}
	p.SetSink(sink)
	return p
}

// SetSink swaps the frame consumer. A nil sink turns draws into no-ops.
func (p *Pipeline) SetSink(sink FrameSink) {
	if sink == nil {
		p.sink.Store(nil)
		return
	}
	p.sink.Store(&sinkHolder{sink: sink})
}

func (p *Pipeline) SetFrameTimeout(d time.Duration) {
	if d > 0 {
		p.frameTimeout = d
	}
}

func (p *Pipeline) Buffer() *SampleBuffer {
	return p.buffer
}

// Push appends a sample and requests a frame.
func (p *Pipeline) Push(v float64) {
	p.buffer.Push(v)
	p.RequestFrame()
}

func (p *Pipeline) Clear() {
	p.buffer.Clear()
}

func (p *Pipeline) Snapshot() []float64 {
	return p.buffer.Snapshot()
}

// RequestFrame draws the current snapshot unless a draw is already in flight.
// It reports whether this call performed the draw.
func (p *Pipeline) RequestFrame() bool {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.dropped.Add(1)
		return false
	}
	defer p.release()
	p.draw()
	return true
}

// Redraw is RequestFrame for surface geometry changes: when a draw is in
// flight the request is not dropped, the current holder draws once more
// before releasing admission.
func (p *Pipeline) Redraw() {
	p.redraw.Store(true)
	if !p.inFlight.CompareAndSwap(false, true) {
		return
	}
	p.release()
}

func (p *Pipeline) release() {
	for {
		for p.redraw.Swap(false) {
			p.draw()
		}
		p.inFlight.Store(false)
		if !p.redraw.Load() || !p.inFlight.CompareAndSwap(false, true) {
			return
		}
	}
}

// InFlight reports whether a draw currently holds admission.
func (p *Pipeline) InFlight() bool {
	return p.inFlight.Load()
}

func (p *Pipeline) Stats() PipelineStats {
	return PipelineStats{Frames: p.frames.Load(), Coalesced: p.dropped.Load()}
}

func (p *Pipeline) draw() {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("frame panicked", logging.F("panic", fmt.Sprint(r)))
		}
	}()

	holder := p.sink.Load()
	if holder == nil {
		return
	}
	samples := p.buffer.Snapshot()

	ctx, cancel := context.WithTimeout(context.Background(), p.frameTimeout)
	defer cancel()
	if err := holder.sink.DrawFrame(ctx, samples); err != nil {
		p.logger.Error("frame skipped", logging.Err(err), logging.F("samples", len(samples)))
		return
	}
	p.frames.Add(1)
}
