package render_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/saveenergy/netguardian/internal/render"
)

type recordingSink struct {
	mu      sync.Mutex
	frames  [][]float64
	gate    chan struct{}
	entered chan struct{}
	err     error
	calls   atomic.Int32
}

func (s *recordingSink) DrawFrame(_ context.Context, samples []float64) error {
	s.calls.Add(1)
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.gate != nil {
		<-s.gate
	}
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	s.frames = append(s.frames, samples)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) last() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

func TestSampleBufferKeepsNewestFifteen(t *testing.T) {
	b := render.NewSampleBuffer(render.DefaultCapacity)
	for i := 1; i <= 20; i++ {
		b.Push(float64(i))
	}
	got := b.Snapshot()
	if len(got) != 15 {
		t.Fatalf("len = %d, want 15", len(got))
	}
	for i, v := range got {
		if want := float64(i + 6); v != want {
			t.Fatalf("snapshot[%d] = %v, want %v", i, v, want)
		}
	}

	b.Clear()
	if b.Len() != 0 || len(b.Snapshot()) != 0 {
		t.Fatal("clear should empty the buffer")
	}
	b.Push(7)
	if got := b.Snapshot(); len(got) != 1 || got[0] != 7 {
		t.Fatalf("snapshot after clear = %v", got)
	}
}

func TestSampleBufferSnapshotIsCopy(t *testing.T) {
	b := render.NewSampleBuffer(3)
	b.Push(1)
	snap := b.Snapshot()
	snap[0] = 99
	if b.Snapshot()[0] != 1 {
		t.Fatal("snapshot aliases buffer storage")
	}
}

func TestPushDrawsCurrentSnapshot(t *testing.T) {
	sink := &recordingSink{}
	p := render.NewPipeline(nil, sink)
	p.Push(10)
	p.Push(20)

	if got := sink.last(); len(got) != 2 || got[0] != 10 || got[1] != 20 {
		t.Fatalf("last frame = %v, want [10 20]", got)
	}
	if st := p.Stats(); st.Frames != 2 || st.Coalesced != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestConcurrentPushesDuringDrawAreCoalesced(t *testing.T) {
	sink := &recordingSink{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	p := render.NewPipeline(nil, sink)

	done := make(chan bool)
	go func() {
		p.Buffer().Push(1)
		done <- p.RequestFrame()
	}()
	<-sink.entered

	var wg sync.WaitGroup
	var won atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(v float64) {
			defer wg.Done()
			p.Buffer().Push(v)
			if p.RequestFrame() {
				won.Add(1)
			}
		}(float64(i + 2))
	}
	wg.Wait()
	close(sink.gate)

	if !<-done {
		t.Fatal("first request should have drawn")
	}
	if won.Load() != 0 {
		t.Fatalf("%d requests drew while a frame was in flight", won.Load())
	}
	if got := sink.calls.Load(); got != 1 {
		t.Fatalf("draw calls = %d, want 1", got)
	}
	if p.InFlight() {
		t.Fatal("admission flag not released")
	}
	if p.Buffer().Len() != 11 {
		t.Fatalf("buffered samples = %d, want 11", p.Buffer().Len())
	}
}

func TestFailedDrawReleasesAdmission(t *testing.T) {
	sink := &recordingSink{err: errors.New("no buffer")}
	p := render.NewPipeline(nil, sink)
	p.Push(1)
	if p.InFlight() {
		t.Fatal("flag left set after failed draw")
	}

	sink.err = nil
	p.Push(2)
	if got := sink.last(); len(got) != 2 {
		t.Fatalf("retry frame = %v, want two samples", got)
	}
}

type panickingSink struct{}

func (panickingSink) DrawFrame(context.Context, []float64) error { panic("boom") }

func TestPanickingDrawReleasesAdmission(t *testing.T) {
	p := render.NewPipeline(nil, panickingSink{})
	if !p.RequestFrame() {
		t.Fatal("expected admission")
	}
	if p.InFlight() {
		t.Fatal("flag left set after panic")
	}
}

func TestRedrawDuringFlightIsNotLost(t *testing.T) {
	sink := &recordingSink{gate: make(chan struct{}), entered: make(chan struct{}, 4)}
	p := render.NewPipeline(nil, sink)
	p.Buffer().Push(5)

	done := make(chan struct{})
	go func() {
		p.RequestFrame()
		close(done)
	}()
	<-sink.entered
	p.Redraw()
	close(sink.gate)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("draw did not finish")
	}
	if got := sink.calls.Load(); got != 2 {
		t.Fatalf("draw calls = %d, want 2", got)
	}
}

func TestNilSinkIsNoop(t *testing.T) {
	p := render.NewPipeline(nil, nil)
	if !p.RequestFrame() {
		t.Fatal("expected admission")
	}
	if p.Stats().Frames != 0 {
		t.Fatal("nil sink should not count frames")
	}
}
