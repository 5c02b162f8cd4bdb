package surface

import (
	"context"
	"fmt"
	"sync"

	"github.com/saveenergy/netguardian/internal/logging"
	"github.com/saveenergy/netguardian/internal/render"
	nerrors "github.com/saveenergy/netguardian/pkg/errors"
)

// State is the lifecycle state of a Surface.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Surface binds the host window lifecycle to frame production. It implements
// render.FrameSink; frames drawn while no window is ready fail with
// SurfaceUnavailable.
type Surface struct {
	mu         sync.Mutex
	state      State
	width      int
	height     int
	generation uint64
	window     Window
	writer     *Writer
	raster     *render.Rasterizer
	redraw     func()
	logger     *logging.Logger
}

var _ render.FrameSink = (*Surface)(nil)

func New(raster *render.Rasterizer) *Surface {
	if raster == nil {
		raster = render.NewRasterizer(render.DefaultCapacity)
	}
	return &Surface{raster: raster, logger: logging.NewLogger("surface")}
}

// OnRedraw installs the hook run after a geometry change, usually
// Pipeline.Redraw.
func (s *Surface) OnRedraw(fn func()) {
	s.mu.Lock()
	s.redraw = fn
	s.mu.Unlock()
}

func (s *Surface) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Surface) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

// OnSurfaceCreated attaches window at the given size. It is valid from any
// state; a new window replaces a destroyed one.
func (s *Surface) OnSurfaceCreated(width, height int, window Window) error {
	if window == nil {
		return nerrors.InvalidArgument("nil window")
	}
	if width <= 0 || height <= 0 {
		return nerrors.InvalidArgument(fmt.Sprintf("invalid surface size %dx%d", width, height))
	}
	if err := configure(window, width, height); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = StateReady
	s.width, s.height = width, height
	s.window = window
	s.writer = NewWriter(window)
	s.generation++
	redraw := s.redraw
	s.mu.Unlock()

	s.logger.Info("surface created", logging.F("width", width), logging.F("height", height))
	if redraw != nil {
		redraw()
	}
	return nil
}

// OnSurfaceChanged resizes the ready window and redraws at the new size.
func (s *Surface) OnSurfaceChanged(width, height int) error {
	if width <= 0 || height <= 0 {
		return nerrors.InvalidArgument(fmt.Sprintf("invalid surface size %dx%d", width, height))
	}
	s.mu.Lock()
	if s.state != StateReady {
		state := s.state
		s.mu.Unlock()
		return nerrors.SurfaceUnavailable("resize in state " + state.String())
	}
	window := s.window
	s.mu.Unlock()

	if err := configure(window, width, height); err != nil {
		return err
	}

	s.mu.Lock()
	if s.window != window || s.state != StateReady {
		s.mu.Unlock()
		return nerrors.SurfaceUnavailable("surface replaced during resize")
	}
	s.width, s.height = width, height
	s.generation++
	redraw := s.redraw
	s.mu.Unlock()

	s.logger.Debug("surface changed", logging.F("width", width), logging.F("height", height))
	if redraw != nil {
		redraw()
	}
	return nil
}

// OnSurfaceDestroyed detaches the window. Safe at any time, including while
// a frame is being drawn; that frame is discarded.
func (s *Surface) OnSurfaceDestroyed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDestroyed {
		return
	}
	s.state = StateDestroyed
	s.window = nil
	s.writer = nil
	s.generation++
	s.logger.Info("surface destroyed")
}

// DrawFrame rasterizes samples at the current size and commits the result.
func (s *Surface) DrawFrame(ctx context.Context, samples []float64) error {
	s.mu.Lock()
	if s.state != StateReady {
		state := s.state
		s.mu.Unlock()
		return nerrors.SurfaceUnavailable("no surface in state " + state.String())
	}
	width, height := s.width, s.height
	writer := s.writer
	gen := s.generation
	s.mu.Unlock()

	img := s.raster.Draw(samples, width, height)

	s.mu.Lock()
	current := s.generation
	s.mu.Unlock()
	if current != gen {
		return nerrors.SurfaceUnavailable("surface changed while drawing")
	}
	return writer.Commit(ctx, img)
}

func configure(window Window, width, height int) error {
	if err := window.SetGeometry(width, height, FormatRGBA8888); err != nil {
		return nerrors.BufferAcquisitionFailure("set geometry", err)
	}
	if err := window.SetUsage(DefaultUsage); err != nil {
		return nerrors.BufferAcquisitionFailure("set usage", err)
	}
	return nil
}
