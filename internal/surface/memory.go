package surface

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
)

var (
	errNoGeometry      = errors.New("window geometry not set")
	errAlreadyDequeued = errors.New("buffer already dequeued")
	errForeignBuffer   = errors.New("buffer not owned by this window")
)

type MemoryOption func(*MemoryWindow)

// WithRowPadding adds pad bytes to every buffer row.
func WithRowPadding(pad int) MemoryOption {
	return func(w *MemoryWindow) {
		if pad > 0 {
			w.pad = pad
		}
	}
}

// WithUnmappedBuffers makes buffers require explicit Map/Unmap.
func WithUnmappedBuffers() MemoryOption {
	return func(w *MemoryWindow) { w.unmapped = true }
}

// MemoryWindow is an in-process Window with a single front image. Flushed
// buffers become the front frame served by Frame.
type MemoryWindow struct {
	mu       sync.Mutex
	pad      int
	unmapped bool

	width  int
	height int
	format Format
	usage  Usage

	dequeued *memoryBuffer
	front    *image.RGBA
	failNext error

	flushes  int
	aborts   int
	mapped   int
	openMaps int
}

type memoryBuffer struct {
	owner  *MemoryWindow
	pix    []byte
	handle BufferHandle
}

func (b *memoryBuffer) Handle() BufferHandle { return b.handle }

var (
	_ Window = (*MemoryWindow)(nil)
	_ Mapper = (*MemoryWindow)(nil)
)

func NewMemoryWindow(opts ...MemoryOption) *MemoryWindow {
	w := &MemoryWindow{}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *MemoryWindow) SetGeometry(width, height int, format Format) error {
	if width <= 0 || height <= 0 || format.BytesPerPixel() == 0 {
		return fmt.Errorf("invalid geometry %dx%d format %d", width, height, format)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.width, w.height, w.format = width, height, format
	return nil
}

func (w *MemoryWindow) SetUsage(usage Usage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.usage = usage
	return nil
}

// FailNextRequest makes the next RequestBuffer return err.
func (w *MemoryWindow) FailNextRequest(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failNext = err
}

func (w *MemoryWindow) RequestBuffer(ctx context.Context) (Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.failNext; err != nil {
		w.failNext = nil
		return nil, err
	}
	if w.width == 0 || w.height == 0 {
		return nil, errNoGeometry
	}
	if w.dequeued != nil {
		return nil, errAlreadyDequeued
	}
	stride := w.width*w.format.BytesPerPixel() + w.pad
	size := stride * w.height
	buf := &memoryBuffer{
		owner: w,
		pix:   make([]byte, size),
		handle: BufferHandle{
			Width:  w.width,
			Height: w.height,
			Stride: stride,
			Size:   size,
			Format: w.format,
		},
	}
	if !w.unmapped {
		buf.handle.Mapped = buf.pix
	}
	w.dequeued = buf
	return buf, nil
}

func (w *MemoryWindow) Map(buf Buffer) ([]byte, error) {
	mb, err := w.own(buf)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	w.mapped++
	w.openMaps++
	w.mu.Unlock()
	return mb.pix, nil
}

func (w *MemoryWindow) Unmap(buf Buffer, _ []byte) error {
	if _, err := w.own(buf); err != nil {
		return err
	}
	w.mu.Lock()
	w.openMaps--
	w.mu.Unlock()
	return nil
}

func (w *MemoryWindow) FlushBuffer(buf Buffer, _ image.Rectangle) error {
	mb, err := w.own(buf)
	if err != nil {
		return err
	}
	h := mb.handle
	img := image.NewRGBA(image.Rect(0, 0, h.Width, h.Height))
	rowBytes := h.Width * 4
	for y := 0; y < h.Height; y++ {
		copy(img.Pix[y*img.Stride:y*img.Stride+rowBytes], mb.pix[y*h.Stride:y*h.Stride+rowBytes])
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dequeued != mb {
		return errForeignBuffer
	}
	w.dequeued = nil
	w.front = img
	w.flushes++
	return nil
}

func (w *MemoryWindow) AbortBuffer(buf Buffer) {
	mb, ok := buf.(*memoryBuffer)
	if !ok {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dequeued == mb {
		w.dequeued = nil
		w.aborts++
	}
}

// Frame returns the last flushed image, or nil before the first flush.
func (w *MemoryWindow) Frame() *image.RGBA {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.front
}

// MemoryStats reports buffer traffic on a MemoryWindow.
type MemoryStats struct {
	Flushes     int
	Aborts      int
	Maps        int
	OpenMapping int
	Dequeued    bool
	Usage       Usage
}

func (w *MemoryWindow) Stats() MemoryStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return MemoryStats{
		Flushes:     w.flushes,
		Aborts:      w.aborts,
		Maps:        w.mapped,
		OpenMapping: w.openMaps,
		Dequeued:    w.dequeued != nil,
		Usage:       w.usage,
	}
}

func (w *MemoryWindow) own(buf Buffer) (*memoryBuffer, error) {
	mb, ok := buf.(*memoryBuffer)
	if !ok || mb.owner != w {
		return nil, errForeignBuffer
	}
	return mb, nil
}
