package surface

import (
	"context"
	"image"

	"github.com/saveenergy/netguardian/internal/logging"
	nerrors "github.com/saveenergy/netguardian/pkg/errors"
)

// Writer commits images to a Window.
type Writer struct {
	window Window
	logger *logging.Logger
}

func NewWriter(window Window) *Writer {
	return &Writer{window: window, logger: logging.NewLogger("surface")}
}

// Commit acquires a buffer, copies img into it and flushes it. On any
// failure the buffer and its mapping are released before returning.
func (w *Writer) Commit(ctx context.Context, img *image.RGBA) error {
	if w.window == nil {
		return nerrors.SurfaceUnavailable("no window")
	}
	buf, err := w.window.RequestBuffer(ctx)
	if err != nil {
		return nerrors.BufferAcquisitionFailure("request buffer", err)
	}
	if err := w.fill(buf, img); err != nil {
		w.window.AbortBuffer(buf)
		return err
	}
	if err := w.window.FlushBuffer(buf, image.Rectangle{}); err != nil {
		// The window still owns buf; hand it back or later frames starve.
		w.window.AbortBuffer(buf)
		return nerrors.BufferAcquisitionFailure("flush buffer", err)
	}
	return nil
}

func (w *Writer) fill(buf Buffer, img *image.RGBA) error {
	h := buf.Handle()
	if h.Format != 0 && h.Format != FormatRGBA8888 {
		return nerrors.BufferAcquisitionFailure("unsupported buffer format", nil)
	}
	src := clip(img, h.Width, h.Height)

	if h.Mapped != nil {
		return CopyImage(h.Mapped, h.Stride, src)
	}

	mapper, ok := w.window.(Mapper)
	if !ok {
		return nerrors.BufferAcquisitionFailure("buffer has no mapped memory", nil)
	}
	mem, err := mapper.Map(buf)
	if err != nil {
		return nerrors.BufferAcquisitionFailure("map buffer", err)
	}
	defer func() {
		if err := mapper.Unmap(buf, mem); err != nil {
			w.logger.Warn("unmap buffer failed", logging.Err(err))
		}
	}()
	return CopyImage(mem, h.Stride, src)
}
