//go:build linux

package surface_test

import (
	"bytes"
	"context"
	"image"
	"path/filepath"
	"testing"

	"github.com/saveenergy/netguardian/internal/render"
	"github.com/saveenergy/netguardian/internal/surface"
)

func TestFileWindowRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.bin")
	win, err := surface.OpenFileWindow(path)
	if err != nil {
		t.Fatal(err)
	}
	defer win.Close()

	if err := win.SetGeometry(7, 5, surface.FormatRGBA8888); err != nil {
		t.Fatal(err)
	}
	src := patterned(7, 5)
	if err := surface.NewWriter(win).Commit(context.Background(), src); err != nil {
		t.Fatal(err)
	}

	got, err := surface.ReadFrame(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Bounds() != src.Bounds() || !bytes.Equal(got.Pix, src.Pix) {
		t.Fatal("frame file does not match committed image")
	}

	if _, err := win.RequestBuffer(context.Background()); err != nil {
		t.Fatalf("buffer not returned after flush: %v", err)
	}
}

func TestFileWindowResizeWhileBufferHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.bin")
	win, err := surface.OpenFileWindow(path)
	if err != nil {
		t.Fatal(err)
	}
	defer win.Close()

	p := render.NewPipeline(nil, nil)
	s, err := surface.Attach(p, win, 40, 20)
	if err != nil {
		t.Fatal(err)
	}
	p.Push(100)
	p.Push(300)

	held, err := win.RequestBuffer(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.OnSurfaceChanged(80, 40); err != nil {
		t.Fatalf("resize while a buffer is held: %v", err)
	}
	if w, h := s.Size(); w != 80 || h != 40 {
		t.Fatalf("size = %dx%d, want 80x40", w, h)
	}
	if h := held.Handle(); h.Width != 40 || h.Height != 20 {
		t.Fatalf("held buffer resized to %dx%d", h.Width, h.Height)
	}
	win.AbortBuffer(held)

	p.Redraw()
	got, err := surface.ReadFrame(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Bounds() != image.Rect(0, 0, 80, 40) {
		t.Fatalf("frame = %v, want 80x40", got.Bounds())
	}
}
