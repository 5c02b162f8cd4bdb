//go:build linux

package surface

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// FrameHeaderSize is the length of the header preceding the pixels in a
// frame file: magic, width, height and stride as little-endian uint32.
const FrameHeaderSize = 16

var frameMagic = [4]byte{'N', 'G', 'F', 'B'}

// FileWindow presents frames into a shared file, typically under /dev/shm,
// so another process can mmap the latest frame. Its buffers carry no mapped
// address; the Writer maps them for the duration of each copy.
type FileWindow struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	width    int
	height   int
	format   Format
	usage    Usage
	dequeued *fileBuffer
	pending  *geometry
}

type geometry struct {
	width, height int
	format        Format
}

type fileBuffer struct {
	owner  *FileWindow
	handle BufferHandle
	region []byte
}

func (b *fileBuffer) Handle() BufferHandle { return b.handle }

var (
	_ Window = (*FileWindow)(nil)
	_ Mapper = (*FileWindow)(nil)
)

func OpenFileWindow(path string) (*FileWindow, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open frame file: %w", err)
	}
	return &FileWindow{file: f, path: path}, nil
}

func (w *FileWindow) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

func (w *FileWindow) SetGeometry(width, height int, format Format) error {
	if width <= 0 || height <= 0 || format.BytesPerPixel() == 0 {
		return fmt.Errorf("invalid geometry %dx%d format %d", width, height, format)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	g := &geometry{width: width, height: height, format: format}
	if w.dequeued != nil {
		// The held buffer keeps its mapping size until it is returned.
		w.pending = g
		return nil
	}
	return w.apply(g)
}

// apply resizes the file to g. Callers hold w.mu and no buffer is dequeued.
func (w *FileWindow) apply(g *geometry) error {
	size := int64(FrameHeaderSize + g.width*g.format.BytesPerPixel()*g.height)
	if err := w.file.Truncate(size); err != nil {
		return fmt.Errorf("resize frame file: %w", err)
	}
	w.width, w.height, w.format = g.width, g.height, g.format
	w.pending = nil
	return nil
}

func (w *FileWindow) SetUsage(usage Usage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.usage = usage
	return nil
}

func (w *FileWindow) RequestBuffer(ctx context.Context) (Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.width == 0 && w.pending == nil {
		return nil, errNoGeometry
	}
	if w.dequeued != nil {
		return nil, errAlreadyDequeued
	}
	if w.pending != nil {
		if err := w.apply(w.pending); err != nil {
			return nil, err
		}
	}
	stride := w.width * w.format.BytesPerPixel()
	w.dequeued = &fileBuffer{
		owner: w,
		handle: BufferHandle{
			Width:  w.width,
			Height: w.height,
			Stride: stride,
			Size:   stride * w.height,
			Format: w.format,
		},
	}
	return w.dequeued, nil
}

// Map maps the header and pixels and returns the pixel region.
func (w *FileWindow) Map(buf Buffer) ([]byte, error) {
	fb, err := w.own(buf)
	if err != nil {
		return nil, err
	}
	length := FrameHeaderSize + fb.handle.Size
	region, err := unix.Mmap(int(w.file.Fd()), 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap frame file: %w", err)
	}
	fb.region = region
	return region[FrameHeaderSize:], nil
}

func (w *FileWindow) Unmap(buf Buffer, _ []byte) error {
	fb, err := w.own(buf)
	if err != nil {
		return err
	}
	if fb.region == nil {
		return nil
	}
	h := fb.handle
	copy(fb.region[:4], frameMagic[:])
	binary.LittleEndian.PutUint32(fb.region[4:8], uint32(h.Width))
	binary.LittleEndian.PutUint32(fb.region[8:12], uint32(h.Height))
	binary.LittleEndian.PutUint32(fb.region[12:16], uint32(h.Stride))
	err = unix.Munmap(fb.region)
	fb.region = nil
	return err
}

func (w *FileWindow) FlushBuffer(buf Buffer, _ image.Rectangle) error {
	fb, err := w.own(buf)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dequeued != fb {
		return errForeignBuffer
	}
	w.dequeued = nil
	if err := unix.Fdatasync(int(w.file.Fd())); err != nil && !errors.Is(err, unix.EINVAL) {
		return fmt.Errorf("sync frame file: %w", err)
	}
	return nil
}

func (w *FileWindow) AbortBuffer(buf Buffer) {
	fb, ok := buf.(*fileBuffer)
	if !ok {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dequeued == fb {
		w.dequeued = nil
	}
}

// Frame decodes the last flushed frame, or nil if none was written.
func (w *FileWindow) Frame() *image.RGBA {
	img, err := ReadFrame(w.path)
	if err != nil {
		return nil
	}
	return img
}

// ReadFrame decodes a frame file written by a FileWindow.
func ReadFrame(path string) (*image.RGBA, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < FrameHeaderSize || [4]byte(data[:4]) != frameMagic {
		return nil, errors.New("not a frame file")
	}
	width := int(binary.LittleEndian.Uint32(data[4:8]))
	height := int(binary.LittleEndian.Uint32(data[8:12]))
	stride := int(binary.LittleEndian.Uint32(data[12:16]))
	pix := data[FrameHeaderSize:]
	if stride < width*4 || len(pix) < stride*height {
		return nil, errors.New("truncated frame file")
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	if err := CopyImage(img.Pix, img.Stride, &image.RGBA{Pix: pix, Stride: stride, Rect: img.Rect}); err != nil {
		return nil, err
	}
	return img, nil
}

func (w *FileWindow) own(buf Buffer) (*fileBuffer, error) {
	fb, ok := buf.(*fileBuffer)
	if !ok || fb.owner != w {
		return nil, errForeignBuffer
	}
	return fb, nil
}
