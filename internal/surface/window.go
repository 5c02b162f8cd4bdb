// Package surface delivers rasterized frames into platform graphics buffers.
//
// A Window hands out writable buffers, one at a time. The Writer copies an
// image into the buffer honoring its row stride and flushes it back; the
// Surface tracks the window lifecycle and turns sample snapshots into frames.
package surface

import (
	"context"
	"image"
)

// Format is the pixel layout of a buffer.
type Format int

const (
	FormatRGBA8888 Format = 1
)

func (f Format) BytesPerPixel() int {
	switch f {
	case FormatRGBA8888:
		return 4
	default:
		return 0
	}
}

// Usage flags describe how buffers are accessed.
type Usage uint32

const (
	UsageCPUReadRarely Usage = 1 << iota
	UsageCPUWriteOften
	UsageComposer
)

// DefaultUsage is applied when a surface is created.
const DefaultUsage = UsageCPUReadRarely | UsageCPUWriteOften | UsageComposer

// BufferHandle describes the memory behind an acquired buffer. Mapped is nil
// when the buffer has to be mapped through the window's Mapper.
type BufferHandle struct {
	Mapped []byte
	Width  int
	Height int
	Stride int
	Size   int
	Format Format
}

// Buffer is a writable graphics buffer owned by a Window.
type Buffer interface {
	Handle() BufferHandle
}

// Window is the platform side of a surface.
type Window interface {
	// RequestBuffer blocks until a buffer is writable or ctx is done.
	RequestBuffer(ctx context.Context) (Buffer, error)
	// FlushBuffer submits buf. An empty damage rectangle means the whole
	// buffer with no fence region.
	FlushBuffer(buf Buffer, damage image.Rectangle) error
	// AbortBuffer returns buf without presenting it.
	AbortBuffer(buf Buffer)
	// SetGeometry may be called while a buffer is dequeued; the new size
	// then applies from the next RequestBuffer.
	SetGeometry(width, height int, format Format) error
	SetUsage(usage Usage) error
}

// Mapper is implemented by windows whose buffers need explicit mapping.
type Mapper interface {
	Map(buf Buffer) ([]byte, error)
	Unmap(buf Buffer, mem []byte) error
}
