//go:build !linux

package surface

import (
	"errors"
	"image"
)

// FileWindow is only available on linux.
type FileWindow struct {
	MemoryWindow
}

var errFileWindowUnsupported = errors.New("frame file windows require linux")

func OpenFileWindow(string) (*FileWindow, error) {
	return nil, errFileWindowUnsupported
}

func (w *FileWindow) Close() error { return nil }

func ReadFrame(string) (*image.RGBA, error) {
	return nil, errFileWindowUnsupported
}
