package surface

import (
	"fmt"
	"image"

	nerrors "github.com/saveenergy/netguardian/pkg/errors"
)

// CopyImage writes src into dst, a buffer with dstStride bytes per row. When
// the row strides match the pixels are moved in one copy; otherwise each row
// copies only its width*4 valid bytes.
func CopyImage(dst []byte, dstStride int, src *image.RGBA) error {
	if src == nil {
		return nerrors.InvalidArgument("nil source image")
	}
	w, h := src.Rect.Dx(), src.Rect.Dy()
	if w == 0 || h == 0 {
		return nil
	}
	rowBytes := w * 4
	if dstStride < rowBytes {
		return nerrors.InvalidArgument(fmt.Sprintf("destination stride %d shorter than row %d", dstStride, rowBytes))
	}
	if need := dstStride*(h-1) + rowBytes; len(dst) < need {
		return nerrors.InvalidArgument(fmt.Sprintf("destination holds %d bytes, need %d", len(dst), need))
	}

	off := src.PixOffset(src.Rect.Min.X, src.Rect.Min.Y)
	if dstStride == src.Stride {
		n := src.Stride*(h-1) + rowBytes
		copy(dst[:n], src.Pix[off:off+n])
		return nil
	}
	for y := 0; y < h; y++ {
		s := off + y*src.Stride
		d := y * dstStride
		copy(dst[d:d+rowBytes], src.Pix[s:s+rowBytes])
	}
	return nil
}

// clip returns the part of img that fits a width x height buffer.
func clip(img *image.RGBA, width, height int) *image.RGBA {
	r := img.Rect
	if r.Dx() <= width && r.Dy() <= height {
		return img
	}
	sub := image.Rect(r.Min.X, r.Min.Y, r.Min.X+min(width, r.Dx()), r.Min.Y+min(height, r.Dy()))
	return img.SubImage(sub).(*image.RGBA)
}
