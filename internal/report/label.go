package report

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/saveenergy/netguardian/pkg/types"
)

type LabelPosition int

const (
	LabelTopLeft LabelPosition = iota
	LabelCenter
)

// DrawLabel writes text onto img on a translucent dark backing.
func DrawLabel(img *image.RGBA, text string, pos LabelPosition) {
	if img == nil || text == "" {
		return
	}
	face := basicfont.Face7x13
	b := img.Bounds()
	dr := &font.Drawer{Dst: img, Src: image.NewUniform(color.White), Face: face}
	tw := dr.MeasureString(text).Ceil()
	ascent := face.Metrics().Ascent.Ceil()
	const pad = 4

	x, y := b.Min.X+pad+2, b.Min.Y+pad+ascent+2
	if pos == LabelCenter {
		x = b.Min.X + (b.Dx()-tw)/2
		y = b.Min.Y + (b.Dy()+ascent)/2
	}
	backing := image.Rect(x-pad, y-ascent-pad, x+tw+pad, y+pad)
	draw.Draw(img, backing, image.NewUniform(color.RGBA{A: 170}), image.Point{}, draw.Over)

	dr.Dot = fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)}
	dr.DrawString(text)
}

// AnnotateFrame stamps the headline stats onto a rendered waveform.
func AnnotateFrame(img *image.RGBA, dir types.Direction, stats types.SessionStats) {
	label := fmt.Sprintf("%s  avg %.2f Mbps  max %.2f  jitter %.2f",
		dir, types.KbpsToMbps(stats.AvgKbps), types.KbpsToMbps(stats.MaxKbps), types.KbpsToMbps(stats.JitterKbps))
	if stats.Degraded {
		label += "  (degraded)"
	}
	DrawLabel(img, label, LabelTopLeft)
}
