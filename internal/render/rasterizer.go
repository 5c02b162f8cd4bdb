package render

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"golang.org/x/image/vector"
)

// MinScale is the smallest vertical full-scale value in kbps.
const MinScale = 100.0

// Headroom is applied on top of the largest sample.
const Headroom = 1.2

var (
	Background   = color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}
	StrokeColor  = color.NRGBA{R: 0x00, G: 0x7D, B: 0xFF, A: 0xFF}
	GradientTop  = color.NRGBA{R: 0x00, G: 0x7D, B: 0xFF, A: 0x66}
	GradientBase = color.NRGBA{R: 0x00, G: 0x7D, B: 0xFF, A: 0x00}
)

const (
	DefaultStrokeWidth = 4
	capSegments        = 16
)

// Point is a canvas coordinate with the origin at the top left.
type Point struct {
	X, Y float32
}

// Rasterizer paints sample snapshots as a filled, stroked waveform.
type Rasterizer struct {
	Capacity    int
	StrokeWidth float32
}

func NewRasterizer(capacity int) *Rasterizer {
	if capacity < 2 {
		capacity = DefaultCapacity
	}
	return &Rasterizer{Capacity: capacity, StrokeWidth: DefaultStrokeWidth}
}

// Scale returns the vertical full-scale value for samples.
func Scale(samples []float64) float64 {
	maxVal := 0.0
	for _, v := range samples {
		if v > maxVal {
			maxVal = v
		}
	}
	if maxVal < MinScale {
		maxVal = MinScale
	}
	return maxVal * Headroom
}

// Layout maps samples onto a width x height canvas. Samples are spaced for a
// full buffer, so a partial buffer draws a shorter waveform from the left.
func (r *Rasterizer) Layout(samples []float64, width, height int) []Point {
	if len(samples) == 0 {
		return nil
	}
	maxVal := Scale(samples)
	stepX := float64(width) / float64(r.capacity()-1)
	h := float64(height)
	pts := make([]Point, len(samples))
	for i, v := range samples {
		pts[i] = Point{
			X: float32(float64(i) * stepX),
			Y: float32(h - (v/maxVal)*h),
		}
	}
	return pts
}

// Draw renders samples into a new width x height image.
func (r *Rasterizer) Draw(samples []float64, width, height int) *image.RGBA {
	if width <= 0 || height <= 0 {
		return image.NewRGBA(image.Rectangle{})
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	r.DrawInto(dst, samples)
	return dst
}

// DrawInto clears dst and paints samples over it.
func (r *Rasterizer) DrawInto(dst *image.RGBA, samples []float64) {
	bounds := dst.Bounds()
	draw.Draw(dst, bounds, image.NewUniform(Background), image.Point{}, draw.Src)
	if len(samples) < 2 || bounds.Empty() {
		return
	}
	w, h := bounds.Dx(), bounds.Dy()
	pts := r.Layout(samples, w, h)

	z := vector.NewRasterizer(w, h)
	z.DrawOp = draw.Over

	base := float32(h)
	z.MoveTo(0, base)
	for _, p := range pts {
		z.LineTo(p.X, p.Y)
	}
	z.LineTo(pts[len(pts)-1].X, base)
	z.ClosePath()
	z.Draw(dst, bounds, &verticalGradient{top: GradientTop, bottom: GradientBase, height: h}, bounds.Min)

	z.Reset(w, h)
	z.DrawOp = draw.Over
	r.stroke(z, pts)
	z.Draw(dst, bounds, image.NewUniform(StrokeColor), image.Point{})
}

func (r *Rasterizer) capacity() int {
	if r.Capacity < 2 {
		return DefaultCapacity
	}
	return r.Capacity
}

// stroke outlines the polyline as one quad per segment plus a disc at every
// vertex, which yields round joins and caps. All polygons are emitted with the
// same winding so overlaps accumulate instead of cancelling.
func (r *Rasterizer) stroke(z *vector.Rasterizer, pts []Point) {
	hw := r.StrokeWidth / 2
	if hw <= 0 {
		hw = DefaultStrokeWidth / 2
	}
	for i := 1; i < len(pts); i++ {
		a, b := pts[i-1], pts[i]
		dx, dy := b.X-a.X, b.Y-a.Y
		length := float32(math.Hypot(float64(dx), float64(dy)))
		if length == 0 {
			continue
		}
		nx, ny := -dy/length*hw, dx/length*hw
		fillPolygon(z, []Point{
			{a.X + nx, a.Y + ny},
			{b.X + nx, b.Y + ny},
			{b.X - nx, b.Y - ny},
			{a.X - nx, a.Y - ny},
		})
	}
	for _, p := range pts {
		fillPolygon(z, disc(p, hw))
	}
}

func disc(c Point, radius float32) []Point {
	out := make([]Point, capSegments)
	for i := range out {
		theta := 2 * math.Pi * float64(i) / capSegments
		out[i] = Point{
			X: c.X + radius*float32(math.Cos(theta)),
			Y: c.Y + radius*float32(math.Sin(theta)),
		}
	}
	return out
}

// fillPolygon adds a closed polygon with positive signed area.
func fillPolygon(z *vector.Rasterizer, poly []Point) {
	if len(poly) < 3 {
		return
	}
	if signedArea(poly) < 0 {
		for i, j := 0, len(poly)-1; i < j; i, j = i+1, j-1 {
			poly[i], poly[j] = poly[j], poly[i]
		}
	}
	z.MoveTo(poly[0].X, poly[0].Y)
	for _, p := range poly[1:] {
		z.LineTo(p.X, p.Y)
	}
	z.ClosePath()
}

func signedArea(poly []Point) float32 {
	var sum float32
	for i := range poly {
		j := (i + 1) % len(poly)
		sum += poly[i].X*poly[j].Y - poly[j].X*poly[i].Y
	}
	return sum / 2
}

// verticalGradient interpolates from top at y=0 to bottom at y=height.
type verticalGradient struct {
	top, bottom color.NRGBA
	height      int
}

func (g *verticalGradient) ColorModel() color.Model { return color.NRGBAModel }

func (g *verticalGradient) Bounds() image.Rectangle {
	return image.Rect(-1e9, -1e9, 1e9, 1e9)
}

func (g *verticalGradient) At(_, y int) color.Color {
	t := 0.0
	if g.height > 0 {
		t = (float64(y) + 0.5) / float64(g.height)
	}
	t = math.Max(0, math.Min(1, t))
	lerp := func(a, b uint8) uint8 {
		return uint8(math.Round(float64(a) + (float64(b)-float64(a))*t))
	}
	return color.NRGBA{
		R: lerp(g.top.R, g.bottom.R),
		G: lerp(g.top.G, g.bottom.G),
		B: lerp(g.top.B, g.bottom.B),
		A: lerp(g.top.A, g.bottom.A),
	}
}
