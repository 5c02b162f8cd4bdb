package render_test

import (
	"math"
	"testing"

	"github.com/saveenergy/netguardian/internal/render"
)

func TestScale(t *testing.T) {
	tests := []struct {
		name    string
		samples []float64
		want    float64
	}{
		{"empty", nil, 120},
		{"below floor", []float64{10, 50, 99}, 120},
		{"above floor", []float64{50, 500, 200}, 600},
		{"exact floor", []float64{100}, 120},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := render.Scale(tt.samples); math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("Scale() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLayoutSpacesForFullCapacity(t *testing.T) {
	r := render.NewRasterizer(15)
	pts := r.Layout([]float64{0, 60, 120}, 140, 120)
	if len(pts) != 3 {
		t.Fatalf("len = %d", len(pts))
	}
	// stepX = 140 / 14 = 10; maxVal = 120*1.2 = 144.
	wantX := []float32{0, 10, 20}
	wantY := []float64{120, 120 - 60.0/144*120, 120 - 120.0/144*120}
	for i, p := range pts {
		if p.X != wantX[i] {
			t.Fatalf("pts[%d].X = %v, want %v", i, p.X, wantX[i])
		}
		if math.Abs(float64(p.Y)-wantY[i]) > 1e-3 {
			t.Fatalf("pts[%d].Y = %v, want %v", i, p.Y, wantY[i])
		}
	}
}

func TestDrawBackgroundOnlyBelowTwoSamples(t *testing.T) {
	r := render.NewRasterizer(15)
	for _, samples := range [][]float64{nil, {500}} {
		img := r.Draw(samples, 32, 16)
		for y := 0; y < 16; y++ {
			for x := 0; x < 32; x++ {
				if got := img.RGBAAt(x, y); got != render.Background {
					t.Fatalf("pixel (%d,%d) = %v, want white", x, y, got)
				}
			}
		}
	}
}

func TestDrawPaintsStrokeAndFill(t *testing.T) {
	r := render.NewRasterizer(3)
	// Flat line at half height: maxVal = 120, y = 100 - 50/120*100.
	img := r.Draw([]float64{50, 50, 50}, 100, 100)
	lineY := int(math.Round(100 - 50.0/120*100))

	stroke := img.RGBAAt(50, lineY)
	if stroke.B < 0xF0 || stroke.R > 0x20 {
		t.Fatalf("stroke pixel = %v, want saturated blue", stroke)
	}

	above := img.RGBAAt(50, 10)
	if above != render.Background {
		t.Fatalf("pixel above waveform = %v, want white", above)
	}

	fill := img.RGBAAt(50, lineY+10)
	if fill == render.Background || fill.R == 0 {
		t.Fatalf("fill pixel = %v, want translucent blue over white", fill)
	}
	nearBase := img.RGBAAt(50, 99)
	if nearBase.R < fill.R {
		t.Fatalf("gradient should fade toward the baseline: %v vs %v", nearBase, fill)
	}
}

func TestDrawZeroSizeIsEmpty(t *testing.T) {
	img := render.NewRasterizer(15).Draw([]float64{1, 2}, 0, 10)
	if !img.Bounds().Empty() {
		t.Fatalf("bounds = %v, want empty", img.Bounds())
	}
}

func TestDrawIsOpaque(t *testing.T) {
	img := render.NewRasterizer(15).Draw([]float64{10, 900, 30, 400}, 64, 48)
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0xFF {
			t.Fatalf("alpha at byte %d = %d, want 255", i, img.Pix[i])
		}
	}
}

func BenchmarkDraw(b *testing.B) {
	r := render.NewRasterizer(render.DefaultCapacity)
	samples := make([]float64, render.DefaultCapacity)
	for i := range samples {
		samples[i] = float64(200 + 40*(i%5))
	}
	b.ReportAllocs()
	for b.Loop() {
		r.Draw(samples, 720, 240)
	}
}
