// Package report renders stored phases and live frames as PNG images.
package report

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"sort"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/saveenergy/netguardian/internal/history"
	"github.com/saveenergy/netguardian/internal/logging"
	"github.com/saveenergy/netguardian/pkg/types"
)

const (
	DefaultWidth  = 960
	DefaultHeight = 360
)

var seriesColors = map[types.Direction]drawing.Color{
	types.DirectionDownload: drawing.ColorFromHex("007DFF"),
	types.DirectionUpload:   drawing.ColorFromHex("FF8A00"),
}

func lineStyle(col drawing.Color) chart.Style {
	return chart.Style{
		StrokeColor: col,
		StrokeWidth: 2,
		DotWidth:    3,
		DotColor:    col,
	}
}

// HistoryChart plots average throughput in Mbps per direction over time.
// Render failures fall back to a blank labelled image, so the result is
// always a decodable PNG.
func HistoryChart(records []history.Record, width, height int) ([]byte, error) {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	if len(records) == 0 {
		return encode(Blank(width, height, "no measurements yet"))
	}

	byDir := map[types.Direction][]history.Record{}
	for _, r := range records {
		byDir[r.Direction] = append(byDir[r.Direction], r)
	}

	var series []chart.Series
	for _, dir := range []types.Direction{types.DirectionDownload, types.DirectionUpload} {
		rows := byDir[dir]
		if len(rows) == 0 {
			continue
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })
		xs := make([]time.Time, len(rows))
		ys := make([]float64, len(rows))
		for i, r := range rows {
			xs[i] = r.CreatedAt
			ys[i] = types.KbpsToMbps(r.Stats.AvgKbps)
		}
		// go-chart needs two X values to build a range.
		if len(xs) == 1 {
			xs = append(xs, xs[0].Add(time.Second))
			ys = append(ys, ys[0])
		}
		series = append(series, chart.TimeSeries{
			Name:    string(dir),
			XValues: xs,
			YValues: ys,
			Style:   lineStyle(seriesColors[dir]),
		})
	}

	ch := chart.Chart{
		Title:      "Average throughput (Mbps)",
		Width:      width,
		Height:     height,
		Background: chart.Style{Padding: chart.Box{Top: 24, Left: 16, Right: 12, Bottom: 12}},
		XAxis:      chart.XAxis{Name: "Time", ValueFormatter: chart.TimeMinuteValueFormatter},
		YAxis:      chart.YAxis{Name: "Mbps", Range: &chart.ContinuousRange{Min: 0, Max: maxY(series)}},
		Series:     series,
	}
	ch.Elements = []chart.Renderable{chart.Legend(&ch)}

	var buf bytes.Buffer
	if err := ch.Render(chart.PNG, &buf); err != nil {
		logging.Warn("history chart render failed; using blank fallback", logging.Err(err))
		return encode(Blank(width, height, "chart unavailable"))
	}
	return buf.Bytes(), nil
}

func maxY(series []chart.Series) float64 {
	top := 1.0
	for _, s := range series {
		ts, ok := s.(chart.TimeSeries)
		if !ok {
			continue
		}
		for _, v := range ts.YValues {
			if v > top {
				top = v
			}
		}
	}
	return top * 1.1
}

// Blank returns a light image with msg drawn at the centre.
func Blank(width, height int, msg string) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{R: 245, G: 245, B: 245, A: 255}), image.Point{}, draw.Src)
	if msg != "" {
		DrawLabel(img, msg, LabelCenter)
	}
	return img
}

func encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodePNG writes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	return encode(img)
}
