package client

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/saveenergy/netguardian/pkg/types"
)

func (f *JSONFormatter) FormatStart(string, types.Direction, time.Duration) {}

func (f *JSONFormatter) FormatSample(types.SessionStats, []float64) {}

func (f *JSONFormatter) FormatComplete(r *Report) {
	_ = json.NewEncoder(f.Writer).Encode(r)
}

func (f *JSONFormatter) FormatError(err error) {
	writeJSONError(f.Writer, err)
}

type ndjsonSample struct {
	Type    string             `json:"type"`
	Stats   types.SessionStats `json:"stats"`
	Samples []float64          `json:"samples"`
}

type ndjsonResult struct {
	Type string `json:"type"`
	*Report
}

func (f *NDJSONFormatter) FormatStart(string, types.Direction, time.Duration) {}

func (f *NDJSONFormatter) FormatSample(stats types.SessionStats, samples []float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = json.NewEncoder(f.Writer).Encode(ndjsonSample{Type: "sample", Stats: stats, Samples: samples})
}

func (f *NDJSONFormatter) FormatComplete(r *Report) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = json.NewEncoder(f.Writer).Encode(ndjsonResult{Type: "result", Report: r})
}

func (f *NDJSONFormatter) FormatError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	writeJSONError(f.Writer, err)
}

func writeJSONError(w io.Writer, err error) {
	_ = json.NewEncoder(w).Encode(JSONErrorResponse{
		SchemaVersion: SchemaVersion,
		Error:         true,
		Code:          "measure_failed",
		Message:       err.Error(),
	})
}

func (f *PlainFormatter) FormatStart(string, types.Direction, time.Duration) {}

func (f *PlainFormatter) FormatSample(stats types.SessionStats, _ []float64) {
	if !f.verbose {
		return
	}
	fmt.Fprintf(f.writer, "sample=%d instant_kbps=%.2f avg_kbps=%.2f\n", stats.Samples, stats.InstantKbps, stats.AvgKbps)
}

func (f *PlainFormatter) FormatComplete(r *Report) {
	fmt.Fprintf(f.writer, "session_id=%s\n", r.SessionID)
	fmt.Fprintf(f.writer, "server=%s\n", r.ServerURL)
	fmt.Fprintf(f.writer, "direction=%s\n", r.Direction)
	fmt.Fprintf(f.writer, "duration_seconds=%.1f\n", r.Duration.Seconds())
	fmt.Fprintf(f.writer, "avg_kbps=%.2f\n", r.Stats.AvgKbps)
	fmt.Fprintf(f.writer, "max_kbps=%.2f\n", r.Stats.MaxKbps)
	fmt.Fprintf(f.writer, "min_kbps=%.2f\n", r.Stats.MinKbps)
	fmt.Fprintf(f.writer, "jitter_kbps=%.2f\n", r.Stats.JitterKbps)
	fmt.Fprintf(f.writer, "total_bytes=%d\n", r.Stats.TotalBytes)
	fmt.Fprintf(f.writer, "samples=%d\n", r.Stats.Samples)
	fmt.Fprintf(f.writer, "degraded=%t\n", r.Stats.Degraded)
	if r.Latency != nil {
		fmt.Fprintf(f.writer, "latency_avg_ms=%.3f\n", r.Latency.AvgMs)
		fmt.Fprintf(f.writer, "latency_jitter_ms=%.3f\n", r.Latency.JitterMs)
	}
	if r.Interpretation != nil {
		fmt.Fprintf(f.writer, "grade=%s\n", r.Interpretation.Grade)
	}
	if r.FramePath != "" {
		fmt.Fprintf(f.writer, "frame=%s\n", r.FramePath)
	}
}

func (f *PlainFormatter) FormatError(err error) {
	fmt.Fprintf(stderr, "netguardian: error: %v\n", err)
}

func (f *InteractiveFormatter) FormatStart(serverURL string, dir types.Direction, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = time.Now()
	f.duration = d
	fmt.Fprintf(f.writer, "Measuring %s against %s for %s\n", dir, serverURL, d)
}

func (f *InteractiveFormatter) FormatSample(stats types.SessionStats, samples []float64) {
	if f.noProgress {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	head := fmt.Sprintf("%6.1fs %8.2f Mbps (avg %.2f) ",
		time.Since(f.started).Seconds(), types.KbpsToMbps(stats.InstantKbps), types.KbpsToMbps(stats.AvgKbps))
	spark := sparkline(samples, max(f.width-len(head)-1, 0))
	if !f.noColor {
		spark = "\033[36m" + spark + "\033[0m"
	}
	fmt.Fprintf(f.writer, "\r\033[K%s%s", head, spark)
}

func (f *InteractiveFormatter) FormatComplete(r *Report) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.noProgress {
		fmt.Fprintln(f.writer)
	}
	label := func(s string) string {
		if f.noColor {
			return s
		}
		return "\033[1m" + s + "\033[0m"
	}
	fmt.Fprintf(f.writer, "\n%s %.2f Mbps avg, %.2f max, %.2f min\n", label("Throughput:"),
		r.AvgMbps, r.MaxMbps, types.KbpsToMbps(r.Stats.MinKbps))
	fmt.Fprintf(f.writer, "%s %.2f Mbps\n", label("Jitter:    "), types.KbpsToMbps(r.Stats.JitterKbps))
	if r.Latency != nil {
		fmt.Fprintf(f.writer, "%s %.1f ms avg (%.1f-%.1f)\n", label("Latency:   "), r.Latency.AvgMs, r.Latency.MinMs, r.Latency.MaxMs)
	}
	fmt.Fprintf(f.writer, "%s %s in %d samples\n", label("Transfer:  "), formatBytes(r.Stats.TotalBytes), r.Stats.Samples)
	if r.Stats.Degraded {
		fmt.Fprintln(f.writer, "Statistics are estimated: the analyzer failed and a byte counter took over.")
	}
	if r.Interpretation != nil {
		fmt.Fprintf(f.writer, "%s %s (%s)\n", label("Grade:     "), r.Interpretation.Grade, r.Interpretation.Summary)
	}
	if r.FramePath != "" {
		fmt.Fprintf(f.writer, "Waveform written to %s\n", r.FramePath)
	}
}

func (f *InteractiveFormatter) FormatError(err error) {
	fmt.Fprintf(stderr, "\nnetguardian: error: %v\n", err)
}

var sparkLevels = []rune("▁▂▃▄▅▆▇█")

// sparkline draws the most recent samples that fit in width runes, scaled
// to the largest of them.
func sparkline(samples []float64, width int) string {
	if width <= 0 || len(samples) == 0 {
		return ""
	}
	if len(samples) > width {
		samples = samples[len(samples)-width:]
	}
	top := 0.0
	for _, v := range samples {
		top = max(top, v)
	}
	var b strings.Builder
	for _, v := range samples {
		i := 0
		if top > 0 {
			i = int(v / top * float64(len(sparkLevels)-1))
		}
		b.WriteRune(sparkLevels[min(max(i, 0), len(sparkLevels)-1)])
	}
	return b.String()
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

type quietFormatter struct{}

func (quietFormatter) FormatStart(string, types.Direction, time.Duration) {}
func (quietFormatter) FormatSample(types.SessionStats, []float64)         {}
func (quietFormatter) FormatComplete(*Report)                             {}

func (quietFormatter) FormatError(err error) {
	fmt.Fprintf(stderr, "netguardian: error: %v\n", err)
}
