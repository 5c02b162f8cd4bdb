package traffic

import (
	"math"
	"testing"
	"time"
)

func TestJitterWindowOrderAndEviction(t *testing.T) {
	w := NewJitterWindow(3)
	if w.Last() != 0 || w.StdDev() != 0 || w.Mean() != 0 {
		t.Fatal("empty window should report zeros")
	}
	for _, v := range []float64{1, 2, 3, 4, 5} {
		w.Add(v)
	}
	got := w.Values()
	want := []float64{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("Values() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Values() = %v, want %v", got, want)
		}
	}
	if w.Last() != 5 {
		t.Fatalf("Last() = %v, want 5", w.Last())
	}
	if w.Mean() != 4 {
		t.Fatalf("Mean() = %v, want 4", w.Mean())
	}
	wantStd := math.Sqrt(2.0 / 3.0)
	if math.Abs(w.StdDev()-wantStd) > 1e-12 {
		t.Fatalf("StdDev() = %v, want %v", w.StdDev(), wantStd)
	}

	w.Reset()
	if w.Len() != 0 || len(w.Values()) != 0 {
		t.Fatal("reset should empty the window")
	}
	if w.Cap() != 3 {
		t.Fatalf("Cap() = %d, want 3", w.Cap())
	}
}

func TestNewJitterWindowDefaultsCapacity(t *testing.T) {
	if got := NewJitterWindow(0).Cap(); got != DefaultJitterWindow {
		t.Fatalf("Cap() = %d, want %d", got, DefaultJitterWindow)
	}
}

func TestByteCounterAverages(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c := NewByteCounter(func() time.Time { return now })

	now = now.Add(500 * time.Millisecond)
	if _, err := c.RecordChunk(64000); err != nil {
		t.Fatal(err)
	}
	now = now.Add(500 * time.Millisecond)
	stats, err := c.RecordChunk(64000)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalBytes != 128000 {
		t.Fatalf("TotalBytes = %d, want 128000", stats.TotalBytes)
	}
	want := 128000.0 * 8 / 1024
	if math.Abs(stats.AvgKbps-want) > 1e-9 || stats.InstantKbps != stats.AvgKbps {
		t.Fatalf("AvgKbps = %v, want %v", stats.AvgKbps, want)
	}
	if !stats.Degraded {
		t.Fatal("expected degraded flag")
	}
	if _, err := c.RecordChunk(-1); err == nil {
		t.Fatal("expected error for negative count")
	}

	c.Reset()
	stats, _ = c.RecordChunk(0)
	if stats.TotalBytes != 0 {
		t.Fatalf("TotalBytes after reset = %d", stats.TotalBytes)
	}
}
