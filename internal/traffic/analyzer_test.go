package traffic_test

import (
	"math"
	"testing"
	"time"

	"github.com/saveenergy/netguardian/internal/traffic"
	nerrors "github.com/saveenergy/netguardian/pkg/errors"
	"github.com/saveenergy/netguardian/pkg/types"
)

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newAnalyzer(clock *fakeClock) *traffic.Analyzer {
	return traffic.NewAnalyzer(traffic.WithClock(clock.Now))
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

// bytesForKbps returns the byte count that yields kbps over a 100ms interval.
func bytesForKbps(kbps float64) int64 {
	return int64(kbps * 1024 / 8 / 10)
}

func mustRecord(t *testing.T, a *traffic.Analyzer, n int64) types.SessionStats {
	t.Helper()
	stats, err := a.RecordChunk(n)
	if err != nil {
		t.Fatalf("RecordChunk(%d): %v", n, err)
	}
	return stats
}

func TestFirstPacketThenCommittedInterval(t *testing.T) {
	clock := newFakeClock()
	a := newAnalyzer(clock)
	a.Reset()

	first := mustRecord(t, a, 125000)
	if first.InstantKbps != 0 || first.MaxKbps != 0 || first.MinKbps != 0 || first.AvgKbps != 0 {
		t.Fatalf("first packet should have zeroed derived fields, got %+v", first)
	}
	if first.TotalBytes != 125000 {
		t.Fatalf("TotalBytes = %d, want 125000", first.TotalBytes)
	}

	clock.Advance(200 * time.Millisecond)
	second := mustRecord(t, a, 125000)

	wantInstant := 125000.0 * 8 / 1024 / 0.2
	if !approx(second.InstantKbps, wantInstant) {
		t.Fatalf("InstantKbps = %v, want %v", second.InstantKbps, wantInstant)
	}
	if !approx(second.MaxKbps, wantInstant) {
		t.Fatalf("MaxKbps = %v, want %v", second.MaxKbps, wantInstant)
	}
	if second.MinKbps != 0 {
		t.Fatalf("MinKbps should be unset, got %v", second.MinKbps)
	}
	if second.TotalBytes != 250000 {
		t.Fatalf("TotalBytes = %d, want 250000", second.TotalBytes)
	}
	wantAvg := 250000.0 * 8 / 1024 / 0.2
	if !approx(second.AvgKbps, wantAvg) {
		t.Fatalf("AvgKbps = %v, want %v", second.AvgKbps, wantAvg)
	}
	if second.Samples != 1 {
		t.Fatalf("Samples = %d, want 1", second.Samples)
	}
}

func TestTotalBytesIsExactSum(t *testing.T) {
	clock := newFakeClock()
	a := newAnalyzer(clock)

	chunks := []int64{0, 1, 1500, 65536, 7, 1 << 20, 42}
	var want int64
	var last types.SessionStats
	for _, n := range chunks {
		want += n
		last = mustRecord(t, a, n)
		clock.Advance(150 * time.Millisecond)
	}
	if last.TotalBytes != want {
		t.Fatalf("TotalBytes = %d, want %d", last.TotalBytes, want)
	}
}

func TestMinStaysUnsetUntilSixthAcceptedSample(t *testing.T) {
	clock := newFakeClock()
	a := newAnalyzer(clock)
	mustRecord(t, a, 0)

	rates := []float64{500, 400, 300, 200, 100, 800, 50, 900}
	for i, rate := range rates {
		clock.Advance(100 * time.Millisecond)
		stats := mustRecord(t, a, bytesForKbps(rate))
		accepted := i + 1
		switch {
		case accepted <= 5:
			if stats.MinKbps != 0 {
				t.Fatalf("sample %d: MinKbps = %v, want unset", accepted, stats.MinKbps)
			}
		case accepted == 6:
			if !approx(stats.MinKbps, 800) {
				t.Fatalf("sample 6: MinKbps = %v, want 800", stats.MinKbps)
			}
		default:
			if stats.MinKbps > stats.InstantKbps+1e-9 {
				t.Fatalf("sample %d: MinKbps %v exceeds instant %v", accepted, stats.MinKbps, stats.InstantKbps)
			}
		}
	}
	if got := a.Stats().MinKbps; !approx(got, 50) {
		t.Fatalf("final MinKbps = %v, want 50", got)
	}
}

func TestMaxIsRunningMaximum(t *testing.T) {
	clock := newFakeClock()
	a := newAnalyzer(clock)
	mustRecord(t, a, 0)

	rates := []float64{300, 900, 100, 600, 1200, 20}
	prevMax := 0.0
	highest := 0.0
	for _, rate := range rates {
		clock.Advance(100 * time.Millisecond)
		stats := mustRecord(t, a, bytesForKbps(rate))
		if stats.MaxKbps < prevMax {
			t.Fatalf("MaxKbps decreased from %v to %v", prevMax, stats.MaxKbps)
		}
		highest = math.Max(highest, stats.InstantKbps)
		if !approx(stats.MaxKbps, highest) {
			t.Fatalf("MaxKbps = %v, want %v", stats.MaxKbps, highest)
		}
		prevMax = stats.MaxKbps
	}
}

func TestJitterIsPopulationStdDev(t *testing.T) {
	clock := newFakeClock()
	a := newAnalyzer(clock)
	mustRecord(t, a, 0)

	clock.Advance(100 * time.Millisecond)
	one := mustRecord(t, a, bytesForKbps(100))
	if one.JitterKbps != 0 {
		t.Fatalf("jitter with one sample = %v, want 0", one.JitterKbps)
	}

	clock.Advance(100 * time.Millisecond)
	two := mustRecord(t, a, bytesForKbps(200))
	if !approx(two.JitterKbps, 50) {
		t.Fatalf("jitter = %v, want 50", two.JitterKbps)
	}

	clock.Advance(100 * time.Millisecond)
	three := mustRecord(t, a, bytesForKbps(300))
	want := math.Sqrt((100.0*100 + 0 + 100.0*100) / 3)
	if !approx(three.JitterKbps, want) {
		t.Fatalf("jitter = %v, want %v", three.JitterKbps, want)
	}
}

func TestJitterWindowEvictsOldest(t *testing.T) {
	clock := newFakeClock()
	a := traffic.NewAnalyzer(traffic.WithClock(clock.Now), traffic.WithJitterWindow(2))
	mustRecord(t, a, 0)

	for _, rate := range []float64{1000, 100, 300} {
		clock.Advance(100 * time.Millisecond)
		mustRecord(t, a, bytesForKbps(rate))
	}
	// Window now holds [100, 300].
	if got := a.Stats().JitterKbps; !approx(got, 100) {
		t.Fatalf("jitter = %v, want 100", got)
	}
}

func TestGatedCallsKeepRatesButRefreshTotals(t *testing.T) {
	clock := newFakeClock()
	a := newAnalyzer(clock)
	mustRecord(t, a, 0)
	for _, rate := range []float64{400, 800} {
		clock.Advance(100 * time.Millisecond)
		mustRecord(t, a, bytesForKbps(rate))
	}
	committed := a.Stats()

	var last types.SessionStats
	for i := 0; i < 5; i++ {
		clock.Advance(15 * time.Millisecond)
		last = mustRecord(t, a, 10000)
		if last.InstantKbps != committed.InstantKbps {
			t.Fatalf("gated InstantKbps changed: %v -> %v", committed.InstantKbps, last.InstantKbps)
		}
		if last.JitterKbps != committed.JitterKbps {
			t.Fatalf("gated JitterKbps changed: %v -> %v", committed.JitterKbps, last.JitterKbps)
		}
		if last.MaxKbps != committed.MaxKbps || last.MinKbps != committed.MinKbps {
			t.Fatalf("gated max/min changed")
		}
		if last.Samples != committed.Samples {
			t.Fatalf("gated call counted as a sample")
		}
	}
	if last.TotalBytes != committed.TotalBytes+50000 {
		t.Fatalf("TotalBytes = %d, want %d", last.TotalBytes, committed.TotalBytes+50000)
	}
	wantAvg := float64(last.TotalBytes) * 8 / 1024 / (275 * time.Millisecond).Seconds()
	if !approx(last.AvgKbps, wantAvg) {
		t.Fatalf("AvgKbps = %v, want %v", last.AvgKbps, wantAvg)
	}

	// Coalesced bytes land in the next committed interval.
	clock.Advance(25 * time.Millisecond)
	next := mustRecord(t, a, 0)
	wantInstant := 50000.0 * 8 / 1024 / 0.1
	if !approx(next.InstantKbps, wantInstant) {
		t.Fatalf("InstantKbps = %v, want %v", next.InstantKbps, wantInstant)
	}
}

func TestNegativeCountRejectedWithoutMutation(t *testing.T) {
	clock := newFakeClock()
	a := newAnalyzer(clock)
	mustRecord(t, a, 1000)
	clock.Advance(100 * time.Millisecond)
	mustRecord(t, a, 1000)
	before := a.Stats()

	clock.Advance(100 * time.Millisecond)
	_, err := a.RecordChunk(-1)
	if !nerrors.HasCode(err, nerrors.CodeInvalidArgument) {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
	if a.Stats() != before {
		t.Fatalf("state mutated by rejected call: %+v vs %+v", a.Stats(), before)
	}

	for _, v := range []float64{math.NaN(), math.Inf(1), -5, math.Exp2(63), 1e19} {
		if _, err := a.RecordValue(v); !nerrors.HasCode(err, nerrors.CodeInvalidArgument) {
			t.Fatalf("RecordValue(%v): expected InvalidArgument, got %v", v, err)
		}
	}
	if a.Stats() != before {
		t.Fatal("state mutated by rejected RecordValue")
	}
}

func TestBufferAndLengthPathsAgree(t *testing.T) {
	clockA := newFakeClock()
	clockB := newFakeClock()
	byLength := newAnalyzer(clockA)
	byBuffer := newAnalyzer(clockB)

	sizes := []int{4096, 65536, 10, 0, 32768}
	for _, n := range sizes {
		sa, err := byLength.RecordChunk(int64(n))
		if err != nil {
			t.Fatal(err)
		}
		sb, err := byBuffer.RecordBuffer(make([]byte, n))
		if err != nil {
			t.Fatal(err)
		}
		if sa != sb {
			t.Fatalf("paths diverged: %+v vs %+v", sa, sb)
		}
		clockA.Advance(120 * time.Millisecond)
		clockB.Advance(120 * time.Millisecond)
	}
}

func TestRecordValueTruncatesFraction(t *testing.T) {
	clock := newFakeClock()
	a := newAnalyzer(clock)
	stats, err := a.RecordValue(1500.9)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalBytes != 1500 {
		t.Fatalf("TotalBytes = %d, want 1500", stats.TotalBytes)
	}
}

func TestResetStartsNewSession(t *testing.T) {
	clock := newFakeClock()
	a := newAnalyzer(clock)
	mustRecord(t, a, 5000)
	clock.Advance(100 * time.Millisecond)
	mustRecord(t, a, 5000)

	a.Reset()
	a.Reset()
	if got := a.Stats(); got != (types.SessionStats{}) {
		t.Fatalf("stats after reset = %+v, want zero", got)
	}

	first := mustRecord(t, a, 700)
	if first.InstantKbps != 0 || first.TotalBytes != 700 {
		t.Fatalf("expected first-packet semantics after reset, got %+v", first)
	}
}

func BenchmarkRecordChunk(b *testing.B) {
	clock := newFakeClock()
	a := newAnalyzer(clock)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		clock.Advance(20 * time.Millisecond)
		_, _ = a.RecordChunk(65536)
	}
}
