package traffic

import "math"

// JitterWindow is a bounded ring of the most recent instant rates. Once full,
// the oldest entry is overwritten first.
type JitterWindow struct {
	values []float64
	head   int
	size   int
}

func NewJitterWindow(capacity int) *JitterWindow {
	if capacity <= 0 {
		capacity = DefaultJitterWindow
	}
	return &JitterWindow{values: make([]float64, capacity)}
}

func (w *JitterWindow) Add(v float64) {
	w.values[w.head] = v
	w.head = (w.head + 1) % len(w.values)
	if w.size < len(w.values) {
		w.size++
	}
}

func (w *JitterWindow) Len() int {
	return w.size
}

func (w *JitterWindow) Cap() int {
	return len(w.values)
}

// Last returns the newest value, or 0 when empty.
func (w *JitterWindow) Last() float64 {
	if w.size == 0 {
		return 0
	}
	return w.values[(w.head-1+len(w.values))%len(w.values)]
}

// Values returns the window contents oldest first.
func (w *JitterWindow) Values() []float64 {
	out := make([]float64, 0, w.size)
	start := (w.head - w.size + len(w.values)) % len(w.values)
	for i := 0; i < w.size; i++ {
		out = append(out, w.values[(start+i)%len(w.values)])
	}
	return out
}

func (w *JitterWindow) Mean() float64 {
	if w.size == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < w.size; i++ {
		sum += w.values[i]
	}
	return sum / float64(w.size)
}

// StdDev is the population standard deviation around the window's own mean.
// Fewer than two values yield 0.
func (w *JitterWindow) StdDev() float64 {
	if w.size < 2 {
		return 0
	}
	mean := w.Mean()
	var sumSq float64
	for i := 0; i < w.size; i++ {
		diff := w.values[i] - mean
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(w.size))
}

func (w *JitterWindow) Reset() {
	for i := range w.values {
		w.values[i] = 0
	}
	w.head = 0
	w.size = 0
}
