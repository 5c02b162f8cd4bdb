package render

import "sync"

// DefaultCapacity is the number of points drawn on screen.
const DefaultCapacity = 15

// SampleBuffer is a fixed-capacity FIFO of display samples shared between the
// producer and the renderer. Every method holds the lock only for the copy or
// the append itself.
type SampleBuffer struct {
	mu      sync.Mutex
	samples []float64
	head    int
	size    int
}

func NewSampleBuffer(capacity int) *SampleBuffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &SampleBuffer{samples: make([]float64, capacity)}
}

// Push appends v, dropping the oldest sample first when full.
func (b *SampleBuffer) Push(v float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples[(b.head+b.size)%len(b.samples)] = v
	if b.size < len(b.samples) {
		b.size++
		return
	}
	b.head = (b.head + 1) % len(b.samples)
}

func (b *SampleBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.size = 0
}

// Snapshot returns a copy of the buffered samples, oldest first.
func (b *SampleBuffer) Snapshot() []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]float64, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.samples[(b.head+i)%len(b.samples)]
	}
	return out
}

func (b *SampleBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

func (b *SampleBuffer) Cap() int {
	return len(b.samples)
}
