package traffic

import (
	"sync/atomic"
	"time"

	nerrors "github.com/saveenergy/netguardian/pkg/errors"
	"github.com/saveenergy/netguardian/pkg/types"
)

// ByteCounter is the degraded ingestion path: it only keeps the running total
// and the session average. It is safe for concurrent use.
type ByteCounter struct {
	now   Clock
	total atomic.Int64
	start atomic.Int64
}

var _ Recorder = (*ByteCounter)(nil)

func NewByteCounter(clock Clock) *ByteCounter {
	if clock == nil {
		clock = time.Now
	}
	c := &ByteCounter{now: clock}
	c.Reset()
	return c
}

func (c *ByteCounter) Reset() {
	c.total.Store(0)
	c.start.Store(c.now().UnixNano())
}

func (c *ByteCounter) RecordChunk(byteLength int64) (types.SessionStats, error) {
	if byteLength < 0 {
		return types.SessionStats{}, nerrors.InvalidArgument("byte count must be non-negative")
	}
	total := c.total.Add(byteLength)
	elapsed := c.now().Sub(time.Unix(0, c.start.Load()))
	avg := kbps(total, elapsed)
	return types.SessionStats{
		InstantKbps: avg,
		AvgKbps:     avg,
		TotalBytes:  total,
		Degraded:    true,
	}, nil
}
