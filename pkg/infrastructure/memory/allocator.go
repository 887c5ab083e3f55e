// Package memory provides an Arrow allocator that publishes its live byte
// count.
package memory

import (
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/TFMV/quire/pkg/infrastructure/metrics"
)

// TrackedAllocator wraps an Arrow allocator and reports the bytes it holds as
// the quire_arrow_allocated_bytes gauge, labelled by owner.
type TrackedAllocator struct {
	underlying memory.Allocator
	owner      string
	metrics    metrics.Collector
	bytesUsed  atomic.Int64
}

var _ memory.Allocator = (*TrackedAllocator)(nil)

// NewTrackedAllocator wraps underlying, or the Go allocator when nil.
func NewTrackedAllocator(owner string, underlying memory.Allocator, collector metrics.Collector) *TrackedAllocator {
	if underlying == nil {
		underlying = memory.NewGoAllocator()
	}
	return &TrackedAllocator{
		underlying: underlying,
		owner:      owner,
		metrics:    metrics.OrNoOp(collector),
	}
}

func (a *TrackedAllocator) Allocate(size int) []byte {
	a.track(int64(size))
	return a.underlying.Allocate(size)
}

func (a *TrackedAllocator) Reallocate(size int, b []byte) []byte {
	a.track(int64(size - len(b)))
	return a.underlying.Reallocate(size, b)
}

func (a *TrackedAllocator) Free(b []byte) {
	a.track(-int64(len(b)))
	a.underlying.Free(b)
}

// BytesUsed returns the bytes currently allocated.
func (a *TrackedAllocator) BytesUsed() int64 {
	return a.bytesUsed.Load()
}

func (a *TrackedAllocator) track(delta int64) {
	used := a.bytesUsed.Add(delta)
	a.metrics.RecordGauge(metrics.ArrowAllocatedBytes, float64(used), "owner", a.owner)
}
