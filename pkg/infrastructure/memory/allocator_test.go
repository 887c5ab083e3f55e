package memory

import (
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/quire/pkg/infrastructure/metrics"
)

func TestTrackedAllocator(t *testing.T) {
	t.Run("allocate and free", func(t *testing.T) {
		allocator := NewTrackedAllocator("test", nil, nil)
		assert.Zero(t, allocator.BytesUsed())

		buf := allocator.Allocate(1024)
		require.Len(t, buf, 1024)
		buf2 := allocator.Allocate(1024)
		assert.Equal(t, int64(2048), allocator.BytesUsed())

		allocator.Free(buf)
		allocator.Free(buf2)
		assert.Zero(t, allocator.BytesUsed())
	})

	t.Run("reallocate", func(t *testing.T) {
		allocator := NewTrackedAllocator("test", nil, nil)

		buf := allocator.Allocate(512)
		buf = allocator.Reallocate(1024, buf)
		require.Len(t, buf, 1024)
		assert.Equal(t, int64(1024), allocator.BytesUsed())

		buf = allocator.Reallocate(256, buf)
		assert.Equal(t, int64(256), allocator.BytesUsed())

		allocator.Free(buf)
		assert.Zero(t, allocator.BytesUsed())
	})

	t.Run("arrow builders release everything", func(t *testing.T) {
		checked := memory.NewCheckedAllocator(memory.NewGoAllocator())
		allocator := NewTrackedAllocator("test", checked, nil)

		b := array.NewInt64Builder(allocator)
		b.AppendValues([]int64{1, 2, 3}, nil)
		arr := b.NewArray()
		b.Release()
		assert.Positive(t, allocator.BytesUsed())

		arr.Release()
		assert.Zero(t, allocator.BytesUsed())
		checked.AssertSize(t, 0)
	})
}

func TestTrackedAllocatorPublishesGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	allocator := NewTrackedAllocator("server", nil, metrics.NewPrometheusCollectorWith(reg))

	buf := allocator.Allocate(64)
	expected := `
# HELP quire_arrow_allocated_bytes Gauge for quire_arrow_allocated_bytes
# TYPE quire_arrow_allocated_bytes gauge
quire_arrow_allocated_bytes{owner="server"} 64
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), metrics.ArrowAllocatedBytes))

	allocator.Free(buf)
	assert.Zero(t, allocator.BytesUsed())
}
