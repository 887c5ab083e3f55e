package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatsCollector_Counts(t *testing.T) {
	collector := NewStatsCollector()

	for i := 0; i < 5; i++ {
		collector.RecordHit()
	}
	for i := 0; i < 3; i++ {
		collector.RecordMiss()
	}
	collector.RecordEviction()
	collector.UpdateSize(2048)

	stats := collector.GetStats()
	assert.Equal(t, uint64(5), stats.Hits)
	assert.Equal(t, uint64(3), stats.Misses)
	assert.Equal(t, uint64(1), stats.Evictions)
	assert.Equal(t, int64(2048), stats.Size)
	assert.False(t, stats.LastUpdated.IsZero())
}

func TestStatsCollector_HitRate(t *testing.T) {
	tests := []struct {
		name   string
		hits   int
		misses int
		want   float64
	}{
		{name: "no lookups", want: 0},
		{name: "all hits", hits: 4, want: 1},
		{name: "mixed", hits: 3, misses: 1, want: 0.75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			collector := NewStatsCollector()
			for i := 0; i < tt.hits; i++ {
				collector.RecordHit()
			}
			for i := 0; i < tt.misses; i++ {
				collector.RecordMiss()
			}
			assert.InDelta(t, tt.want, collector.HitRate(), 1e-9)
		})
	}
}

func TestStatsCollector_Concurrent(t *testing.T) {
	collector := NewStatsCollector()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			collector.RecordHit()
		}()
		go func() {
			defer wg.Done()
			collector.RecordMiss()
		}()
	}
	wg.Wait()

	stats := collector.GetStats()
	assert.Equal(t, uint64(50), stats.Hits)
	assert.Equal(t, uint64(50), stats.Misses)
}
