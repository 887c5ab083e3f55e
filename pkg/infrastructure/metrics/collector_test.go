package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNoOpCollector(t *testing.T) {
	collector := NewNoOpCollector()

	assert.NotPanics(t, func() {
		collector.IncrementCounter(QueriesTotal, "outcome", "success")
		collector.RecordHistogram(QueryDurationSeconds, 42.0)
		collector.RecordGauge(LiveInstances, 1)
	})
}

func TestNoOpCollector_StartTimer(t *testing.T) {
	timer := NewNoOpCollector().StartTimer(QueryDurationSeconds)

	time.Sleep(10 * time.Millisecond)

	duration := timer.Stop()
	assert.Greater(t, duration, 0.0)
	assert.Less(t, duration, 1.0)
}

func TestOrNoOp(t *testing.T) {
	assert.IsType(t, &NoOpCollector{}, OrNoOp(nil))

	c := NewNoOpCollector()
	assert.Same(t, c, OrNoOp(c))
}
