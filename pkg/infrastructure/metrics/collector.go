// Package metrics provides metrics collection for the query supervisor.
package metrics

import (
	"time"
)

// Metric names emitted by the supervisor.
const (
	QueriesTotal          = "quire_queries_total"
	QueryDurationSeconds  = "quire_query_duration_seconds"
	ChannelFaultsTotal    = "quire_channel_faults_total"
	InstanceRestartsTotal = "quire_instance_restarts_total"
	SessionResetsTotal    = "quire_session_resets_total"
	ServerRestartsTotal   = "quire_server_restarts_total"
	LiveInstances         = "quire_live_instances"
	ArrowAllocatedBytes   = "quire_arrow_allocated_bytes"
)

// Collector defines the interface for collecting metrics.
type Collector interface {
	// IncrementCounter increments a counter metric.
	IncrementCounter(name string, labels ...string)

	// RecordHistogram records a value in a histogram metric.
	RecordHistogram(name string, value float64, labels ...string)

	// RecordGauge records a gauge metric value.
	RecordGauge(name string, value float64, labels ...string)

	// StartTimer starts a timer for measuring duration.
	StartTimer(name string) Timer
}

// Timer represents a timing measurement.
type Timer interface {
	// Stop stops the timer and returns the duration in seconds.
	Stop() float64
}

// NoOpCollector is a no-op implementation of Collector.
type NoOpCollector struct{}

// NewNoOpCollector creates a new no-op collector.
func NewNoOpCollector() Collector {
	return &NoOpCollector{}
}

func (n *NoOpCollector) IncrementCounter(name string, labels ...string) {}

func (n *NoOpCollector) RecordHistogram(name string, value float64, labels ...string) {}

func (n *NoOpCollector) RecordGauge(name string, value float64, labels ...string) {}

// StartTimer returns a timer that only measures.
func (n *NoOpCollector) StartTimer(name string) Timer {
	return &noOpTimer{start: time.Now()}
}

type noOpTimer struct {
	start time.Time
}

func (t *noOpTimer) Stop() float64 {
	return time.Since(t.start).Seconds()
}

// OrNoOp returns c, or a no-op collector when c is nil.
func OrNoOp(c Collector) Collector {
	if c == nil {
		return NewNoOpCollector()
	}
	return c
}
