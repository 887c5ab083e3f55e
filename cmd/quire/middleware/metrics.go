package middleware

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/TFMV/quire/pkg/infrastructure/metrics"
)

// gRPC metric names.
const (
	MetricRequestsTotal   = "quire_grpc_requests_total"
	MetricRequestDuration = "quire_grpc_request_duration_seconds"
)

// MetricsMiddleware counts and times RPCs.
type MetricsMiddleware struct {
	collector metrics.Collector
}

// NewMetricsMiddleware creates a new metrics middleware.
func NewMetricsMiddleware(collector metrics.Collector) *MetricsMiddleware {
	return &MetricsMiddleware{collector: metrics.OrNoOp(collector)}
}

// UnaryInterceptor returns a unary server interceptor for metrics.
func (m *MetricsMiddleware) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		m.collector.RecordHistogram(MetricRequestDuration, time.Since(start).Seconds(), "method", info.FullMethod, "type", "unary")

		m.collector.IncrementCounter(MetricRequestsTotal, "method", info.FullMethod, "type", "unary", "code", status.Code(err).String())
		return resp, err
	}
}

// StreamInterceptor returns a stream server interceptor for metrics.
func (m *MetricsMiddleware) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		m.collector.RecordHistogram(MetricRequestDuration, time.Since(start).Seconds(), "method", info.FullMethod, "type", "stream")

		m.collector.IncrementCounter(MetricRequestsTotal, "method", info.FullMethod, "type", "stream", "code", status.Code(err).String())
		return err
	}
}
