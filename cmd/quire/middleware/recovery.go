package middleware

import (
	"context"
	"runtime/debug"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/TFMV/quire/pkg/infrastructure/metrics"
)

// MetricPanicsTotal counts handler panics by method.
const MetricPanicsTotal = "quire_grpc_panics_total"

// RecoveryMiddleware keeps a panicking handler from taking the query server
// down. The client gets Internal with the panic value, so the kernel reports
// it as a query error instead of restarting the server.
type RecoveryMiddleware struct {
	logger  zerolog.Logger
	metrics metrics.Collector
}

// NewRecoveryMiddleware creates a new recovery middleware.
func NewRecoveryMiddleware(collector metrics.Collector, logger zerolog.Logger) *RecoveryMiddleware {
	return &RecoveryMiddleware{
		logger:  logger.With().Str("component", "recovery").Logger(),
		metrics: metrics.OrNoOp(collector),
	}
}

// UnaryInterceptor returns a unary server interceptor for panic recovery.
func (m *RecoveryMiddleware) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer m.recover(info.FullMethod, &err)
		return handler(ctx, req)
	}
}

// StreamInterceptor returns a stream server interceptor for panic recovery.
func (m *RecoveryMiddleware) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer m.recover(info.FullMethod, &err)
		return handler(srv, ss)
	}
}

// recover must be deferred directly by the interceptor.
func (m *RecoveryMiddleware) recover(method string, err *error) {
	r := recover()
	if r == nil {
		return
	}

	m.metrics.IncrementCounter(MetricPanicsTotal, "method", method)
	m.logger.Error().
		Str("method", method).
		Interface("panic", r).
		Bytes("stack", debug.Stack()).
		Msg("Handler panicked")
	*err = status.Errorf(codes.Internal, "query server panicked: %v", r)
}
