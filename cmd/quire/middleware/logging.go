package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// LoggingMiddleware writes one line per finished RPC: debug for successes and
// client cancellations, error otherwise.
type LoggingMiddleware struct {
	logger zerolog.Logger
}

// NewLoggingMiddleware creates a new logging middleware.
func NewLoggingMiddleware(logger zerolog.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger.With().Str("component", "rpc").Logger()}
}

// UnaryInterceptor returns a unary server interceptor for logging.
func (m *LoggingMiddleware) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		m.log(ctx, info.FullMethod, start, err).Msg("Unary call")
		return resp, err
	}
}

// StreamInterceptor returns a stream server interceptor for logging.
func (m *LoggingMiddleware) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		counted := &countingStream{ServerStream: ss}
		err := handler(srv, counted)
		m.log(ss.Context(), info.FullMethod, start, err).
			Int("sent", counted.sent).
			Int("received", counted.received).
			Msg("Stream call")
		return err
	}
}

func (m *LoggingMiddleware) log(ctx context.Context, method string, start time.Time, err error) *zerolog.Event {
	code := status.Code(err)

	var ev *zerolog.Event
	if err != nil && code != codes.Canceled {
		ev = m.logger.Error().Err(err)
	} else {
		ev = m.logger.Debug()
	}

	if user, ok := GetUser(ctx); ok {
		ev = ev.Str("user", user)
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		ev = ev.Str("peer", p.Addr.String())
	}
	return ev.
		Str("method", method).
		Str("code", code.String()).
		Dur("duration", time.Since(start))
}

// countingStream counts messages that actually went over the wire.
type countingStream struct {
	grpc.ServerStream
	sent     int
	received int
}

func (s *countingStream) SendMsg(m interface{}) error {
	if err := s.ServerStream.SendMsg(m); err != nil {
		return err
	}
	s.sent++
	return nil
}

func (s *countingStream) RecvMsg(m interface{}) error {
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return err
	}
	s.received++
	return nil
}
