package middleware

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/TFMV/quire/pkg/infrastructure/metrics"
)

func TestRecoveryMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRecoveryMiddleware(metrics.NewPrometheusCollectorWith(reg), zerolog.New(zerolog.NewTestWriter(t)))
	info := &grpc.UnaryServerInfo{FullMethod: "/test/Panic"}

	_, err := m.UnaryInterceptor()(context.Background(), nil, info, func(context.Context, interface{}) (interface{}, error) {
		panic("boom")
	})
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), "boom")

	resp, err := m.UnaryInterceptor()(context.Background(), "ping", info, func(_ context.Context, req interface{}) (interface{}, error) {
		return req, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ping", resp)

	streamInfo := &grpc.StreamServerInfo{FullMethod: "/test/PanicStream"}
	err = m.StreamInterceptor()(nil, &fakeServerStream{ctx: context.Background()}, streamInfo, func(interface{}, grpc.ServerStream) error {
		panic("boom")
	})
	assert.Equal(t, codes.Internal, status.Code(err))

	count, err := testutil.GatherAndCount(reg, MetricPanicsTotal)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one series per method")
}

func TestLoggingMiddleware_PassesThrough(t *testing.T) {
	m := NewLoggingMiddleware(zerolog.New(zerolog.NewTestWriter(t)))
	info := &grpc.UnaryServerInfo{FullMethod: "/test/Echo"}

	resp, err := m.UnaryInterceptor()(context.Background(), "ping", info, func(_ context.Context, req interface{}) (interface{}, error) {
		return req, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ping", resp)

	wantErr := status.Error(codes.NotFound, "missing")
	_, err = m.UnaryInterceptor()(context.Background(), nil, info, func(context.Context, interface{}) (interface{}, error) {
		return nil, wantErr
	})
	assert.Equal(t, wantErr, err)
}

func TestMetricsMiddleware_CountsByCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsMiddleware(metrics.NewPrometheusCollectorWith(reg))
	info := &grpc.UnaryServerInfo{FullMethod: "/test/Echo"}

	ok := func(context.Context, interface{}) (interface{}, error) { return nil, nil }
	fail := func(context.Context, interface{}) (interface{}, error) { return nil, errors.New("plain") }

	for i := 0; i < 2; i++ {
		_, _ = m.UnaryInterceptor()(context.Background(), nil, info, ok)
	}
	_, _ = m.UnaryInterceptor()(context.Background(), nil, info, fail)

	// One series per code.
	count, err := testutil.GatherAndCount(reg, MetricRequestsTotal)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMetricsMiddleware_NilCollector(t *testing.T) {
	m := NewMetricsMiddleware(nil)
	info := &grpc.StreamServerInfo{FullMethod: "/test/Stream"}
	err := m.StreamInterceptor()(nil, &fakeServerStream{ctx: context.Background()}, info, func(interface{}, grpc.ServerStream) error {
		return nil
	})
	require.NoError(t, err)
}
