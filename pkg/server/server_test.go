package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/flight/flightsql"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/TFMV/quire/cmd/quire/config"
	"github.com/TFMV/quire/pkg/infrastructure/converter"
	"github.com/TFMV/quire/pkg/infrastructure/metrics"
)

// ServerSuite runs one authenticated server for every test.
type ServerSuite struct {
	suite.Suite

	addr   string
	cancel context.CancelFunc
	done   chan error
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerSuite))
}

func (s *ServerSuite) SetupSuite() {
	cfg := config.DefaultConfig()
	cfg.Server.Address = "127.0.0.1:0"
	cfg.Server.Auth.Enabled = true
	cfg.Server.Auth.Users = map[string]string{"root": "root"}
	cfg.Server.ShutdownTimeout = 5 * time.Second
	s.Require().NoError(cfg.Validate())

	lis, err := net.Listen("tcp", cfg.Server.Address)
	s.Require().NoError(err)
	s.addr = lis.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan error, 1)
	logger := zerolog.New(zerolog.NewTestWriter(s.T()))
	go func() {
		s.done <- Serve(ctx, lis, cfg, metrics.NewNoOpCollector(), logger)
	}()
}

func (s *ServerSuite) TearDownSuite() {
	s.cancel()
	s.Require().NoError(<-s.done)
}

func (s *ServerSuite) newClient() *flightsql.Client {
	client, err := flightsql.NewClient(s.addr, nil, nil, grpc.WithTransportCredentials(insecure.NewCredentials()))
	s.Require().NoError(err)
	s.T().Cleanup(func() { client.Close() })
	return client
}

func login(ctx context.Context, client *flightsql.Client, creds string) (context.Context, error) {
	stream, err := client.Client.Handshake(ctx)
	if err != nil {
		return nil, err
	}
	if err := stream.Send(&flight.HandshakeRequest{Payload: []byte(creds)}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	resp, err := stream.Recv()
	if err != nil {
		return nil, err
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+string(resp.GetPayload())), nil
}

func (s *ServerSuite) TestHealthServing() {
	t := s.T()
	conn, err := grpc.NewClient(s.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.GetStatus())
}

func (s *ServerSuite) TestRequiresLogin() {
	t := s.T()
	client := s.newClient()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := client.ExecuteUpdate(ctx, "CREATE TABLE t(i INTEGER)")
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = login(ctx, client, "root:wrong")
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func (s *ServerSuite) TestSessionRoundTrip() {
	t := s.T()
	client := s.newClient()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ctx, err := login(ctx, client, "root:root")
	require.NoError(t, err)

	_, err = client.ExecuteUpdate(ctx, `USE "default"."default"`)
	require.NoError(t, err)
	_, err = client.ExecuteUpdate(ctx, "CREATE TABLE person(name VARCHAR)")
	require.NoError(t, err)
	n, err := client.ExecuteUpdate(ctx, "INSERT INTO person VALUES ('a'), ('b')")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	info, err := client.Execute(ctx, "SELECT name, current_schema() AS s FROM person ORDER BY name")
	require.NoError(t, err)
	require.Len(t, info.Endpoint, 1)

	rdr, err := client.DoGet(ctx, info.Endpoint[0].Ticket)
	require.NoError(t, err)
	defer rdr.Release()

	var records []arrow.Record
	for rdr.Next() {
		rec := rdr.Record()
		rec.Retain()
		records = append(records, rec)
	}
	require.NoError(t, rdr.Err())

	columns, types, rows := converter.FromRecords(rdr.Schema(), records)
	for _, rec := range records {
		rec.Release()
	}

	assert.Equal(t, []string{"name", "s"}, columns)
	assert.Equal(t, "VARCHAR", types[0])
	assert.Equal(t, []map[string]any{
		{"name": "a", "s": "default"},
		{"name": "b", "s": "default"},
	}, rows)

	_, err = client.Execute(ctx, "SELEKT 1")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}
