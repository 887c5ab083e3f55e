// Package server implements the Flight SQL query server that hosts one engine
// session per process. The external backend launches it as a child.
package server

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/flight/flightsql"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/TFMV/quire/pkg/cache"
	"github.com/TFMV/quire/pkg/engine"
	"github.com/TFMV/quire/pkg/infrastructure/converter"
	"github.com/TFMV/quire/pkg/infrastructure/memory"
	"github.com/TFMV/quire/pkg/infrastructure/metrics"
	"github.com/TFMV/quire/pkg/models"
)

// Server metric names.
const (
	MetricStatementsTotal   = "quire_server_statements_total"
	MetricStatementDuration = "quire_server_statement_duration_seconds"
)

// StatementRunner executes one statement on the server's session.
type StatementRunner interface {
	RunStatement(ctx context.Context, stmt string) (models.ResultSet, error)
}

// Authenticator exchanges handshake credentials for a session token.
type Authenticator interface {
	ValidateHandshakePayload(payload []byte) (string, error)
	CreateSessionToken(user string) (string, error)
}

// FlightSQLServer implements the Flight SQL protocol over a single engine
// session. Statements run when a client plans them with GetFlightInfo; the
// materialised result waits in the ticket cache until DoGet claims it.
type FlightSQLServer struct {
	flightsql.BaseServer

	runner  StatementRunner
	cache   cache.Cache
	auth    Authenticator
	logger  zerolog.Logger
	metrics metrics.Collector
}

// NewFlightSQLServer creates a Flight SQL server over runner.
func NewFlightSQLServer(
	runner StatementRunner,
	c cache.Cache,
	auth Authenticator,
	collector metrics.Collector,
	logger zerolog.Logger,
) (*FlightSQLServer, error) {
	s := &FlightSQLServer{
		runner:  runner,
		cache:   c,
		auth:    auth,
		logger:  logger.With().Str("component", "flight-sql").Logger(),
		metrics: metrics.OrNoOp(collector),
	}
	s.Alloc = memory.NewTrackedAllocator("server", nil, s.metrics)

	if err := s.registerSqlInfo(); err != nil {
		return nil, err
	}
	return s, nil
}

// Register registers the Flight service with a gRPC server.
func (s *FlightSQLServer) Register(grpcServer *grpc.Server) {
	flight.RegisterFlightServiceServer(grpcServer, &flightService{
		FlightServer: flightsql.NewFlightServer(s),
		auth:         s.auth,
		logger:       s.logger,
	})
}

// Close releases cached results.
func (s *FlightSQLServer) Close() error {
	stats := s.cache.Stats()
	s.logger.Debug().
		Uint64("hits", stats.Hits).
		Uint64("misses", stats.Misses).
		Uint64("evictions", stats.Evictions).
		Msg("Closing result cache")
	return s.cache.Close()
}

// GetFlightInfoStatement runs the query and parks its result under a ticket.
func (s *FlightSQLServer) GetFlightInfoStatement(
	ctx context.Context,
	cmd flightsql.StatementQuery,
	desc *flight.FlightDescriptor,
) (*flight.FlightInfo, error) {
	rs, err := s.run(ctx, cmd.GetQuery(), "query")
	if err != nil {
		return nil, err
	}

	rec, err := converter.ToRecord(s.Alloc, rs)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode result: %v", err)
	}
	defer rec.Release()

	ticket, err := s.cache.Put(ctx, rec)
	if err != nil {
		return nil, status.Errorf(codes.ResourceExhausted, "park result: %v", err)
	}

	handle, err := flightsql.CreateStatementQueryTicket([]byte(ticket))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "create ticket: %v", err)
	}

	return &flight.FlightInfo{
		Schema:           flight.SerializeSchema(rec.Schema(), s.Alloc),
		FlightDescriptor: desc,
		Endpoint: []*flight.FlightEndpoint{{
			Ticket: &flight.Ticket{Ticket: handle},
		}},
		TotalRecords: rec.NumRows(),
		TotalBytes:   -1,
	}, nil
}

// DoGetStatement streams a parked result. Each ticket can be claimed once.
func (s *FlightSQLServer) DoGetStatement(
	ctx context.Context,
	ticket flightsql.StatementQueryTicket,
) (*arrow.Schema, <-chan flight.StreamChunk, error) {
	rec, ok := s.cache.Take(ctx, string(ticket.GetStatementHandle()))
	if !ok {
		return nil, nil, status.Error(codes.NotFound, "unknown or expired ticket")
	}

	ch := make(chan flight.StreamChunk, 1)
	ch <- flight.StreamChunk{Data: rec}
	close(ch)
	return rec.Schema(), ch, nil
}

// DoPutCommandStatementUpdate runs a statement that returns an update count.
func (s *FlightSQLServer) DoPutCommandStatementUpdate(
	ctx context.Context,
	cmd flightsql.StatementUpdate,
) (int64, error) {
	rs, err := s.run(ctx, cmd.GetQuery(), "update")
	if err != nil {
		return 0, err
	}
	return rs.RowsAffected, nil
}

func (s *FlightSQLServer) run(ctx context.Context, stmt, kind string) (models.ResultSet, error) {
	start := time.Now()
	rs, err := s.runner.RunStatement(ctx, stmt)
	s.metrics.RecordHistogram(MetricStatementDuration, time.Since(start).Seconds(), "kind", kind)

	if err != nil {
		s.metrics.IncrementCounter(MetricStatementsTotal, "kind", kind, "outcome", "error")
		s.logger.Debug().Err(err).Str("kind", kind).Msg("Statement failed")
		return rs, status.Error(codes.InvalidArgument, err.Error())
	}
	s.metrics.IncrementCounter(MetricStatementsTotal, "kind", kind, "outcome", "success")
	return rs, nil
}

// registerSqlInfo registers SQL info with the base server.
func (s *FlightSQLServer) registerSqlInfo() error {
	info := []struct {
		id    flightsql.SqlInfo
		value interface{}
	}{
		{flightsql.SqlInfoFlightSqlServerName, "quire"},
		{flightsql.SqlInfoFlightSqlServerVersion, Version},
		{flightsql.SqlInfoFlightSqlServerArrowVersion, "18.3.0"},
		{flightsql.SqlInfoFlightSqlServerReadOnly, false},
		{flightsql.SqlInfoDDLCatalog, true},
		{flightsql.SqlInfoDDLSchema, true},
		{flightsql.SqlInfoDDLTable, true},
		{flightsql.SqlInfoIdentifierCase, int32(1)},
		{flightsql.SqlInfoQuotedIdentifierCase, int32(1)},
		{flightsql.SqlInfoFlightSqlServerTransaction, int32(0)},
		{flightsql.SqlInfoFlightSqlServerCancel, false},
		{flightsql.SqlInfoFlightSqlServerStatementTimeout, int32(0)},
		{flightsql.SqlInfoFlightSqlServerTransactionTimeout, int32(0)},
	}
	for _, i := range info {
		if err := s.RegisterSqlInfo(i.id, i.value); err != nil {
			return err
		}
	}
	return nil
}

// flightService routes Handshake to the authenticator; the Flight SQL adapter
// does not expose it.
type flightService struct {
	flight.FlightServer
	auth   Authenticator
	logger zerolog.Logger
}

// Handshake reads one "user:password" payload and answers with a session token.
func (f *flightService) Handshake(stream flight.FlightService_HandshakeServer) error {
	req, err := stream.Recv()
	if errors.Is(err, io.EOF) {
		return status.Error(codes.InvalidArgument, "empty handshake")
	}
	if err != nil {
		return err
	}

	user, err := f.auth.ValidateHandshakePayload(req.GetPayload())
	if err != nil {
		f.logger.Warn().Err(err).Msg("Handshake rejected")
		return err
	}

	token, err := f.auth.CreateSessionToken(user)
	if err != nil {
		return err
	}

	f.logger.Debug().Str("user", user).Msg("Handshake accepted")
	return stream.Send(&flight.HandshakeResponse{
		ProtocolVersion: req.GetProtocolVersion(),
		Payload:         []byte(token),
	})
}

var _ StatementRunner = (*engine.Engine)(nil)
