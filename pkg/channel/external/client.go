package external

import (
	"context"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/flight/flightsql"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"

	"github.com/TFMV/quire/pkg/engine"
	"github.com/TFMV/quire/pkg/infrastructure/converter"
	"github.com/TFMV/quire/pkg/models"
)

// flightClient is a logged-in Flight SQL session against one server child.
type flightClient struct {
	conn   *grpc.ClientConn
	client *flightsql.Client
	token  string
}

// connect waits for the server at addr to report SERVING, logs in and binds
// the session to the default namespace.
func connect(ctx context.Context, addr, user, password string, poll time.Duration) (*flightClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	c := &flightClient{
		conn: conn,
		client: &flightsql.Client{
			Client: flight.NewClientFromConn(conn, nil),
			Alloc:  memory.NewGoAllocator(),
		},
	}

	if err := c.waitServing(ctx, poll); err != nil {
		conn.Close()
		return nil, err
	}
	if err := c.login(ctx, user, password); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := c.execute(ctx, engine.Preamble); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bind namespace: %w", err)
	}
	return c, nil
}

func (c *flightClient) waitServing(ctx context.Context, poll time.Duration) error {
	health := grpc_health_v1.NewHealthClient(c.conn)
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		probeCtx, cancel := context.WithTimeout(ctx, time.Second)
		resp, err := health.Check(probeCtx, &grpc_health_v1.HealthCheckRequest{})
		cancel()
		if err == nil && resp.GetStatus() == grpc_health_v1.HealthCheckResponse_SERVING {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for server health: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// login exchanges root credentials for a session token over the Flight
// handshake.
func (c *flightClient) login(ctx context.Context, user, password string) error {
	stream, err := c.client.Client.Handshake(ctx)
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	if err := stream.Send(&flight.HandshakeRequest{Payload: []byte(user + ":" + password)}); err != nil {
		return fmt.Errorf("handshake send: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("handshake close: %w", err)
	}
	resp, err := stream.Recv()
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	c.token = string(resp.GetPayload())
	return nil
}

func (c *flightClient) authorize(ctx context.Context) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
}

// execute sends one statement verbatim. Result-set statements go through
// Execute and DoGet, everything else through ExecuteUpdate.
func (c *flightClient) execute(ctx context.Context, stmt string) (models.ResultSet, error) {
	start := time.Now()
	rs := models.ResultSet{
		Statement: stmt,
		Rows:      []map[string]any{},
	}
	ctx = c.authorize(ctx)

	if !engine.Classify(stmt).ExpectsResultSet {
		n, err := c.client.ExecuteUpdate(ctx, stmt)
		if err != nil {
			return rs, err
		}
		rs.RowsAffected = n
		rs.Duration = time.Since(start)
		return rs, nil
	}

	info, err := c.client.Execute(ctx, stmt)
	if err != nil {
		return rs, err
	}

	schema, records, err := c.fetch(ctx, info)
	defer func() {
		for _, rec := range records {
			rec.Release()
		}
	}()
	if err != nil {
		return rs, err
	}

	rs.Columns, rs.Types, rs.Rows = converter.FromRecords(schema, records)
	rs.Duration = time.Since(start)
	return rs, nil
}

func (c *flightClient) fetch(ctx context.Context, info *flight.FlightInfo) (*arrow.Schema, []arrow.Record, error) {
	schema, err := flight.DeserializeSchema(info.GetSchema(), c.client.Alloc)
	if err != nil {
		return nil, nil, fmt.Errorf("decode schema: %w", err)
	}

	var records []arrow.Record
	for _, ep := range info.GetEndpoint() {
		rdr, err := c.client.DoGet(ctx, ep.GetTicket())
		if err != nil {
			return nil, records, err
		}
		for rdr.Next() {
			rec := rdr.Record()
			rec.Retain()
			records = append(records, rec)
		}
		err = rdr.Err()
		rdr.Release()
		if err != nil {
			return nil, records, err
		}
	}
	return schema, records, nil
}

func (c *flightClient) Close() error {
	return c.conn.Close()
}
