// Package pool opens the DuckDB database behind an engine and hands out the
// connection its session is pinned to.
package pool

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"
	"github.com/rs/zerolog"

	pkgerrors "github.com/TFMV/quire/pkg/errors"
)

// Config represents pool configuration.
type Config struct {
	DSN                string        `json:"dsn"`
	MaxOpenConnections int           `json:"max_open_connections"`
	OpenTimeout        time.Duration `json:"open_timeout"`
}

// ConnectionPool owns one DuckDB database.
type ConnectionPool interface {
	// Pin reserves a dedicated connection. Session state such as USE lives on
	// it, so the caller keeps it for the lifetime of the session.
	Pin(ctx context.Context) (*sql.Conn, error)
	// Release closes a connection obtained from Pin.
	Release(conn *sql.Conn) error
	// HealthCheck runs a trivial query on a spare connection.
	HealthCheck(ctx context.Context) error
	// Pinned returns the number of connections currently pinned.
	Pinned() int
	// Close closes the database. Idempotent.
	Close() error
}

type connectionPool struct {
	db     *sql.DB
	logger zerolog.Logger
	closed atomic.Bool
	pinned atomic.Int32
}

// New opens the database and verifies it answers queries.
func New(cfg Config, logger zerolog.Logger) (ConnectionPool, error) {
	if cfg.DSN == "" {
		cfg.DSN = ":memory:"
	}
	// One pinned session plus one spare for health checks.
	if cfg.MaxOpenConnections < 2 {
		cfg.MaxOpenConnections = 2
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	logger.Debug().
		Str("dsn", maskDSN(cfg.DSN)).
		Int("max_open", cfg.MaxOpenConnections).
		Msg("Opening DuckDB database")

	db, err := sql.Open("duckdb", cfg.DSN)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "failed to open database")
	}
	db.SetMaxOpenConns(cfg.MaxOpenConnections)
	db.SetMaxIdleConns(cfg.MaxOpenConnections)
	// An in-memory database lives only as long as its connections.
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	p := &connectionPool{db: db, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.OpenTimeout)
	defer cancel()
	if err := p.HealthCheck(ctx); err != nil {
		db.Close()
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeUnavailable, "database did not answer")
	}
	return p, nil
}

func (p *connectionPool) Pin(ctx context.Context) (*sql.Conn, error) {
	if p.closed.Load() {
		return nil, pkgerrors.New(pkgerrors.CodeUnavailable, "connection pool is closed")
	}
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeUnavailable, "failed to pin connection")
	}
	p.pinned.Add(1)
	return conn, nil
}

func (p *connectionPool) Release(conn *sql.Conn) error {
	p.pinned.Add(-1)
	if err := conn.Close(); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.CodeInternal, "failed to release connection")
	}
	return nil
}

func (p *connectionPool) HealthCheck(ctx context.Context) error {
	if p.closed.Load() {
		return pkgerrors.New(pkgerrors.CodeUnavailable, "connection pool is closed")
	}

	var one int
	if err := p.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		p.logger.Warn().Err(err).Msg("Database health check failed")
		return pkgerrors.Wrap(err, pkgerrors.CodeUnavailable, "health check query failed")
	}
	if one != 1 {
		return pkgerrors.New(pkgerrors.CodeUnavailable, "health check returned an unexpected value")
	}
	return nil
}

func (p *connectionPool) Pinned() int {
	return int(p.pinned.Load())
}

func (p *connectionPool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if n := p.Pinned(); n > 0 {
		p.logger.Warn().Int("pinned", n).Msg("Closing database with pinned connections")
	}
	if err := p.db.Close(); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.CodeInternal, "failed to close database")
	}
	return nil
}
