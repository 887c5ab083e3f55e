// Package engine hosts the DuckDB query engine shared by the embedded backend
// and the Flight SQL server.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	pkgerrors "github.com/TFMV/quire/pkg/errors"
	"github.com/TFMV/quire/pkg/infrastructure/pool"
	"github.com/TFMV/quire/pkg/models"
)

const (
	// Namespace is the catalog every session is bound to.
	Namespace = "default"
	// Database is the schema every session is bound to.
	Database = "default"
)

// Preamble is prepended to every submitted query. Its ResultSet is always the
// first one of a result and is dropped before display.
var Preamble = fmt.Sprintf("USE %q.%q;", Namespace, Database)

// Config represents engine configuration.
type Config struct {
	DSN                string
	MaxOpenConnections int
}

// StatementError reports which statement of a query the engine rejected.
type StatementError struct {
	Index     int
	Statement string
	Err       error
}

func (e *StatementError) Error() string {
	return e.Err.Error()
}

func (e *StatementError) Unwrap() error {
	return e.Err
}

// Engine executes SQL text on a single pinned DuckDB connection, so session
// state such as USE carries over between calls.
type Engine struct {
	pool   pool.ConnectionPool
	logger zerolog.Logger

	mu     sync.Mutex
	conn   *sql.Conn
	closed bool
}

// Open creates the database, binds it to the default namespace and pins the
// session connection.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*Engine, error) {
	logger = logger.With().Str("component", "engine").Logger()

	p, err := pool.New(pool.Config{
		DSN:                cfg.DSN,
		MaxOpenConnections: cfg.MaxOpenConnections,
	}, logger)
	if err != nil {
		return nil, err
	}

	conn, err := p.Pin(ctx)
	if err != nil {
		p.Close()
		return nil, err
	}

	e := &Engine{
		pool:   p,
		logger: logger,
		conn:   conn,
	}

	if err := e.bootstrap(ctx); err != nil {
		e.Close()
		return nil, err
	}

	logger.Debug().
		Str("namespace", Namespace).
		Str("database", Database).
		Msg("Engine ready")

	return e, nil
}

func (e *Engine) bootstrap(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf("ATTACH IF NOT EXISTS ':memory:' AS %q", Namespace),
		fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %q.%q", Namespace, Database),
		Preamble,
	}
	for _, stmt := range stmts {
		if _, err := e.conn.ExecContext(ctx, stmt); err != nil {
			return pkgerrors.Wrapf(err, pkgerrors.CodeInternal, "failed to bootstrap namespace: %s", stmt)
		}
	}
	return nil
}

// Run executes every statement of text in order and returns one ResultSet per
// statement. The first failing statement aborts the run.
func (e *Engine) Run(ctx context.Context, text string) ([]models.ResultSet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, pkgerrors.New(pkgerrors.CodeUnavailable, "engine is closed")
	}

	stmts := SplitStatements(text)
	results := make([]models.ResultSet, 0, len(stmts))

	for i, stmt := range stmts {
		rs, err := e.execute(ctx, stmt)
		if err != nil {
			e.logger.Debug().
				Err(err).
				Int("statement", i).
				Msg("Statement failed")
			return nil, &StatementError{Index: i, Statement: stmt, Err: err}
		}
		results = append(results, rs)
	}

	return results, nil
}

// RunStatement executes a single statement.
func (e *Engine) RunStatement(ctx context.Context, stmt string) (models.ResultSet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return models.ResultSet{}, pkgerrors.New(pkgerrors.CodeUnavailable, "engine is closed")
	}
	return e.execute(ctx, stmt)
}

func (e *Engine) execute(ctx context.Context, stmt string) (models.ResultSet, error) {
	start := time.Now()
	rs := models.ResultSet{
		Statement: stmt,
		Rows:      []map[string]any{},
	}

	if !Classify(stmt).ExpectsResultSet {
		res, err := e.conn.ExecContext(ctx, stmt)
		if err != nil {
			return rs, err
		}
		if n, err := res.RowsAffected(); err == nil {
			rs.RowsAffected = n
		}
		rs.Duration = time.Since(start)
		return rs, nil
	}

	rows, err := e.conn.QueryContext(ctx, stmt)
	if err != nil {
		return rs, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return rs, err
	}
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return rs, err
	}

	rs.Columns = columns
	rs.Types = make([]string, len(columnTypes))
	for i, ct := range columnTypes {
		rs.Types[i] = ct.DatabaseTypeName()
	}

	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return rs, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		rs.Rows = append(rs.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return rs, err
	}

	rs.Duration = time.Since(start)
	return rs, nil
}

// HealthCheck probes the underlying pool.
func (e *Engine) HealthCheck(ctx context.Context) error {
	return e.pool.HealthCheck(ctx)
}

// Close releases the pinned connection and the database. Safe to call twice.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	if e.conn != nil {
		if err := e.pool.Release(e.conn); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to release session connection")
		}
	}
	return e.pool.Close()
}
