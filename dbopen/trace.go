package dbopen

import (
	"context"
	"database/sql/driver"
	"log/slog"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
)

// WithTrace logs every statement run on the pool: Debug normally, Warn
// above 100ms, Error on failure. Fast PRAGMA statements are not logged.
func WithTrace(logger *slog.Logger) Option {
	return func(c *config) { c.trace = logger }
}

// traceConnector opens modernc connections whose statements are timed.
type traceConnector struct {
	dsn    string
	drv    driver.Driver
	logger *slog.Logger
}

func newTraceConnector(dsn string, logger *slog.Logger) *traceConnector {
	return &traceConnector{dsn: dsn, drv: &sqlite.Driver{}, logger: logger}
}

func (c *traceConnector) Connect(context.Context) (driver.Conn, error) {
	conn, err := c.drv.Open(c.dsn)
	if err != nil {
		return nil, err
	}
	return &tracingConn{Conn: conn, logger: c.logger}, nil
}

func (c *traceConnector) Driver() driver.Driver { return c.drv }

// tracingConn hides the wrapped connection's direct Exec and Query paths
// so database/sql always goes through Prepare.
type tracingConn struct {
	driver.Conn
	logger *slog.Logger
}

func (c *tracingConn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

func (c *tracingConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	var (
		stmt driver.Stmt
		err  error
	)
	if pc, ok := c.Conn.(driver.ConnPrepareContext); ok {
		stmt, err = pc.PrepareContext(ctx, query)
	} else {
		stmt, err = c.Conn.Prepare(query)
	}
	ts := &tracingStmt{Stmt: stmt, query: query, logger: c.logger}
	if err != nil {
		ts.record(ctx, "prepare", 0, err)
		return nil, err
	}
	return ts, nil
}

func (c *tracingConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if bc, ok := c.Conn.(driver.ConnBeginTx); ok {
		return bc.BeginTx(ctx, opts)
	}
	return c.Conn.Begin()
}

type tracingStmt struct {
	driver.Stmt
	query  string
	logger *slog.Logger
}

func (s *tracingStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	start := time.Now()
	var (
		res driver.Result
		err error
	)
	if ec, ok := s.Stmt.(driver.StmtExecContext); ok {
		res, err = ec.ExecContext(ctx, args)
	} else {
		res, err = s.Stmt.Exec(values(args))
	}
	s.record(ctx, "exec", time.Since(start), err)
	return res, err
}

func (s *tracingStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	start := time.Now()
	var (
		rows driver.Rows
		err  error
	)
	if qc, ok := s.Stmt.(driver.StmtQueryContext); ok {
		rows, err = qc.QueryContext(ctx, args)
	} else {
		rows, err = s.Stmt.Query(values(args))
	}
	s.record(ctx, "query", time.Since(start), err)
	return rows, err
}

func (s *tracingStmt) record(ctx context.Context, op string, d time.Duration, err error) {
	if err == nil && d < 10*time.Millisecond && strings.HasPrefix(s.query, "PRAGMA ") {
		return
	}
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	} else if d > 100*time.Millisecond {
		level = slog.LevelWarn
	}
	attrs := []slog.Attr{
		slog.String("op", op),
		slog.String("query", firstLine(s.query)),
		slog.Duration("duration", d),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	s.logger.LogAttrs(ctx, level, "dbopen: sql", attrs...)
}

func values(named []driver.NamedValue) []driver.Value {
	out := make([]driver.Value, len(named))
	for i, nv := range named {
		out[i] = nv.Value
	}
	return out
}
