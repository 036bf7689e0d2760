package sqlmap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Querier is implemented by *sql.DB, *sql.Tx, *sql.Conn, and any wrapper
// that can execute a query returning rows.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Execer is implemented by *sql.DB, *sql.Tx, *sql.Conn, and any wrapper
// that can execute a statement that does not return rows.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type queryExecer interface {
	Querier
	Execer
}

// Conn is the connection collaborator. It is used by one caller at a time.
type Conn interface {
	// Descriptor distinguishes otherwise identical queries against
	// different backends; it is part of every cache identity.
	Descriptor() string

	// OpenIfClosed opens the connection if needed and reports whether it
	// did. Only a caller that got true may Close it.
	OpenIfClosed(ctx context.Context) (wasClosed bool, err error)
	Close() error

	Prepare(ctx context.Context, st Statement) (Stmt, error)
}

// Statement is a bound command ready for preparation.
type Statement struct {
	Text string
	Args []any
	Kind CommandKind
}

// Stmt is an executable statement handle.
type Stmt interface {
	Query(ctx context.Context) (Cursor, error)
	Exec(ctx context.Context) (sql.Result, error)
	// Cancel aborts an in-flight execution; errors are ignored by callers.
	Cancel() error
	Close() error
}

// Cursor is a forward-only reader over one or more result sets.
// *sql.Rows satisfies it through FromDB, FromConn and FromTx.
type Cursor interface {
	// Columns describes the current result set and is valid before Next.
	Columns() ([]Column, error)
	Next() bool
	Scan(dest ...any) error
	NextResultSet() bool
	Err() error
	Close() error
}

var errConnClosed = errors.New("sqlmap: connection is not open")

// FromDB adapts a pool. OpenIfClosed checks out a dedicated *sql.Conn and
// Close returns it, so the adapter behaves like a single connection.
func FromDB(db *sql.DB) Conn {
	return &dbConn{db: db, desc: DescriptorOf(db)}
}

// DescriptorOf returns the descriptor FromDB uses for db. Pass it to
// WithDescriptor for sessions over FromTx or FromConn so they share plans
// with the pool's sessions.
func DescriptorOf(db *sql.DB) string { return fmt.Sprintf("%T@%p", db.Driver(), db) }

// FromConn adapts an already open connection; it is never closed by sqlmap.
// Its descriptor names the driver connection type; connections of one
// driver to different databases need WithDescriptor to keep their plans apart.
func FromConn(c *sql.Conn) Conn {
	desc := "sql.Conn"
	_ = c.Raw(func(dc any) error {
		desc = fmt.Sprintf("sql.Conn(%T)", dc)
		return nil
	})
	return &openConn{qe: c, desc: desc}
}

// FromTx runs every command inside tx; it is never committed or closed by
// sqlmap. A transaction does not reveal its database, so every FromTx
// session shares the descriptor "sql.Tx" unless WithDescriptor is set,
// typically to DescriptorOf(db).
func FromTx(tx *sql.Tx) Conn { return &openConn{qe: tx, desc: "sql.Tx"} }

type dbConn struct {
	db   *sql.DB
	conn *sql.Conn
	desc string
}

func (c *dbConn) Descriptor() string { return c.desc }

func (c *dbConn) OpenIfClosed(ctx context.Context) (bool, error) {
	if c.conn != nil {
		return false, nil
	}
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return false, err
	}
	c.conn = conn
	return true, nil
}

func (c *dbConn) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *dbConn) Prepare(_ context.Context, st Statement) (Stmt, error) {
	if c.conn == nil {
		return nil, errConnClosed
	}
	return &sqlStmt{qe: c.conn, st: st}, nil
}

type openConn struct {
	qe   queryExecer
	desc string
}

func (c *openConn) Descriptor() string                         { return c.desc }
func (c *openConn) OpenIfClosed(context.Context) (bool, error) { return false, nil }
func (c *openConn) Close() error                               { return nil }

func (c *openConn) Prepare(_ context.Context, st Statement) (Stmt, error) {
	return &sqlStmt{qe: c.qe, st: st}, nil
}

// sqlStmt defers to QueryContext/ExecContext; database/sql prepares
// internally when the driver needs it. Cancellation travels through ctx.
type sqlStmt struct {
	qe queryExecer
	st Statement
}

func (s *sqlStmt) Query(ctx context.Context) (Cursor, error) {
	rows, err := s.qe.QueryContext(ctx, s.st.Text, s.st.Args...)
	if err != nil {
		return nil, err
	}
	return &rowsCursor{rows: rows}, nil
}

func (s *sqlStmt) Exec(ctx context.Context) (sql.Result, error) {
	return s.qe.ExecContext(ctx, s.st.Text, s.st.Args...)
}

func (s *sqlStmt) Cancel() error { return nil }
func (s *sqlStmt) Close() error  { return nil }

type rowsCursor struct {
	rows *sql.Rows
}

func (c *rowsCursor) Columns() ([]Column, error) {
	cts, err := c.rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	cols := make([]Column, len(cts))
	for i, ct := range cts {
		cols[i] = Column{Name: ct.Name(), DatabaseType: ct.DatabaseTypeName(), ScanType: ct.ScanType()}
	}
	return cols, nil
}

func (c *rowsCursor) Next() bool             { return c.rows.Next() }
func (c *rowsCursor) Scan(dest ...any) error { return c.rows.Scan(dest...) }
func (c *rowsCursor) NextResultSet() bool    { return c.rows.NextResultSet() }
func (c *rowsCursor) Err() error             { return c.rows.Err() }
func (c *rowsCursor) Close() error           { return c.rows.Close() }
