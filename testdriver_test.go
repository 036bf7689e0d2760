package sqlmap

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type DBHandler func(query string, args []driver.NamedValue) (cols []string, rows [][]driver.Value, err error)

// testSet is one result set served by the in-memory driver. types and
// dbTypes are optional and reported through ColumnTypes.
type testSet struct {
	cols    []string
	types   []reflect.Type
	dbTypes []string
	rows    [][]driver.Value
}

type gridHandler func(query string, args []driver.NamedValue) ([]testSet, error)

type testConnector struct {
	h     gridHandler
	delay time.Duration // QueryContext waits this long or until ctx ends

	mu       sync.Mutex
	queries  []string
	args     [][]driver.NamedValue
	openRows atomic.Int32
	closeErr error
}

func (c *testConnector) Connect(context.Context) (driver.Conn, error) { return &testConn{c: c}, nil }
func (c *testConnector) Driver() driver.Driver                        { return testDriver{} }

func (c *testConnector) lastQuery() (string, []driver.NamedValue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queries) == 0 {
		return "", nil
	}
	return c.queries[len(c.queries)-1], c.args[len(c.args)-1]
}

type testDriver struct{}

func (testDriver) Open(name string) (driver.Conn, error) {
	return nil, errors.New("testDriver.Open should not be called; use sql.OpenDB with connector")
}

type testConn struct {
	c *testConnector
}

func (c *testConn) Prepare(string) (driver.Stmt, error) { return nil, driver.ErrSkip }
func (c *testConn) Close() error                        { return nil }
func (c *testConn) Begin() (driver.Tx, error)           { return nil, driver.ErrSkip }

func (c *testConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.c.mu.Lock()
	c.c.queries = append(c.c.queries, query)
	c.c.args = append(c.c.args, args)
	c.c.mu.Unlock()

	if c.c.delay > 0 {
		select {
		case <-time.After(c.c.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	sets, err := c.c.h(query, args)
	if err != nil {
		return nil, err
	}
	if len(sets) == 0 {
		sets = []testSet{{}}
	}
	c.c.openRows.Add(1)
	return &testRows{c: c.c, sets: sets}, nil
}

// testRows serves sets in order and supports driver.RowsNextResultSet and
// the column type interfaces.
type testRows struct {
	c      *testConnector
	sets   []testSet
	set    int
	i      int
	closed bool
}

func (r *testRows) cur() *testSet { return &r.sets[r.set] }

func (r *testRows) Columns() []string { return append([]string(nil), r.cur().cols...) }

func (r *testRows) Close() error {
	if !r.closed {
		r.closed = true
		r.c.openRows.Add(-1)
	}
	return r.c.closeErr
}

func (r *testRows) Next(dest []driver.Value) error {
	s := r.cur()
	if r.i >= len(s.rows) {
		return io.EOF
	}
	row := s.rows[r.i]
	for i := range dest {
		if i < len(row) {
			dest[i] = row[i]
		} else {
			dest[i] = nil
		}
	}
	r.i++
	return nil
}

func (r *testRows) HasNextResultSet() bool { return r.set+1 < len(r.sets) }

func (r *testRows) NextResultSet() error {
	if !r.HasNextResultSet() {
		return io.EOF
	}
	r.set++
	r.i = 0
	return nil
}

func (r *testRows) ColumnTypeScanType(i int) reflect.Type {
	if ts := r.cur().types; i < len(ts) && ts[i] != nil {
		return ts[i]
	}
	return anyType
}

func (r *testRows) ColumnTypeDatabaseTypeName(i int) string {
	if ts := r.cur().dbTypes; i < len(ts) {
		return ts[i]
	}
	return ""
}

// newTestDB creates a *sql.DB backed by the in-memory test driver.
func newTestDB(t *testing.T, h DBHandler) *sql.DB {
	t.Helper()
	return sql.OpenDB(&testConnector{h: single(h)})
}

func single(h DBHandler) gridHandler {
	return func(query string, args []driver.NamedValue) ([]testSet, error) {
		cols, rows, err := h(query, args)
		if err != nil {
			return nil, err
		}
		return []testSet{{cols: cols, rows: rows}}, nil
	}
}

// newFakeDB opens c and closes it when the test ends.
func newFakeDB(t *testing.T, c *testConnector) *sql.DB {
	t.Helper()
	db := sql.OpenDB(c)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// newSession returns a session over db with its own mapper, so plan-cache
// counters are not shared between tests.
func newSession(t *testing.T, db *sql.DB, opts ...Option) *Session {
	t.Helper()
	return New(FromDB(db), append([]Option{WithMapper(NewMapper())}, opts...)...)
}

// requireReleased fails when a connection or cursor is still held.
func requireReleased(t *testing.T, db *sql.DB, c *testConnector) {
	t.Helper()
	if n := db.Stats().InUse; n != 0 {
		t.Fatalf("connections in use: %d", n)
	}
	if n := c.openRows.Load(); n != 0 {
		t.Fatalf("open rows: %d", n)
	}
}
