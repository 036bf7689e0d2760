package sqlmap

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
)

// --- Minimal exec-only in-test driver ---------------------------------------

type execHandler func(query string, args []driver.NamedValue) (driver.Result, error)

type execConnector struct{ h execHandler }

func (c *execConnector) Connect(context.Context) (driver.Conn, error) { return &execConn{h: c.h}, nil }
func (c *execConnector) Driver() driver.Driver                        { return execDriver{} }

type execDriver struct{}

func (execDriver) Open(name string) (driver.Conn, error) {
	return nil, errors.New("execDriver.Open should not be called; use sql.OpenDB with connector")
}

type execConn struct{ h execHandler }

func (c *execConn) Prepare(string) (driver.Stmt, error) { return nil, driver.ErrSkip }
func (c *execConn) Close() error                        { return nil }
func (c *execConn) Begin() (driver.Tx, error)           { return nil, driver.ErrSkip }

// Support ExecContext so *sql.DB.ExecContext hits this path.
func (c *execConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	return c.h(query, args)
}

// Result implementation for tests.
type testResult struct {
	lastID int64
	rows   int64
	liErr  error
	raErr  error
}

func (r testResult) LastInsertId() (int64, error) { return r.lastID, r.liErr }
func (r testResult) RowsAffected() (int64, error) { return r.rows, r.raErr }

func newExecDB(t *testing.T, h execHandler) *sql.DB {
	t.Helper()
	return sql.OpenDB(&execConnector{h: h})
}

// --- Tests -------------------------------------------------------------------

func TestExec_RowsAffected(t *testing.T) {
	db := newExecDB(t, func(query string, args []driver.NamedValue) (driver.Result, error) {
		if query != `UPDATE users SET email = ? WHERE id > ?` {
			t.Fatalf("unexpected query: %q", query)
		}
		// ints are normalized to int64 by database/sql
		if len(args) != 2 || args[0].Value != "x@ex.com" || args[1].Value != int64(10) {
			t.Fatalf("unexpected args: %#v", args)
		}
		return testResult{rows: 3}, nil
	})
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	res, err := Exec(ctx, newSession(t, db), SQL(`UPDATE users SET email = ? WHERE id > ?`, "x@ex.com", 10))
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		t.Fatalf("RowsAffected err: %v", err)
	}
	if n != 3 {
		t.Fatalf("RowsAffected=%d want 3", n)
	}
}

func TestExec_LastInsertID(t *testing.T) {
	db := newExecDB(t, func(query string, args []driver.NamedValue) (driver.Result, error) {
		if query != `INSERT INTO users (email) VALUES (?)` {
			t.Fatalf("unexpected query: %q", query)
		}
		if len(args) != 1 || args[0].Value != "ada@lovelace.dev" {
			t.Fatalf("unexpected args: %#v", args)
		}
		return testResult{lastID: 99, rows: 1}, nil
	})
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	res, err := Exec(ctx, newSession(t, db), SQL(`INSERT INTO users (email) VALUES (?)`, "ada@lovelace.dev"))
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("LastInsertId err: %v", err)
	}
	if id != 99 {
		t.Fatalf("LastInsertId=%d want 99", id)
	}
}

func TestExec_Error(t *testing.T) {
	sentinel := errors.New("boom")
	db := newExecDB(t, func(query string, args []driver.NamedValue) (driver.Result, error) {
		return nil, sentinel
	})
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	_, err := Exec(ctx, newSession(t, db), SQL(`DELETE FROM users WHERE id = ?`, 7))
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errors.Is(err, sentinel) {
		t.Fatalf("want %v, got %v", sentinel, err)
	}
	if n := db.Stats().InUse; n != 0 {
		t.Fatalf("connections in use: %d", n)
	}
}

func TestExec_Procedure_NamedArgs(t *testing.T) {
	var gotQuery string
	var gotArgs []driver.NamedValue
	db := newExecDB(t, func(query string, args []driver.NamedValue) (driver.Result, error) {
		gotQuery, gotArgs = query, args
		return testResult{rows: 1}, nil
	})
	defer func() { _ = db.Close() }()

	type params struct {
		ID    int64  `db:"id"`
		Email string `db:"email"`
	}
	ctx := context.Background()
	_, err := Exec(ctx, newSession(t, db), Procedure("set_email", params{ID: 3, Email: "a@b.c"}))
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if gotQuery != "CALL set_email(?, ?)" {
		t.Fatalf("unexpected query: %q", gotQuery)
	}
	if len(gotArgs) != 2 || gotArgs[0].Name != "id" || gotArgs[0].Value != int64(3) ||
		gotArgs[1].Name != "email" || gotArgs[1].Value != "a@b.c" {
		t.Fatalf("unexpected args: %#v", gotArgs)
	}
}

func TestExec_Procedure_CustomCall(t *testing.T) {
	var gotQuery string
	db := newExecDB(t, func(query string, args []driver.NamedValue) (driver.Result, error) {
		gotQuery = query
		return testResult{}, nil
	})
	defer func() { _ = db.Close() }()

	s := newSession(t, db, WithPlaceholder(PlaceholderAtP), WithProcedureCall(func(name string, n int) string {
		return "EXEC " + name + " ?, ?"
	}))
	if _, err := Exec(context.Background(), s, Procedure("touch", 1, 2)); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if gotQuery != "EXEC touch @p1, @p2" {
		t.Fatalf("unexpected query: %q", gotQuery)
	}
}

func TestExec_ConnectionReusedWhenOpen(t *testing.T) {
	db := newExecDB(t, func(query string, args []driver.NamedValue) (driver.Result, error) {
		return testResult{rows: 1}, nil
	})
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	conn, err := db.Conn(ctx)
	if err != nil {
		t.Fatalf("Conn: %v", err)
	}
	defer func() { _ = conn.Close() }()

	s := New(FromConn(conn), WithMapper(NewMapper()))
	for i := 0; i < 3; i++ {
		if _, err := Exec(ctx, s, SQL(`UPDATE t SET n = n + 1`)); err != nil {
			t.Fatalf("Exec: %v", err)
		}
	}
	// The caller's connection stays open and checked out.
	if n := db.Stats().InUse; n != 1 {
		t.Fatalf("connections in use: %d want 1", n)
	}
}
