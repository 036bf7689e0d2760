package sqlmap

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
)

// execution owns what one command acquired: the connection (only when the
// command opened it), the statement, the cursor and the timeout context.
// release frees them exactly once.
type execution struct {
	s         *Session
	ctx       context.Context
	cancel    context.CancelFunc
	wasClosed bool
	stmt      Stmt
	cur       Cursor
	done      bool
}

func (s *Session) commandContext(ctx context.Context, cmd Command) (context.Context, context.CancelFunc) {
	d := cmd.Timeout
	if d == 0 {
		d = s.timeout
	}
	if d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

// begin binds parameters, opens the connection if it is closed and prepares
// the statement. On failure everything acquired so far is released.
func (s *Session) begin(ctx context.Context, cmd Command, info *CacheInfo) (_ *execution, err error) {
	b, err := info.binder(func() (*paramBinder, error) {
		return compileBinder(cmd.Text, cmd.Kind, cmd.Params)
	})
	if err != nil {
		return nil, err
	}
	text, args, err := b.bind(cmd.Text, cmd.Params)
	if err != nil {
		return nil, err
	}
	if cmd.Kind == StoredProcedure {
		text = s.procCall(text, len(args))
	}
	text = rewritePlaceholders(text, s.ph)

	e := &execution{s: s}
	e.ctx, e.cancel = s.commandContext(ctx, cmd)
	defer func() {
		if err != nil {
			_ = e.release(true)
			err = classify(err)
		}
	}()

	if e.wasClosed, err = s.conn.OpenIfClosed(e.ctx); err != nil {
		return nil, err
	}
	if e.stmt, err = s.conn.Prepare(e.ctx, Statement{Text: text, Args: args, Kind: cmd.Kind}); err != nil {
		return nil, err
	}
	return e, nil
}

// open runs begin and executes the statement for a cursor.
func (s *Session) open(ctx context.Context, cmd Command, info *CacheInfo) (*execution, error) {
	e, err := s.begin(ctx, cmd, info)
	if err != nil {
		return nil, err
	}
	cur, err := e.stmt.Query(e.ctx)
	if err != nil {
		_ = e.release(true)
		return nil, classify(err)
	}
	e.cur = cur
	return e, nil
}

// release closes cursor, statement and (if opened here) connection. After
// a failure, cleanup errors are logged and suppressed so they never mask
// the original error; otherwise they are returned.
func (e *execution) release(failed bool) error {
	if e.done {
		return nil
	}
	e.done = true

	var errs []error
	if e.cur != nil {
		if failed && e.stmt != nil {
			_ = e.stmt.Cancel()
		}
		errs = append(errs, e.cur.Close())
	}
	if e.stmt != nil {
		errs = append(errs, e.stmt.Close())
	}
	if e.wasClosed {
		errs = append(errs, e.s.conn.Close())
	}
	e.cancel()

	err := errors.Join(errs...)
	if err != nil && failed {
		e.s.log.Debug("sqlmap: suppressed cleanup error", "error", err)
		return nil
	}
	return err
}

// resolve returns the deserializer of info for the cursor's current result
// set, compiling it when unset or when the column layout changed.
func (s *Session) resolve(ctx context.Context, cur Cursor, id Identity, info *CacheInfo, build func(cols []Column) (*DeserializerState, error)) (*DeserializerState, int, error) {
	cols, err := cur.Columns()
	if err != nil {
		return nil, 0, classify(err)
	}
	st, drift, err := s.mapper.cache.deserializer(info, cols, func(hash uint64) (*DeserializerState, error) {
		st, err := build(cols)
		if err != nil {
			return nil, err
		}
		st.Hash = hash
		s.log.DebugContext(ctx, "sqlmap: compiled plan", "identity", id.String(), "columns", len(cols))
		return st, nil
	})
	if err != nil {
		return nil, 0, err
	}
	if drift {
		s.log.DebugContext(ctx, "sqlmap: column layout changed, plan replaced", "identity", id.String())
	}
	return st, len(cols), nil
}

// single builds the deserializer for one target type over all columns.
func (m *Mapper) single(rt reflect.Type) func(cols []Column) (*DeserializerState, error) {
	return func(cols []Column) (*DeserializerState, error) {
		p, err := m.compile(rt, cols, 0, -1, false)
		if err != nil {
			return nil, err
		}
		return &DeserializerState{proj: p}, nil
	}
}

// Exec executes a statement that does not return rows (INSERT, UPDATE, DELETE, DDL).
//
// On success it returns the driver's [sql.Result], which may support
// LastInsertId and RowsAffected depending on the database/driver.
//
// Example:
//
//	s := sqlmap.New(sqlmap.FromDB(db))
//	res, err := sqlmap.Exec(ctx, s, sqlmap.SQL(`INSERT INTO users (email) VALUES (?)`, "a@example.com"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	n, _ := res.RowsAffected()
//	fmt.Println("rows:", n)
func Exec(ctx context.Context, s *Session, cmd Command) (res sql.Result, err error) {
	info := s.mapper.cache.GetOrCreate(s.identity(cmd, nil))
	e, err := s.begin(ctx, cmd, info)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := e.release(err != nil); rerr != nil && err == nil {
			err = rerr
		}
	}()
	res, err = e.stmt.Exec(e.ctx)
	if err != nil {
		return nil, classify(err)
	}
	return res, nil
}
