package sqlmap

import (
	"context"
	"errors"
	"reflect"
)

var gridType = reflect.TypeOf((*GridReader)(nil))

// GridReader reads the result sets of one command in order. Each set is
// read exactly once, by Read or ReadStream; reading or abandoning a set
// moves to the next. After the last set the cursor and connection are
// released automatically.
//
// A GridReader is not safe for concurrent use.
type GridReader struct {
	s        *Session
	e        *execution
	id       Identity
	cur      Cursor // nil once disposed
	index    int
	consumed bool
}

// QueryMultiple executes cmd and returns a reader over its result sets.
// Close it if not every set is read.
//
// Example:
//
//	g, err := sqlmap.QueryMultiple(ctx, s, sqlmap.SQL(`SELECT id, name FROM users; SELECT count(*) FROM orders`))
//	if err != nil {
//	    return err
//	}
//	defer g.Close()
//	users, err := sqlmap.Read[User](g)
//	...
//	total, err := sqlmap.Read[int64](g)
func QueryMultiple(ctx context.Context, s *Session, cmd Command) (*GridReader, error) {
	id := s.identity(cmd, gridType)
	info := s.mapper.cache.GetOrCreate(id)
	e, err := s.open(ctx, cmd, info)
	if err != nil {
		return nil, err
	}
	return &GridReader{s: s, e: e, id: id, cur: e.cur}, nil
}

// Read materializes the current result set into a slice of T and moves
// to the next set.
func Read[T any](g *GridReader) ([]T, error) {
	rows, err := ReadStream[T](g)
	if err != nil {
		return nil, err
	}
	out := []T{}
	for v, err := range rows.All() {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadStream returns the current result set unbuffered. The grid moves to
// the next set when the returned Rows end or are closed, whether or not
// every row was read.
func ReadStream[T any](g *GridReader) (*Rows[T], error) {
	if g.cur == nil {
		return nil, ErrDisposed
	}
	if g.consumed {
		return nil, ErrAlreadyConsumed
	}
	g.consumed = true
	index := g.index

	rt := typeOf[T]()
	id := g.id.ForGrid(rt, index)
	info := g.s.mapper.cache.GetOrCreate(id)
	st, n, err := g.s.resolve(g.e.ctx, g.cur, id, info, g.s.mapper.single(rt))
	if err != nil {
		_ = g.advance(index, true)
		return nil, err
	}
	release := func(failed bool) error { return g.advance(index, failed) }
	return &Rows[T]{rr: newRowReader(g.e.ctx, g.cur, st.proj, n), release: release}, nil
}

// advance moves past result set index; when none remain the grid is disposed.
func (g *GridReader) advance(index int, failed bool) error {
	if g.cur == nil || index != g.index {
		return nil
	}
	if g.cur.NextResultSet() {
		g.index++
		g.consumed = false
		return nil
	}
	cerr := g.cur.Err()
	derr := g.dispose(failed)
	if failed {
		return nil
	}
	return errors.Join(classify(cerr), derr)
}

func (g *GridReader) dispose(failed bool) error {
	if g.cur == nil {
		return nil
	}
	g.cur = nil
	return g.e.release(failed)
}

// Index returns the zero-based position of the current result set.
func (g *GridReader) Index() int { return g.index }

// Disposed reports whether the cursor has been released.
func (g *GridReader) Disposed() bool { return g.cur == nil }

// Close releases the cursor and connection. It is safe to call more than once.
func (g *GridReader) Close() error { return g.dispose(false) }
