package sqlmap

import (
	"context"
	"errors"
	"iter"
	"reflect"
)

// rowReader walks one result set. Each row is scanned into a reused
// []any buffer and handed to the projection.
type rowReader struct {
	ctx   context.Context
	cur   Cursor
	proj  projection
	vals  []any
	dests []any
	row   int
}

func newRowReader(ctx context.Context, cur Cursor, proj projection, ncols int) *rowReader {
	r := &rowReader{ctx: ctx, cur: cur, proj: proj, vals: make([]any, ncols), dests: make([]any, ncols)}
	for i := range r.vals {
		r.dests[i] = &r.vals[i]
	}
	return r
}

// next returns the next materialized row; ok is false at the end of the set.
func (r *rowReader) next() (v reflect.Value, ok bool, err error) {
	if err := r.ctx.Err(); err != nil {
		return reflect.Value{}, false, classify(err)
	}
	if !r.cur.Next() {
		if err := r.cur.Err(); err != nil {
			return reflect.Value{}, false, classify(err)
		}
		return reflect.Value{}, false, nil
	}
	clear(r.vals)
	if err := r.cur.Scan(r.dests...); err != nil {
		return reflect.Value{}, false, &MaterializationError{Row: r.row, Err: classify(err)}
	}
	v, err = r.proj(r.vals)
	if err != nil {
		var me *MaterializationError
		if errors.As(err, &me) {
			me.Row = r.row
		}
		return reflect.Value{}, false, err
	}
	r.row++
	return v, true, nil
}

// Rows is a lazy, single-pass sequence of materialized rows. Rows are
// read from the database as the sequence is pulled. The underlying
// resources are released when the sequence ends, when the consumer stops
// early, or on Close.
type Rows[T any] struct {
	rr      *rowReader
	release func(failed bool) error
	started bool
	closed  bool
	err     error
}

// All returns the sequence. It can be ranged over once: a second range
// yields ErrAlreadyConsumed, and ranging after Close yields ErrDisposed.
// A read error is yielded once and ends the sequence.
func (r *Rows[T]) All() iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		switch {
		case r.started:
			yield(zero, ErrAlreadyConsumed)
			return
		case r.closed:
			yield(zero, ErrDisposed)
			return
		}
		r.started = true
		defer r.Close()

		for {
			v, ok, err := r.rr.next()
			if err != nil {
				r.err = err
				yield(zero, err)
				return
			}
			if !ok {
				if err := r.Close(); err != nil {
					yield(zero, err)
				}
				return
			}
			if !yield(as[T](v), nil) {
				return
			}
		}
	}
}

// Err returns the first error met while reading or releasing.
func (r *Rows[T]) Err() error { return r.err }

// Close releases the underlying resources. It is safe to call more than once.
func (r *Rows[T]) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.release(r.err != nil)
	if err != nil && r.err == nil {
		r.err = err
	}
	return err
}

// collect drains rr into a slice; an empty result is a non-nil empty slice.
func collect[T any](rr *rowReader) ([]T, error) {
	out := []T{}
	for {
		v, ok, err := rr.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, as[T](v))
	}
}
