package sqlmap

import (
	"context"
	"reflect"
	"strings"
)

type colRange struct{ start, end int }

// splitColumns partitions cols into one contiguous range per type. The
// boundary after type i is the first column past the start of range i
// named like the i-th entry of splitOn (the last entry repeats). Only when
// no such column follows does a column named after the next type,
// "<Type>Id" or "<Type>_id", mark the boundary. A split of "*" gives each
// type one column. Types past the last boundary found get empty ranges.
func splitColumns(cols []Column, types []reflect.Type, splitOn string) []colRange {
	var names []string
	for _, n := range strings.Split(splitOn, ",") {
		names = append(names, normalizeColAscii(strings.TrimSpace(n)))
	}

	ranges := make([]colRange, len(types))
	start := 0
	for i := range types {
		end := len(cols)
		if i < len(types)-1 {
			name := names[min(i, len(names)-1)]
			if name == "*" {
				end = min(start+1, len(cols))
			} else {
				end = nextSplit(cols, start+1, name, types[i+1])
			}
		}
		ranges[i] = colRange{start: start, end: end}
		start = end
	}
	return ranges
}

// nextSplit finds the boundary column at or after from. A "<Type>Id" column
// is often the previous type's foreign key, so it only counts when name
// does not occur at all.
func nextSplit(cols []Column, from int, name string, next reflect.Type) int {
	for j := from; j < len(cols); j++ {
		if normalizeColAscii(cols[j].Name) == name {
			return j
		}
	}
	if alt := toLowerAscii(derefPtr(next).Name()); alt != "" {
		for j := from; j < len(cols); j++ {
			if n := normalizeColAscii(cols[j].Name); n == alt+"id" || n == alt+"_id" {
				return j
			}
		}
	}
	return len(cols)
}

// multi builds one projection per type, each restricted to its range.
func (m *Mapper) multi(types []reflect.Type, splitOn string) func(cols []Column) (*DeserializerState, error) {
	return func(cols []Column) (*DeserializerState, error) {
		ranges := splitColumns(cols, types, splitOn)
		parts := make([]projection, len(types))
		for i, t := range types {
			p, err := m.compile(t, cols, ranges[i].start, ranges[i].end-ranges[i].start, i > 0)
			if err != nil {
				return nil, err
			}
			parts[i] = p
		}
		return &DeserializerState{parts: parts}, nil
	}
}

// combined feeds every part's value to combine. The combiner belongs to the
// call, so it is applied here rather than cached with the parts.
func combined[R any](parts []projection, combine func([]reflect.Value) R) projection {
	return func(row []any) (reflect.Value, error) {
		vals := make([]reflect.Value, len(parts))
		for i, p := range parts {
			v, err := p(row)
			if err != nil {
				return reflect.Value{}, err
			}
			vals[i] = v
		}
		return reflect.ValueOf(combine(vals)), nil
	}
}

func multiMap[R any](ctx context.Context, s *Session, cmd Command, types []reflect.Type, combine func([]reflect.Value) R) ([]R, error) {
	rows, err := streamMap(ctx, s, cmd, types, combine)
	if err != nil {
		return nil, err
	}
	out, err := collect[R](rows.rr)
	if cerr := rows.release(err != nil); cerr != nil && err == nil {
		return nil, cerr
	}
	return out, err
}

func streamMap[R any](ctx context.Context, s *Session, cmd Command, types []reflect.Type, combine func([]reflect.Value) R) (*Rows[R], error) {
	id := s.identity(cmd, types[0], types...)
	info := s.mapper.cache.GetOrCreate(id)

	e, err := s.open(ctx, cmd, info)
	if err != nil {
		return nil, err
	}
	st, n, err := s.resolve(e.ctx, e.cur, id, info, s.mapper.multi(types, cmd.splitOn()))
	if err != nil {
		_ = e.release(true)
		return nil, err
	}
	return &Rows[R]{rr: newRowReader(e.ctx, e.cur, combined(st.parts, combine), n), release: e.release}, nil
}

// QueryMap2 executes cmd and splits each row into an A and a B, passing
// both to fn. Columns are split at cmd.SplitOn (default "Id"): with
// columns [Id, Name, Id, City], A reads {Id, Name} and B reads {Id, City}.
// A comma-separated SplitOn names one boundary per additional type.
//
// A later type whose columns are all NULL or absent is passed as its zero
// value; a pointer-to-struct gets a new zero instance and a map an empty
// map, unless Mapper.NilSubObjects is set, in which case both are nil.
// StreamMap2 is the unbuffered form.
//
// Example:
//
//	type Author struct{ ID int64; Name string }
//	type Post struct {
//	    ID     int64
//	    Title  string
//	    Author *Author `db:"-"`
//	}
//
//	posts, err := sqlmap.QueryMap2(ctx, s,
//	    sqlmap.SQL(`SELECT p.id, p.title, a.id, a.name FROM posts p JOIN authors a ON a.id = p.author_id`),
//	    func(p Post, a *Author) Post { p.Author = a; return p })
func QueryMap2[A, B, R any](ctx context.Context, s *Session, cmd Command, fn func(A, B) R) ([]R, error) {
	types := []reflect.Type{typeOf[A](), typeOf[B]()}
	return multiMap(ctx, s, cmd, types, func(v []reflect.Value) R {
		return fn(as[A](v[0]), as[B](v[1]))
	})
}

// QueryMap3 is QueryMap2 over three types.
func QueryMap3[A, B, C, R any](ctx context.Context, s *Session, cmd Command, fn func(A, B, C) R) ([]R, error) {
	types := []reflect.Type{typeOf[A](), typeOf[B](), typeOf[C]()}
	return multiMap(ctx, s, cmd, types, func(v []reflect.Value) R {
		return fn(as[A](v[0]), as[B](v[1]), as[C](v[2]))
	})
}

// QueryMap4 is QueryMap2 over four types.
func QueryMap4[A, B, C, D, R any](ctx context.Context, s *Session, cmd Command, fn func(A, B, C, D) R) ([]R, error) {
	types := []reflect.Type{typeOf[A](), typeOf[B](), typeOf[C](), typeOf[D]()}
	return multiMap(ctx, s, cmd, types, func(v []reflect.Value) R {
		return fn(as[A](v[0]), as[B](v[1]), as[C](v[2]), as[D](v[3]))
	})
}

func QueryMap5[A, B, C, D, E, R any](ctx context.Context, s *Session, cmd Command, fn func(A, B, C, D, E) R) ([]R, error) {
	types := []reflect.Type{typeOf[A](), typeOf[B](), typeOf[C](), typeOf[D](), typeOf[E]()}
	return multiMap(ctx, s, cmd, types, func(v []reflect.Value) R {
		return fn(as[A](v[0]), as[B](v[1]), as[C](v[2]), as[D](v[3]), as[E](v[4]))
	})
}

func QueryMap6[A, B, C, D, E, F, R any](ctx context.Context, s *Session, cmd Command, fn func(A, B, C, D, E, F) R) ([]R, error) {
	types := []reflect.Type{typeOf[A](), typeOf[B](), typeOf[C](), typeOf[D](), typeOf[E](), typeOf[F]()}
	return multiMap(ctx, s, cmd, types, func(v []reflect.Value) R {
		return fn(as[A](v[0]), as[B](v[1]), as[C](v[2]), as[D](v[3]), as[E](v[4]), as[F](v[5]))
	})
}

func QueryMap7[A, B, C, D, E, F, G, R any](ctx context.Context, s *Session, cmd Command, fn func(A, B, C, D, E, F, G) R) ([]R, error) {
	types := []reflect.Type{typeOf[A](), typeOf[B](), typeOf[C](), typeOf[D](), typeOf[E](), typeOf[F](), typeOf[G]()}
	return multiMap(ctx, s, cmd, types, func(v []reflect.Value) R {
		return fn(as[A](v[0]), as[B](v[1]), as[C](v[2]), as[D](v[3]), as[E](v[4]), as[F](v[5]), as[G](v[6]))
	})
}

// StreamMap2 is the unbuffered form of QueryMap2: rows are split and
// combined as the sequence is pulled. Like Stream, the result is single-pass
// and holds the connection until it is exhausted or closed.
//
// Example:
//
//	rows, err := sqlmap.StreamMap2(ctx, s, sqlmap.SQL(`SELECT p.id, p.title, a.id, a.name FROM posts p JOIN authors a ON a.id = p.author_id`),
//	    func(p Post, a *Author) Post { p.Author = a; return p })
//	if err != nil {
//	    return err
//	}
//	defer rows.Close()
//	for p, err := range rows.All() {
//	    ...
//	}
func StreamMap2[A, B, R any](ctx context.Context, s *Session, cmd Command, fn func(A, B) R) (*Rows[R], error) {
	types := []reflect.Type{typeOf[A](), typeOf[B]()}
	return streamMap(ctx, s, cmd, types, func(v []reflect.Value) R {
		return fn(as[A](v[0]), as[B](v[1]))
	})
}

// StreamMap3 is StreamMap2 over three types.
func StreamMap3[A, B, C, R any](ctx context.Context, s *Session, cmd Command, fn func(A, B, C) R) (*Rows[R], error) {
	types := []reflect.Type{typeOf[A](), typeOf[B](), typeOf[C]()}
	return streamMap(ctx, s, cmd, types, func(v []reflect.Value) R {
		return fn(as[A](v[0]), as[B](v[1]), as[C](v[2]))
	})
}

func StreamMap4[A, B, C, D, R any](ctx context.Context, s *Session, cmd Command, fn func(A, B, C, D) R) (*Rows[R], error) {
	types := []reflect.Type{typeOf[A](), typeOf[B](), typeOf[C](), typeOf[D]()}
	return streamMap(ctx, s, cmd, types, func(v []reflect.Value) R {
		return fn(as[A](v[0]), as[B](v[1]), as[C](v[2]), as[D](v[3]))
	})
}

func StreamMap5[A, B, C, D, E, R any](ctx context.Context, s *Session, cmd Command, fn func(A, B, C, D, E) R) (*Rows[R], error) {
	types := []reflect.Type{typeOf[A](), typeOf[B](), typeOf[C](), typeOf[D](), typeOf[E]()}
	return streamMap(ctx, s, cmd, types, func(v []reflect.Value) R {
		return fn(as[A](v[0]), as[B](v[1]), as[C](v[2]), as[D](v[3]), as[E](v[4]))
	})
}

func StreamMap6[A, B, C, D, E, F, R any](ctx context.Context, s *Session, cmd Command, fn func(A, B, C, D, E, F) R) (*Rows[R], error) {
	types := []reflect.Type{typeOf[A](), typeOf[B](), typeOf[C](), typeOf[D](), typeOf[E](), typeOf[F]()}
	return streamMap(ctx, s, cmd, types, func(v []reflect.Value) R {
		return fn(as[A](v[0]), as[B](v[1]), as[C](v[2]), as[D](v[3]), as[E](v[4]), as[F](v[5]))
	})
}

func StreamMap7[A, B, C, D, E, F, G, R any](ctx context.Context, s *Session, cmd Command, fn func(A, B, C, D, E, F, G) R) (*Rows[R], error) {
	types := []reflect.Type{typeOf[A](), typeOf[B](), typeOf[C](), typeOf[D](), typeOf[E](), typeOf[F](), typeOf[G]()}
	return streamMap(ctx, s, cmd, types, func(v []reflect.Value) R {
		return fn(as[A](v[0]), as[B](v[1]), as[C](v[2]), as[D](v[3]), as[E](v[4]), as[F](v[5]), as[G](v[6]))
	})
}
