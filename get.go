package sqlmap

import (
	"context"
	"database/sql"
)

// Get executes cmd and materializes the first row into a value of type T.
//
// It returns [sql.ErrNoRows] if the query yields no rows and does not enforce
// "exactly one row" beyond the first; if more rows exist, they are ignored.
// You should use LIMIT 1 (or an equivalent WHERE clause) when you require
// at-most-one row.
//
// T follows the same rules as in [Query] and shares its cached plan.
//
// Example:
//
//	u, err := sqlmap.Get[User](ctx, s, sqlmap.SQL(`SELECT id, email FROM users WHERE id = ?`, 42))
//	if err != nil {
//	    if errors.Is(err, sql.ErrNoRows) {
//	        // handle not found
//	    } else {
//	        // handle other errors
//	    }
//	}
//	// use u
func Get[T any](ctx context.Context, s *Session, cmd Command) (out T, err error) {
	rt := typeOf[T]()
	id := s.identity(cmd, rt)
	info := s.mapper.cache.GetOrCreate(id)

	e, err := s.open(ctx, cmd, info)
	if err != nil {
		return out, err
	}
	// Ensure release error is propagated if no earlier error occurred.
	defer func() {
		if rerr := e.release(err != nil); rerr != nil && err == nil {
			err = rerr
		}
	}()

	st, n, err := s.resolve(e.ctx, e.cur, id, info, s.mapper.single(rt))
	if err != nil {
		return out, err
	}
	v, ok, err := newRowReader(e.ctx, e.cur, st.proj, n).next()
	if err != nil {
		return out, err
	}
	if !ok {
		return out, sql.ErrNoRows
	}
	return as[T](v), nil
}
