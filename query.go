package sqlmap

import (
	"context"
)

// Query executes cmd and materializes every row of its first result set
// into a slice of T. A query with no rows returns an empty, non-nil slice.
//
// T may be a struct (supports `db` tags and ,inline), a pointer to struct, a
// scalar, any type implementing [sql.Scanner], map[string]any or [Record].
// Column mapping prefers `db:"name"` tags; otherwise it matches
// case-insensitive field names. Extra columns are ignored.
//
// The projection is compiled once per command, target type, parameter type
// and connection, and recompiled only if the column layout changes. Compiled
// plans live in the session's [Mapper] and are shared by every session using it.
//
// Example:
//
//	type User struct {
//	    ID    int64  `db:"id"`
//	    Email string `db:"email"`
//	}
//
//	s := sqlmap.New(sqlmap.FromDB(db))
//	users, err := sqlmap.Query[User](ctx, s, sqlmap.SQL(`SELECT id, email FROM users WHERE org = :org`, map[string]any{"org": 7}))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, u := range users {
//	    fmt.Println(u.ID, u.Email)
//	}
func Query[T any](ctx context.Context, s *Session, cmd Command) (out []T, err error) {
	rt := typeOf[T]()
	id := s.identity(cmd, rt)
	info := s.mapper.cache.GetOrCreate(id)

	e, err := s.open(ctx, cmd, info)
	if err != nil {
		return nil, err
	}
	// Propagate release errors if nothing else failed.
	defer func() {
		if rerr := e.release(err != nil); rerr != nil && err == nil {
			out, err = nil, rerr
		}
	}()

	st, n, err := s.resolve(e.ctx, e.cur, id, info, s.mapper.single(rt))
	if err != nil {
		return nil, err
	}
	return collect[T](newRowReader(e.ctx, e.cur, st.proj, n))
}

// Stream executes cmd and returns its rows unbuffered. The connection stays
// busy until the sequence is exhausted or the Rows are closed.
//
// Example:
//
//	rows, err := sqlmap.Stream[User](ctx, s, sqlmap.SQL(`SELECT id, email FROM users`))
//	if err != nil {
//	    return err
//	}
//	defer rows.Close()
//	for u, err := range rows.All() {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(u.Email)
//	}
func Stream[T any](ctx context.Context, s *Session, cmd Command) (*Rows[T], error) {
	rt := typeOf[T]()
	id := s.identity(cmd, rt)
	info := s.mapper.cache.GetOrCreate(id)

	e, err := s.open(ctx, cmd, info)
	if err != nil {
		return nil, err
	}
	st, n, err := s.resolve(e.ctx, e.cur, id, info, s.mapper.single(rt))
	if err != nil {
		_ = e.release(true)
		return nil, err
	}
	return &Rows[T]{rr: newRowReader(e.ctx, e.cur, st.proj, n), release: e.release}, nil
}
