package sqlmap

import (
	"context"
	"database/sql"
	"sync"
)

// Future is the pending result of a command running on its own goroutine.
// The session it runs on must not be used by anyone else until the future
// completes.
type Future[T any] struct {
	done      chan struct{}
	mu        sync.Mutex
	val       T
	err       error
	abandoned bool
	release   func(T)
}

func goFuture[T any](fn func() (T, error), release func(T)) *Future[T] {
	f := &Future[T]{done: make(chan struct{}), release: release}
	go func() {
		v, err := fn()
		f.mu.Lock()
		f.val, f.err = v, err
		abandoned := f.abandoned
		close(f.done)
		f.mu.Unlock()
		if abandoned && err == nil && f.release != nil {
			f.release(v)
		}
	}()
	return f
}

// Done is closed when the command has finished.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until the command finishes or ctx ends. If ctx ends first the
// future is abandoned: its result is never returned, and any resources it
// holds are released as soon as the command completes.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.done:
		return f.val, f.err
	default:
	}
	f.abandoned = true
	var zero T
	return zero, classify(ctx.Err())
}

// QueryAsync runs Query on its own goroutine. Cancel ctx to stop the command.
//
// Example:
//
//	f := sqlmap.QueryAsync[User](ctx, s, sqlmap.SQL(`SELECT id, email FROM users`))
//	// ... other work ...
//	users, err := f.Wait(ctx)
func QueryAsync[T any](ctx context.Context, s *Session, cmd Command) *Future[[]T] {
	return goFuture(func() ([]T, error) { return Query[T](ctx, s, cmd) }, nil)
}

// StreamAsync runs Stream on its own goroutine. Rows of an abandoned future
// are closed.
func StreamAsync[T any](ctx context.Context, s *Session, cmd Command) *Future[*Rows[T]] {
	return goFuture(func() (*Rows[T], error) { return Stream[T](ctx, s, cmd) },
		func(r *Rows[T]) { _ = r.Close() })
}

// QueryMultipleAsync runs QueryMultiple on its own goroutine. The grid of an
// abandoned future is closed.
func QueryMultipleAsync(ctx context.Context, s *Session, cmd Command) *Future[*GridReader] {
	return goFuture(func() (*GridReader, error) { return QueryMultiple(ctx, s, cmd) },
		func(g *GridReader) { _ = g.Close() })
}

// ExecAsync runs Exec on its own goroutine.
func ExecAsync(ctx context.Context, s *Session, cmd Command) *Future[sql.Result] {
	return goFuture(func() (sql.Result, error) { return Exec(ctx, s, cmd) }, nil)
}
