package sqlmap

import (
	"context"
	"errors"
	"fmt"
	"reflect"
)

var (
	// ErrTypeMismatch is matched by every *TypeMismatchError. It is returned
	// before any row is read.
	ErrTypeMismatch = errors.New("sqlmap: type mismatch")

	// ErrMaterialization is matched by every *MaterializationError. It aborts
	// the whole read; rows are never skipped.
	ErrMaterialization = errors.New("sqlmap: row materialization failed")

	// ErrAlreadyConsumed is returned when a single-pass sequence or a grid
	// result set is read a second time.
	ErrAlreadyConsumed = errors.New("sqlmap: result already consumed")

	// ErrDisposed is returned when a reader is used after its cursor was released.
	ErrDisposed = errors.New("sqlmap: reader has been disposed; this can happen after all data has been consumed")

	// ErrTimeout is returned when a command runs past its deadline. The error
	// also matches context.DeadlineExceeded.
	ErrTimeout = errors.New("sqlmap: command timeout")
)

// TypeMismatchError reports a target type (or one of its members) that no
// column of the result can be coerced into.
type TypeMismatchError struct {
	Target reflect.Type
	Column string       // empty when the failure concerns the whole type
	Source reflect.Type // nil when the driver did not report a scan type
	Reason string
}

func (e *TypeMismatchError) Error() string {
	msg := "sqlmap: cannot map"
	if e.Column != "" {
		msg += fmt.Sprintf(" column %q", e.Column)
		if e.Source != nil {
			msg += fmt.Sprintf(" (%s)", e.Source)
		}
	}
	msg += fmt.Sprintf(" into %s", e.Target)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TypeMismatchError) Unwrap() error { return ErrTypeMismatch }

// MaterializationError reports a row that failed conversion.
type MaterializationError struct {
	Row    int // zero-based within its result set
	Column string
	Target reflect.Type
	Err    error
}

func (e *MaterializationError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("sqlmap: row %d into %s: %v", e.Row, e.Target, e.Err)
	}
	return fmt.Sprintf("sqlmap: row %d column %q into %s: %v", e.Row, e.Column, e.Target, e.Err)
}

func (e *MaterializationError) Unwrap() []error { return []error{ErrMaterialization, e.Err} }

var errNull = errors.New("NULL into non-nullable value")

// classify maps context deadline failures to ErrTimeout and leaves every
// other error untouched.
func classify(err error) error {
	if err == nil || errors.Is(err, ErrTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}
