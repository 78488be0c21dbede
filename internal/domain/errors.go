package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Error kinds. Every error leaving the core matches exactly one of these with
// errors.Is, and still unwraps to the cause that triggered it.
var (
	ErrLoader            = errors.New("loader error")
	ErrEmbeddingFailure  = errors.New("embedding failure")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrRetrievalFailure  = errors.New("retrieval failure")
	ErrGenerationFailure = errors.New("generation failure")
	ErrNotInitialized    = errors.New("index not built")
	ErrServiceTimeout    = errors.New("service timeout")

	// ErrIndexStore is a build time failure of the vector store backing an
	// index: creating, initialising or loading it.
	ErrIndexStore = errors.New("index store failure")
)

// ErrCacheMiss is returned by a SnapshotCache that holds no matching snapshot.
var ErrCacheMiss = errors.New("snapshot cache miss")

// Error attaches a kind and the failing operation to a cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

// NewError wraps err with the given kind and operation.
func NewError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// RowError reports a malformed corpus record.
type RowError struct {
	Row int
	Err error
}

func (e *RowError) Error() string { return fmt.Sprintf("row %d: %v", e.Row, e.Err) }

func (e *RowError) Unwrap() error { return e.Err }

// DimensionError reports a vector whose length differs from the index.
type DimensionError struct {
	Want int
	Got  int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("dimension mismatch: want %d, got %d", e.Want, e.Got)
}

func (e *DimensionError) Is(target error) bool { return target == ErrDimensionMismatch }

// CallService runs fn under a per-call timeout. A deadline hit, either from
// the timeout or from the parent context, is reported as ErrServiceTimeout.
// A non-positive timeout leaves the parent deadline as the only bound.
func CallService[T any](ctx context.Context, op string, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	out, err := fn(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			var zero T
			return zero, NewError(ErrServiceTimeout, op, err)
		}
		return out, err
	}
	return out, nil
}
