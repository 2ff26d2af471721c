// Package fn holds the small generic helpers the indexing and query
// pipelines are composed from.
package fn

import "errors"

// Result carries either a value or an error.
type Result[T any] struct {
	val T
	err error
	ok  bool
}

// Ok creates a successful Result.
func Ok[T any](v T) Result[T] {
	return Result[T]{val: v, ok: true}
}

// Err creates a failed Result from an error.
func Err[T any](err error) Result[T] {
	return Result[T]{err: err}
}

// FromPair creates a Result from a (value, error) pair.
func FromPair[T any](v T, err error) Result[T] {
	if err != nil {
		return Err[T](err)
	}
	return Ok(v)
}

// IsOk returns true if the result is successful.
func (r Result[T]) IsOk() bool { return r.ok }

// IsErr returns true if the result is an error.
func (r Result[T]) IsErr() bool { return !r.ok }

// Unwrap returns the value and error.
func (r Result[T]) Unwrap() (T, error) { return r.val, r.err }

// UnwrapOr returns the value or a fallback on error.
func (r Result[T]) UnwrapOr(fallback T) T {
	if !r.ok {
		return fallback
	}
	return r.val
}

// Partition splits results into the successful values, in order, and the
// joined errors of the failed ones. Failures do not stop collection.
func Partition[T any](results []Result[T]) ([]T, error) {
	var (
		vals []T
		errs []error
	)
	for _, r := range results {
		if r.ok {
			vals = append(vals, r.val)
			continue
		}
		errs = append(errs, r.err)
	}
	return vals, errors.Join(errs...)
}
