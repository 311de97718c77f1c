// Package result provides a short-circuiting success-or-failure value and the
// combinators circulation transactions are composed from.
//
// A Result holds either a value or a cause. Once a step fails, every later step
// in the chain is skipped and the first cause is returned unchanged. Panics
// raised while computing a step are converted into a ServerFailure.
package result

import (
	"fmt"
)

// Result is either a success value or a failure cause.
type Result[T any] struct {
	value T
	cause error
}

// Succeeded wraps a value.
func Succeeded[T any](value T) Result[T] {
	return Result[T]{value: value}
}

// Failed wraps a cause. A nil cause is treated as a server failure so that a
// failed result can never be mistaken for a success.
func Failed[T any](cause error) Result[T] {
	if cause == nil {
		cause = Server("failed result without a cause")
	}
	return Result[T]{cause: cause}
}

// From adapts a conventional (value, error) pair.
func From[T any](value T, err error) Result[T] {
	if err != nil {
		return Failed[T](err)
	}
	return Succeeded(value)
}

// Of runs fn and traps any panic as a ServerFailure.
func Of[T any](fn func() (T, error)) (r Result[T]) {
	defer func() {
		if p := recover(); p != nil {
			r = Failed[T](panicFailure(p))
		}
	}()
	return From(fn())
}

func panicFailure(p any) *ServerFailure {
	if err, ok := p.(error); ok {
		return &ServerFailure{Reason: err.Error(), Err: err}
	}
	return Server("%v", p)
}

func (r Result[T]) Succeeded() bool { return r.cause == nil }

func (r Result[T]) Failed() bool { return r.cause != nil }

// Value returns the success value, or the zero value when failed.
func (r Result[T]) Value() T { return r.value }

// Cause returns the failure cause, or nil when succeeded.
func (r Result[T]) Cause() error { return r.cause }

// Unwrap returns the conventional (value, error) pair.
func (r Result[T]) Unwrap() (T, error) {
	return r.value, r.cause
}

// OrElse returns the value when succeeded, otherwise fallback.
func (r Result[T]) OrElse(fallback T) T {
	if r.Failed() {
		return fallback
	}
	return r.value
}

func (r Result[T]) String() string {
	if r.Failed() {
		return fmt.Sprintf("Failed(%v)", r.cause)
	}
	return fmt.Sprintf("Succeeded(%v)", r.value)
}

// Map applies fn to a successful value.
func Map[T, U any](r Result[T], fn func(T) U) Result[U] {
	if r.Failed() {
		return Failed[U](r.cause)
	}
	return Of(func() (U, error) { return fn(r.value), nil })
}

// Next chains a dependent step that may itself fail.
func Next[T, U any](r Result[T], fn func(T) Result[U]) (out Result[U]) {
	if r.Failed() {
		return Failed[U](r.cause)
	}
	defer func() {
		if p := recover(); p != nil {
			out = Failed[U](panicFailure(p))
		}
	}()
	return fn(r.value)
}

// Combine merges two available results. The left operand's failure wins.
func Combine[T, U, V any](left Result[T], right Result[U], fn func(T, U) V) Result[V] {
	return CombineToResult(left, right, func(t T, u U) Result[V] {
		return Succeeded(fn(t, u))
	})
}

// CombineToResult merges two available results with a combiner that may fail.
func CombineToResult[T, U, V any](left Result[T], right Result[U], fn func(T, U) Result[V]) Result[V] {
	if left.Failed() {
		return Failed[V](left.cause)
	}
	if right.Failed() {
		return Failed[V](right.cause)
	}
	return Next(left, func(t T) Result[V] { return fn(t, right.value) })
}

// FailWhen fails with failure(value) when condition(value) yields true. A
// failed condition short-circuits with its own cause.
func FailWhen[T any](r Result[T], condition func(T) Result[bool], failure func(T) error) Result[T] {
	return Next(r, func(value T) Result[T] {
		return Next(condition(value), func(failed bool) Result[T] {
			if failed {
				return Failed[T](failure(value))
			}
			return Succeeded(value)
		})
	})
}

// Check is FailWhen for conditions that cannot themselves fail.
func Check[T any](r Result[T], condition func(T) bool, failure func(T) error) Result[T] {
	return FailWhen(r, func(value T) Result[bool] {
		return Succeeded(condition(value))
	}, failure)
}
