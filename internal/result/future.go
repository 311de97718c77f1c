package result

import (
	"context"
)

// Future is a Result that becomes available once an asynchronous step completes.
type Future[T any] struct {
	done   chan struct{}
	result Result[T]
}

// Go runs fn on its own goroutine. A panic inside fn completes the future with
// a ServerFailure.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.result = Of(func() (T, error) { return fn(ctx) })
	}()
	return f
}

// Completed returns a future that is already resolved.
func Completed[T any](r Result[T]) *Future[T] {
	f := &Future[T]{done: make(chan struct{}), result: r}
	close(f.done)
	return f
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the future resolves or ctx is done.
func (f *Future[T]) Await(ctx context.Context) Result[T] {
	select {
	case <-f.done:
		return f.result
	case <-ctx.Done():
		return Failed[T](ServerFrom(ctx.Err()))
	}
}

// After starts an asynchronous step from an available result, skipping it when
// the result has failed.
func After[T, U any](ctx context.Context, r Result[T], fn func(context.Context, T) (U, error)) *Future[U] {
	if r.Failed() {
		return Completed(Failed[U](r.cause))
	}
	return Go(ctx, func(ctx context.Context) (U, error) { return fn(ctx, r.value) })
}

// Then chains an asynchronous step onto a future.
func Then[T, U any](ctx context.Context, f *Future[T], fn func(context.Context, T) (U, error)) *Future[U] {
	next := &Future[U]{done: make(chan struct{})}
	go func() {
		defer close(next.done)
		r := f.Await(ctx)
		if r.Failed() {
			next.result = Failed[U](r.cause)
			return
		}
		next.result = Of(func() (U, error) { return fn(ctx, r.value) })
	}()
	return next
}

// CombineAfter runs an asynchronous step from an available result and merges
// its outcome with the original value.
func CombineAfter[T, U, V any](
	ctx context.Context,
	r Result[T],
	fn func(context.Context, T) (U, error),
	combiner func(T, U) V,
) *Future[V] {
	return Then(ctx, After(ctx, r, fn), func(_ context.Context, u U) (V, error) {
		return combiner(r.value, u), nil
	})
}

// CombineFutures awaits both futures and merges them. The left operand's
// failure wins even when the right one fails first.
func CombineFutures[T, U, V any](ctx context.Context, left *Future[T], right *Future[U], fn func(T, U) V) Result[V] {
	l := left.Await(ctx)
	r := right.Await(ctx)
	return Combine(l, r, fn)
}
