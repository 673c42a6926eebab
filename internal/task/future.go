package task

import "context"

// Future is the result of a task submitted to an executor. It completes
// exactly once.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) complete(val T, err error) {
	f.val = val
	f.err = err
	close(f.done)
}

// Await blocks until the future completes or ctx is cancelled.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Go submits fn to the default executor and returns a future for its result.
// If the task cannot be enqueued the future completes with the submit error.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) *Future[T] {
	f := newFuture[T]()
	err := Default().Submit(ctx, func() {
		v, err := fn(ctx)
		f.complete(v, err)
	})
	if err != nil {
		var zero T
		f.complete(zero, err)
	}
	return f
}

// Block runs fn on the default executor and blocks the calling goroutine
// until it completes. This is the synchronous bridge used by every
// entry point that reaches the engine.
func Block[T any](fn func(context.Context) (T, error)) (T, error) {
	ctx := context.Background()
	return Go(ctx, fn).Await(ctx)
}
