package bridge

import "context"

// Operation starts one external call and reports its outcome through done.
// A non-nil error wins over the value. Implementations may call done from
// any goroutine, and should call it once; extra calls are ignored by the
// publisher.
type Operation[T any] func(ctx context.Context, done func(T, error))

// Just completes immediately with v.
func Just[T any](v T) Operation[T] {
	return func(_ context.Context, done func(T, error)) {
		done(v, nil)
	}
}

// Fail completes immediately with err.
func Fail[T any](err error) Operation[T] {
	return func(_ context.Context, done func(T, error)) {
		var zero T
		done(zero, err)
	}
}

// Blocking adapts a synchronous call. It runs on whatever goroutine the
// operation is started on, which for publishers is a worker.
func Blocking[T any](fn func(ctx context.Context) (T, error)) Operation[T] {
	return func(ctx context.Context, done func(T, error)) {
		done(fn(ctx))
	}
}

// FlatMap runs op and, on success, the operation next builds from its value.
// A failure of op short-circuits: next is never called.
func FlatMap[A, B any](op Operation[A], next func(A) Operation[B]) Operation[B] {
	return func(ctx context.Context, done func(B, error)) {
		op(ctx, func(a A, err error) {
			if err != nil {
				var zero B
				done(zero, err)
				return
			}
			next(a)(ctx, done)
		})
	}
}

// MapError rewrites the error of a failed op with f. Successes pass through.
func MapError[T any](op Operation[T], f func(error) error) Operation[T] {
	return func(ctx context.Context, done func(T, error)) {
		op(ctx, func(v T, err error) {
			if err != nil {
				var zero T
				done(zero, f(err))
				return
			}
			done(v, nil)
		})
	}
}

// Guard ties op to owner: if the owner is gone op is never started, and a
// result arriving after the owner is gone is discarded. Either way done is
// not called and the chain stays pending.
func Guard[T any](owner Liveness, op Operation[T]) Operation[T] {
	return func(ctx context.Context, done func(T, error)) {
		if !alive(owner) {
			return
		}
		op(ctx, func(v T, err error) {
			if !alive(owner) {
				return
			}
			done(v, err)
		})
	}
}
