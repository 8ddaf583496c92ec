package bridge

// Result is the terminal event of a subscription: a value on success, or an
// error on failure. Exactly one of the two is meaningful.
type Result[T any] struct {
	Value T
	Err   error
}

// Success wraps a value.
func Success[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

// Failure wraps an error.
func Failure[T any](err error) Result[T] {
	return Result[T]{Err: err}
}

// Failed reports whether the result carries an error.
func (r Result[T]) Failed() bool {
	return r.Err != nil
}

// Get unpacks the result into the usual (value, error) pair.
func (r Result[T]) Get() (T, error) {
	if r.Err != nil {
		var zero T
		return zero, r.Err
	}
	return r.Value, nil
}
