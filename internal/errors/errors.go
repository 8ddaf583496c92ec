// Package errors defines the error taxonomy shared by the bridge, the
// publishers and the HTTP gateway.
package errors

import "fmt"

// Error is a categorized failure with a machine-readable code, a
// human-readable message, the HTTP status the gateway maps it to, and an
// optional underlying cause.
type Error struct {
	// Code identifies the category (e.g., "InvalidDataType", "FailedUpload").
	Code string
	// Message is a human-readable description of the error.
	Message string
	// HTTPStatus is the status code the gateway responds with.
	HTTPStatus int
	// Cause is the error this one was remapped from, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same category. Two errors
// with the same code match regardless of message or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithCause returns a copy of the error carrying cause.
func (e *Error) WithCause(cause error) *Error {
	cp := *e
	cp.Cause = cause
	return &cp
}

// WithMessage returns a copy of the error with a replaced message.
func (e *Error) WithMessage(format string, args ...any) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

// Pre-defined errors.
var (
	// ErrInvalidDataType is returned when an upload request is neither a
	// local file reference nor an in-memory image. It is detected before any
	// network call.
	ErrInvalidDataType = &Error{
		Code:       "InvalidDataType",
		Message:    "Upload data must be a file reference or an image",
		HTTPStatus: 400,
	}

	// ErrInvalidImageData is returned when an in-memory image cannot be
	// encoded.
	ErrInvalidImageData = &Error{
		Code:       "InvalidImageData",
		Message:    "The image could not be encoded",
		HTTPStatus: 400,
	}

	// ErrFailedUpload is returned when the transfer reports neither
	// metadata nor an error.
	ErrFailedUpload = &Error{
		Code:       "FailedUpload",
		Message:    "The upload did not report a result",
		HTTPStatus: 502,
	}

	// ErrFailedGeneratingURL is returned when URL retrieval reports neither
	// a URL nor an error.
	ErrFailedGeneratingURL = &Error{
		Code:       "FailedGeneratingURL",
		Message:    "No download URL was produced for the object",
		HTTPStatus: 502,
	}

	// ErrInvalidData is the single category every upload failure after
	// input validation is remapped to. The original failure is kept as Cause.
	ErrInvalidData = &Error{
		Code:       "InvalidData",
		Message:    "The data could not be stored",
		HTTPStatus: 502,
	}

	// ErrInvalidArgument is returned when a collection, document ID or
	// object key is malformed.
	ErrInvalidArgument = &Error{
		Code:       "InvalidArgument",
		Message:    "Invalid Argument",
		HTTPStatus: 400,
	}

	// ErrNotFound is returned by the gateway when a document does not exist.
	ErrNotFound = &Error{
		Code:       "NotFound",
		Message:    "The specified document does not exist",
		HTTPStatus: 404,
	}

	// ErrInternalError is returned for unexpected internal failures.
	ErrInternalError = &Error{
		Code:       "InternalError",
		Message:    "We encountered an internal error. Please try again.",
		HTTPStatus: 500,
	}
)

// InvalidData wraps cause in ErrInvalidData. A cause that already is an
// InvalidData error is returned unchanged.
func InvalidData(cause error) *Error {
	if e, ok := cause.(*Error); ok && e.Code == ErrInvalidData.Code {
		return e
	}
	return ErrInvalidData.WithCause(cause)
}

// HTTPStatus returns the status code for err, or 500 when err is not an
// *Error anywhere in its chain.
func HTTPStatus(err error) int {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.HTTPStatus
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return ErrInternalError.HTTPStatus
}
