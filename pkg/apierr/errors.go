// Package apierr defines the closed error-kind taxonomy shared across
// components and mapped to HTTP status by the API transport.
package apierr

import "fmt"

// Kind is a domain-level error classification (spec §7).
type Kind string

const (
	KindInvalidArgument    Kind = "InvalidArgument"
	KindUnauthorized       Kind = "Unauthorized"
	KindForbidden          Kind = "Forbidden"
	KindNotFound           Kind = "NotFound"
	KindConflict           Kind = "Conflict"
	KindRateLimited        Kind = "RateLimited"
	KindCommandFailed      Kind = "CommandFailed"
	KindNotAllowed         Kind = "NotAllowed"
	KindDisallowedPattern  Kind = "DisallowedPattern"
	KindPathEscape         Kind = "PathEscape"
	KindInvalidArg         Kind = "InvalidArg"
	KindBuildFailed        Kind = "BuildFailed"
	KindStorageUnavailable Kind = "StorageUnavailable"
	KindRegistryUnavailable Kind = "RegistryUnavailable"
	KindLLMFailure         Kind = "LLMFailure"
	KindInternal           Kind = "Internal"
)

// httpStatus maps each Kind to its HTTP status code.
var httpStatus = map[Kind]int{
	KindInvalidArgument:     400,
	KindUnauthorized:        401,
	KindForbidden:           403,
	KindNotFound:            404,
	KindConflict:            409,
	KindRateLimited:         429,
	KindCommandFailed:       422,
	KindNotAllowed:          422,
	KindDisallowedPattern:   422,
	KindPathEscape:          422,
	KindInvalidArg:          422,
	KindBuildFailed:         422,
	KindStorageUnavailable:  503,
	KindRegistryUnavailable: 503,
	KindLLMFailure:          502,
	KindInternal:            500,
}

// HTTPStatus returns the HTTP status code for k, defaulting to 500.
func HTTPStatus(k Kind) int {
	if s, ok := httpStatus[k]; ok {
		return s
	}
	return 500
}

// Error is the concrete error type carrying a Kind and an underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New constructs an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind wrapping err.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// As extracts the Kind from err if it is (or wraps) an *Error, defaulting to
// KindInternal.
func As(err error) Kind {
	var e *Error
	if ok := errorsAs(err, &e); ok {
		return e.Kind
	}
	return KindInternal
}

// errorsAs is a hand-rolled errors.As walk over Unwrap chains, so this file
// needs no "errors" import, matching the teacher's habit of keeping
// error-taxonomy files dependency-light.
func errorsAs(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
