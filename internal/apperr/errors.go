// Package apperr defines the typed error kinds produced by the
// classification pipeline and the layers around it. Every failure a caller
// can act on carries a Kind, retrievable with KindOf regardless of how many
// times the error has been wrapped on the way up.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a stable, machine-readable error category.
type Kind string

const (
	// KindNotFound means an image reference did not resolve to readable
	// image data.
	KindNotFound Kind = "not_found"

	// KindInvalidFeature means a feature value is outside its declared
	// domain.
	KindInvalidFeature Kind = "invalid_feature"

	// KindDomain means a scalar input (e.g. a confidence score) is outside
	// its valid range.
	KindDomain Kind = "domain"

	// KindUnsupportedFormat means an export format is not one of the
	// supported set.
	KindUnsupportedFormat Kind = "unsupported_format"

	// KindEmptyInput means an export was requested with zero results.
	KindEmptyInput Kind = "empty_input"

	// KindInvalidUpload means an uploaded file failed type or size checks.
	KindInvalidUpload Kind = "invalid_upload"

	// KindRateLimited means the client exceeded its request allowance.
	KindRateLimited Kind = "rate_limited"
)

// Error is a categorized application error. All pipeline failures are
// deterministic given the same bad input and are never retryable.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(err error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the Kind of the first Error in the chain, or "" if the
// error carries no kind.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// IsKind reports whether any error in the chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps an error kind to the HTTP status a handler should return.
// Unknown kinds (including plain errors) map to 500.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidFeature, KindDomain, KindUnsupportedFormat, KindEmptyInput, KindInvalidUpload:
		return http.StatusBadRequest
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
