package collection

import (
	"errors"
	"fmt"
)

// ErrorClass classifies failures around a page fetch.
type ErrorClass string

const (
	// ErrorClassTransport covers network failures, timeouts and non-success responses.
	ErrorClassTransport ErrorClass = "transport"

	// ErrorClassShape covers payloads missing the expected items or total fields.
	ErrorClassShape ErrorClass = "shape"

	// ErrorClassLogic covers redundant calls (in flight, exhausted, not started).
	ErrorClassLogic ErrorClass = "logic"
)

// Logic errors. They are returned to callers of the request methods but are
// never reported to a Notifier.
var (
	// ErrLogic is the parent of every logic error.
	ErrLogic = errors.New("redundant request")

	// ErrInFlight is returned when a fetch is already outstanding.
	ErrInFlight = fmt.Errorf("%w: fetch in flight", ErrLogic)

	// ErrExhausted is returned by append requests once the source has no more pages.
	ErrExhausted = fmt.Errorf("%w: collection exhausted", ErrLogic)

	// ErrNotStarted is returned by append requests before the first page was requested.
	ErrNotStarted = fmt.Errorf("%w: collection not started", ErrLogic)
)

// ErrStale is returned by a flight whose response belonged to an older generation.
var ErrStale = errors.New("stale response discarded")

// FetchError is a classified page fetch failure.
type FetchError struct {
	Class      ErrorClass
	Op         string
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s error (status %d): %v", e.Op, e.Class, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s error: %v", e.Op, e.Class, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// TransportError wraps err as a transport failure.
func TransportError(op string, err error) *FetchError {
	return &FetchError{Class: ErrorClassTransport, Op: op, Err: err}
}

// ShapeError wraps err as a malformed payload failure.
func ShapeError(op string, err error) *FetchError {
	return &FetchError{Class: ErrorClassShape, Op: op, Err: err}
}

// Classify returns the class of err. Unclassified errors count as transport
// failures since the fetch boundary is the only place they can come from.
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrLogic) {
		return ErrorClassLogic
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Class
	}
	return ErrorClassTransport
}

// AsFetchError returns err as a *FetchError, wrapping unclassified errors as
// transport failures under op.
func AsFetchError(op string, err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	return TransportError(op, err)
}
