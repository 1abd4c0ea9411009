package cgpt

import (
	"errors"
	"fmt"
)

// Error taxonomy. Every failure inside a turn maps onto one of these and is
// converted to a display fragment before leaving the orchestrator.
var (
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrNotFound            = errors.New("not found")
	ErrMalformedResponse   = errors.New("malformed response")
	ErrNotRelatedToDomain  = errors.New("not related to domain")
)

// AdapterError is the error variant returned by the external service adapters.
// Message is the user-visible text; Kind is one of the taxonomy sentinels.
type AdapterError struct {
	Adapter string
	Message string
	Kind    error
	Cause   error
}

func (e *AdapterError) Error() string { return e.Message }

func (e *AdapterError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// NewAdapterError builds an AdapterError with a formatted message.
func NewAdapterError(adapter string, kind, cause error, format string, args ...any) *AdapterError {
	return &AdapterError{
		Adapter: adapter,
		Message: fmt.Sprintf(format, args...),
		Kind:    kind,
		Cause:   cause,
	}
}

// UserMessage returns the text a user should see for err. Adapter errors keep
// their exact message; everything else is described by its taxonomy kind.
func UserMessage(err error) string {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Message
	}
	switch {
	case errors.Is(err, ErrNotRelatedToDomain):
		return RefusalText
	case errors.Is(err, ErrMalformedResponse):
		return "Sorry, I couldn't understand the response I got back. Please try rephrasing your question."
	case errors.Is(err, ErrNotFound):
		return NoResultsText
	default:
		return "Sorry, the coffee service is unavailable right now. Please try again in a moment."
	}
}
