package compress

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest     = errors.New("invalid compression request")
	ErrEmptyOutput        = errors.New("encoder produced zero bytes")
	ErrCanvasTooLarge     = errors.New("target canvas exceeds pixel limit")
	ErrPrimaryUnavailable = errors.New("primary encoder unavailable")
	ErrUnsupportedFormat  = errors.New("unsupported output format")

	// ErrExhausted is delivered to reporters when no strategy improved on
	// the source. Compress never returns it; the request degrades to a
	// pass-through instead.
	ErrExhausted = errors.New("no strategy improved on the source")
)

// ValidationError describes malformed input. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvalidRequest, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidRequest }

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// EncodeFailure is a single strategy attempt that produced no usable output.
type EncodeFailure struct {
	Strategy string
	Format   Format
	Stage    string
	Err      error
}

func (e *EncodeFailure) Error() string {
	if e.Strategy == "" {
		return fmt.Sprintf("encode %s: %s: %v", e.Format, e.Stage, e.Err)
	}
	return fmt.Sprintf("strategy %s (%s): %s: %v", e.Strategy, e.Format, e.Stage, e.Err)
}

func (e *EncodeFailure) Unwrap() error { return e.Err }

// IsValidation reports whether err rejected the request before any encode ran.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
