package item

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a per-item failure.
type ErrorKind string

const (
	KindUpload   ErrorKind = "UploadError"
	KindAnalysis ErrorKind = "AnalysisError"
	KindSchema   ErrorKind = "SchemaError"
	KindIO       ErrorKind = "IOError"

	// KindCleanup is only ever recorded as a warning.
	KindCleanup ErrorKind = "CleanupWarning"
)

// ItemError is the failure carried by a failed outcome.
type ItemError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`

	// Raw holds the unparsed service response for schema failures.
	Raw string `json:"-"`

	// Permanent marks failures that retrying cannot fix even when the kind
	// is normally retryable (e.g. a document over the page limit).
	Permanent bool `json:"permanent,omitempty"`

	Cause error `json:"-"`
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ItemError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether another attempt may succeed.
func (e *ItemError) Retryable() bool {
	if e == nil || e.Permanent {
		return false
	}
	return e.Kind == KindUpload || e.Kind == KindAnalysis
}

// Errorf builds an ItemError wrapping cause.
func Errorf(kind ErrorKind, cause error, format string, args ...any) *ItemError {
	msg := fmt.Sprintf(format, args...)
	if cause != nil {
		msg = msg + ": " + cause.Error()
	}
	return &ItemError{Kind: kind, Message: msg, Cause: cause}
}

// AsItemError extracts an ItemError from err. Errors of any other type are
// reported as kind fallback.
func AsItemError(err error, fallback ErrorKind) *ItemError {
	if err == nil {
		return nil
	}
	var ie *ItemError
	if errors.As(err, &ie) {
		return ie
	}
	return &ItemError{Kind: fallback, Message: err.Error(), Cause: err}
}
