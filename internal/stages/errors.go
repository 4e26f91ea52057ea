package stages

import (
	"errors"
	"fmt"
)

// Kind classifies a stage failure.
type Kind string

const (
	// KindNotFound indicates the input path does not exist.
	KindNotFound Kind = "not_found"

	// KindUnsupportedFormat indicates the input extension is not recognized.
	KindUnsupportedFormat Kind = "unsupported_format"

	// KindValidationFailure indicates the payload failed sanity checks.
	KindValidationFailure Kind = "validation_failure"

	// KindIOFailure indicates the output destination could not be written.
	KindIOFailure Kind = "io_failure"

	// KindUnknown wraps anything else.
	KindUnknown Kind = "unknown"
)

// Error is the failure type returned by all stages.
type Error struct {
	Kind Kind
	Op   string // stage operation, e.g. "load", "write"
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a stage error. A nil cause is replaced with the kind text
// so Error never formats a nil.
func NewError(kind Kind, op, path string, err error) *Error {
	if err == nil {
		err = errors.New(string(kind))
	}
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// KindOf extracts the Kind from an error chain, or KindUnknown.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}
