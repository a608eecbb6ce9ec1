package sources

import (
	"errors"
	"fmt"
)

// ErrNoMatch means the payload held no data attributable to the subject.
// It is recorded as not_found, never as an error.
var ErrNoMatch = errors.New("no name-matched data in payload")

// ParseError means a payload did not have the expected shape.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// HTTPStatusError is a non-2xx response.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d from %s", e.StatusCode, e.URL)
}

// IsNotFound reports whether err should be recorded as not_found.
func IsNotFound(err error) bool {
	var pe *ParseError
	return errors.Is(err, ErrNoMatch) || errors.As(err, &pe)
}
