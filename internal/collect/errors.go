package collect

import (
	"errors"
	"fmt"
)

// ErrUnknownSource is returned when a requested source is not in the registry.
var ErrUnknownSource = errors.New("unknown source")

// FetchError is a transport-level failure for one source: network, timeout,
// HTTP status, rate-limit wait or a fetcher panic. It is recorded as an
// error evidence record and never aborts the run.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
