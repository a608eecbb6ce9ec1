package tools

import "errors"

var (
	// ErrUnknownCapability means the reasoning service asked for something
	// this run never offered.
	ErrUnknownCapability = errors.New("unknown capability")

	ErrUnnamedCapability   = errors.New("capability has no name")
	ErrNoHandler           = errors.New("capability has no handler")
	ErrDuplicateCapability = errors.New("capability offered twice")

	// ErrInvalidArgs wraps schema failures. The call is rejected without
	// running the handler.
	ErrInvalidArgs = errors.New("arguments rejected by capability schema")
)
