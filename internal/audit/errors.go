package audit

import (
	"errors"
	"fmt"
)

// ErrNoSubject is returned when Run is called without a subject id.
var ErrNoSubject = errors.New("audit: subject has no id")

// VerdictParseError means a terminal reply was not a well-formed verdict.
type VerdictParseError struct {
	Reply string
	Err   error
}

func (e *VerdictParseError) Error() string {
	return fmt.Sprintf("invalid verdict: %v", e.Err)
}

func (e *VerdictParseError) Unwrap() error { return e.Err }

// BudgetExceededError means an investigation or iteration cap was hit. It is
// always rendered into the conversation or the result's gaps.
type BudgetExceededError struct {
	Kind  string // investigations, iterations
	Limit int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("%s budget exhausted (limit %d)", e.Kind, e.Limit)
}
