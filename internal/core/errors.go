package core

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidOverflowMode = errors.New("invalid overflow mode")
)

// InvalidPriorityListError reports a structural precondition violation of a
// priority list or of the inputs handed to the distribution engine.
type InvalidPriorityListError struct {
	Reason string
}

func (e *InvalidPriorityListError) Error() string {
	return "invalid priority list: " + e.Reason
}

func invalidList(format string, args ...any) error {
	return &InvalidPriorityListError{Reason: fmt.Sprintf(format, args...)}
}

// NegativeResultError reports a computation that would have left a negative
// balance. It points at a caller or data bug, never at user input.
type NegativeResultError struct {
	Op    string
	Left  Money
	Right Money
}

func (e *NegativeResultError) Error() string {
	return fmt.Sprintf("negative result: %s %s - %s", e.Op, e.Left, e.Right)
}

// InconsistentStateError reports a persisted snapshot that does not contain
// exactly one overflow moneybox.
type InconsistentStateError struct {
	OverflowCount int
}

func (e *InconsistentStateError) Error() string {
	return fmt.Sprintf("inconsistent moneybox state: expected exactly one overflow moneybox, found %d", e.OverflowCount)
}
