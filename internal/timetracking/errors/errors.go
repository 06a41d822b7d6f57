// Package errors defines the domain error kinds raised by the time
// tracking core. Callers branch with errors.Is / errors.As; messages
// are never part of the contract.
package errors

import (
	"fmt"
)

var (
	// ErrAlreadyRunning is returned by startTimer when the user already
	// has a running entry, whether detected by the transactional lock
	// or by the unique-index backstop.
	ErrAlreadyRunning = fmt.Errorf("timer already running")
	// ErrNotRunning is returned by stop/discard/update-timer when no
	// running entry exists for the user.
	ErrNotRunning = fmt.Errorf("no running timer")
	ErrOverlap    = fmt.Errorf("overlapping time entry")
	// ErrLocked covers both the explicit lock flag and the implicit
	// age-based lock.
	ErrLocked        = fmt.Errorf("entry is locked")
	ErrInvalidStatus = fmt.Errorf("invalid status transition")
	ErrNotFound      = fmt.Errorf("not found")
	ErrForbidden     = fmt.Errorf("forbidden")
	ErrInvalidInput  = fmt.Errorf("invalid input")
)

// InvalidStatusError reports a rejected workflow transition together
// with the states involved. It unwraps to ErrInvalidStatus.
type InvalidStatusError struct {
	Current   string
	Attempted string
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s", e.Current, e.Attempted)
}

func (e *InvalidStatusError) Unwrap() error {
	return ErrInvalidStatus
}
