package core

import (
	"errors"
	"fmt"
)

// ErrSigningDeclined marks a wallet signature that was refused. Terminal for
// the current submission attempt, never auto-retried.
var ErrSigningDeclined = errors.New("signing declined")

// ErrEngineStopped is returned when work is dispatched after an emergency
// stop without an explicit restart.
var ErrEngineStopped = errors.New("engine stopped")

// ValidationError marks malformed input (missing market id, non-numeric
// price). Fatal to the one item, never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// TransientError wraps a network/API failure that is safe to retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is a retryable network/API failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
