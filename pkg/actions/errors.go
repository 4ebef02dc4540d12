package actions

import (
	"errors"
	"fmt"
)

// ErrorKind classifies action failures.
type ErrorKind string

// Action error kinds.
const (
	KindNotFound    ErrorKind = "not_found"
	KindBadInputs   ErrorKind = "bad_inputs"
	KindTimeout     ErrorKind = "timeout"
	KindUnavailable ErrorKind = "unavailable"
	KindInternal    ErrorKind = "internal"
)

var (
	// ErrActionFailed is the base error all action failures unwrap to.
	ErrActionFailed = errors.New("action failed")

	// ErrRegistryFrozen indicates a registration attempt after freeze.
	ErrRegistryFrozen = errors.New("registry is frozen")

	// ErrUnavailable can be returned by action handlers to signal a
	// transient dependency failure; the dispatcher retries once.
	ErrUnavailable = errors.New("action dependency unavailable")
)

// ActionError wraps an action failure with its name and kind.
type ActionError struct {
	Name string
	Kind ErrorKind
	Err  error
}

func (e *ActionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("action %q: %s: %v", e.Name, e.Kind, e.Err)
	}
	return fmt.Sprintf("action %q: %s", e.Name, e.Kind)
}

func (e *ActionError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrActionFailed
}

// NewActionError creates a classified action error.
func NewActionError(name string, kind ErrorKind, err error) *ActionError {
	return &ActionError{Name: name, Kind: kind, Err: err}
}

// KindOf extracts the error kind from an action error chain, defaulting to
// internal.
func KindOf(err error) ErrorKind {
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// ValidationError is returned by slot validators when a value is rejected.
// Recovered by re-prompting within the same session.
type ValidationError struct {
	Slot   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Slot != "" {
		return fmt.Sprintf("invalid value for %s: %s", e.Slot, e.Reason)
	}
	return fmt.Sprintf("invalid value: %s", e.Reason)
}

// IsValidationError reports whether err is a slot validation rejection.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
