package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned for malformed names or message payloads.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict is returned when a participant name is already taken.
	ErrConflict = errors.New("already exists")

	// ErrNotFound is returned for a missing participant or message.
	ErrNotFound = errors.New("not found")

	// ErrRecipientNotFound is returned when a private message names an unknown participant.
	ErrRecipientNotFound = fmt.Errorf("recipient does not exist: %w", ErrNotFound)

	// ErrUnknownSender is returned when the sender is not a registered participant.
	ErrUnknownSender = errors.New("sender is not a participant")

	// ErrNotOwner is returned when a user edits or deletes a message that is not theirs.
	ErrNotOwner = errors.New("message does not belong to user")

	// ErrMissingUser is returned when the acting user is not identified.
	ErrMissingUser = errors.New("missing user")

	// ErrStore is returned when the underlying store fails.
	ErrStore = errors.New("store failure")
)

// OpError is a typed operation error with a stable Op + Kind contract.
// Kind is one of the sentinel errors above.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() error { return e.Kind }

// StoreError wraps a backend failure. It matches both ErrStore and the cause.
type StoreError struct {
	Op  string
	Err error
}

func (e StoreError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrStore, e.Err)
}

func (e StoreError) Unwrap() []error { return []error{ErrStore, e.Err} }

// storeErr passes domain kinds through untouched and wraps anything else.
func storeErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict), errors.Is(err, ErrStore):
		return err
	default:
		return StoreError{Op: op, Err: err}
	}
}

// IsInvalidInput reports whether err represents ErrInvalidInput.
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }

// IsNotFound reports whether err represents ErrNotFound (including ErrRecipientNotFound).
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err represents ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }
