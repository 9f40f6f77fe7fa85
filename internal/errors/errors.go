// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

// ErrStateConflict marks a lost claim race. Callers skip the row silently.
var ErrStateConflict = errors.New("state conflict: row already claimed")

// ErrNotFound wraps a missing entity lookup.
type ErrNotFound struct {
	Entity string
	ID     any
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s %v not found", e.Entity, e.ID)
}

func NewNotFound(entity string, id any) error {
	return &ErrNotFound{Entity: entity, ID: id}
}

func IsNotFound(err error) bool {
	var nf *ErrNotFound
	return errors.As(err, &nf)
}

// ErrCapacityExhausted means no enabled identity has remaining quota. Not a
// failure: dispatch routes the message to the queue instead. DailyLimited is
// true when at least one identity still has campaign quota and is only held
// back by its daily cap, so the message becomes sendable the next day.
type ErrCapacityExhausted struct {
	DailyLimited bool
}

func (e *ErrCapacityExhausted) Error() string {
	if e.DailyLimited {
		return "capacity exhausted: daily caps reached"
	}
	return "capacity exhausted: campaign caps reached"
}

func IsCapacityExhausted(err error) (*ErrCapacityExhausted, bool) {
	var ce *ErrCapacityExhausted
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// ErrTransport wraps a send/verify failure. Transient failures are retried
// with a different identity; permanent ones are recorded immediately.
type ErrTransport struct {
	Op        string
	Transient bool
	Err       error
}

func (e *ErrTransport) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("transport %s: %s failure: %v", e.Op, kind, e.Err)
}

func (e *ErrTransport) Unwrap() error { return e.Err }

func NewTransientTransport(op string, err error) error {
	return &ErrTransport{Op: op, Transient: true, Err: err}
}

func NewPermanentTransport(op string, err error) error {
	return &ErrTransport{Op: op, Transient: false, Err: err}
}

// IsTransientTransport reports whether err is a transport failure worth
// retrying on another identity.
func IsTransientTransport(err error) bool {
	var te *ErrTransport
	return errors.As(err, &te) && te.Transient
}

// ErrValidation rejects malformed input before any identity is consulted.
type ErrValidation struct {
	Field string
	Msg   string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

func NewValidation(field, msg string) error {
	return &ErrValidation{Field: field, Msg: msg}
}

func IsValidation(err error) bool {
	var ve *ErrValidation
	return errors.As(err, &ve)
}
