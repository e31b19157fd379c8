// Package validator checks a dispatched request's arguments before a verb
// handler acts on them, so a malformed "run"/"sub" request fails with its
// first failing reason instead of a panic or a partially-applied effect.
package validator

import (
	"errors"
	"fmt"
)

// ErrInvalidRequest indicates a request argument failed validation.
var ErrInvalidRequest = errors.New("invalid request")

// NewErrInvalidRequest creates a new error wrapping ErrInvalidRequest.
func NewErrInvalidRequest(msg string) error {
	return fmt.Errorf("%w; msg: %s", ErrInvalidRequest, msg)
}

// New creates a Validator instance.
func New() *Validator {
	return &Validator{}
}

// Validator provides a set of methods to ensure arbitrary conditions are true.
// In the event the one condition is false, Validator records the failing
// condition and does not proceed with further checks.
type Validator struct {
	err error
}

// AssertFunc checks that fn returns true, if not msg is used to construct an
// error to be returned by Validator.Err().
func (v *Validator) AssertFunc(fn func() bool, msg string) {
	if v.err != nil {
		return
	}
	if !fn() {
		v.err = NewErrInvalidRequest(msg)
	}
}

// Assert checks that condition is true, if not msg is used to construct an
// error to be returned by Validator.Err().
func (v *Validator) Assert(condition bool, msg string) {
	if v.err != nil {
		return
	}
	if !condition {
		v.err = NewErrInvalidRequest(msg)
	}
}

// Err returns the first failing assertion recorded by the Validator, or nil
// if every assertion held.
func (v Validator) Err() error {
	return v.err
}

// Format renders msg as the body of a dispatcher error reply, per
// protocol.IsError's "ERROR: " convention.
func Format(msg string) string {
	return fmt.Sprintf("invalid request; %s", msg)
}
