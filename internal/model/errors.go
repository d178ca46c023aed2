package model

import (
	"errors"
	"fmt"
)

// ErrInvalidInput marks structurally invalid snapshots (bad work ranges,
// empty or malformed rosters). A plan is never partially computed on it.
var ErrInvalidInput = errors.New("invalid dispatch input")

// InputError describes which record broke an input invariant.
type InputError struct {
	Kind   string // work, inspector, roster
	ID     string
	Reason string
}

func (e *InputError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("invalid %s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("invalid %s %s: %s", e.Kind, e.ID, e.Reason)
}

func (e *InputError) Unwrap() error { return ErrInvalidInput }
