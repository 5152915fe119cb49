// SPDX-License-Identifier: MPL-2.0

package orchestrator

import (
	"errors"
	"fmt"
)

const (
	StatePending    State = "pending"
	StateInstalling State = "installing"
	StateRunning    State = "running"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
	StateErrored    State = "errored"
)

// ErrInvalidState is returned when parsing an unknown state name.
var ErrInvalidState = errors.New("invalid unit state")

// State is the lifecycle state of a unit.
type State string

// String returns the state name.
func (s State) String() string { return string(s) }

// Terminal reports whether the unit has finished.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateErrored:
		return true
	default:
		return false
	}
}

// Validate returns an error wrapping ErrInvalidState for unknown names.
func (s State) Validate() error {
	switch s {
	case StatePending, StateInstalling, StateRunning, StateSucceeded, StateFailed, StateErrored:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidState, string(s))
	}
}
