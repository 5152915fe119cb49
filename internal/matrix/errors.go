// SPDX-License-Identifier: MPL-2.0

package matrix

import (
	"errors"
	"fmt"
)

var (
	// ErrExpansion is the sentinel wrapped by ExpansionError.
	ErrExpansion = errors.New("session expansion failed")
	// ErrNoUnits is returned by Select when the filters leave nothing to run.
	ErrNoUnits = errors.New("no units selected")
)

// ExpansionError reports a configuration-time failure while rendering a unit.
type ExpansionError struct {
	Unit string
	// Session is the session whose definition failed, which differs from the
	// unit's session for nested includes.
	Session string
	// Step is the declared step index within Session, -1 for session-level fields.
	Step int
	Err  error
}

// Error implements the error interface.
func (e *ExpansionError) Error() string {
	where := fmt.Sprintf("unit %q", e.Unit)
	if e.Session != "" && e.Session != e.Unit {
		where += fmt.Sprintf(" (session %q)", e.Session)
	}
	if e.Step >= 0 {
		where += fmt.Sprintf(" step %d", e.Step)
	}
	return fmt.Sprintf("%s: %v", where, e.Err)
}

// Unwrap exposes ErrExpansion and the cause.
func (e *ExpansionError) Unwrap() []error { return []error{ErrExpansion, e.Err} }
