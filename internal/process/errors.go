// SPDX-License-Identifier: MPL-2.0

package process

import (
	"errors"
	"fmt"
)

var (
	// ErrExecution is the sentinel wrapped by ExecutionError.
	ErrExecution = errors.New("program cannot be executed")

	errEmptyProgram = errors.New("empty program name")
)

// ExecutionError reports a program that could not be located or launched.
// A program that ran and exited nonzero is never an ExecutionError.
type ExecutionError struct {
	Program string
	Err     error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("cannot execute %q: %v", e.Program, e.Err)
}

// Unwrap exposes both ErrExecution and the underlying launch error.
func (e *ExecutionError) Unwrap() []error { return []error{ErrExecution, e.Err} }
