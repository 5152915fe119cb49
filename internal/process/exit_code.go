// SPDX-License-Identifier: MPL-2.0

package process

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
)

// ErrInvalidExitCode is the sentinel error wrapped by InvalidExitCodeError.
var ErrInvalidExitCode = errors.New("invalid exit code")

type (
	// ExitCode represents a process exit status code.
	// The zero value (0) means success.
	ExitCode int

	// InvalidExitCodeError is returned when an ExitCode is outside the
	// valid range (0-255).
	InvalidExitCodeError struct {
		Value ExitCode
	}
)

// ExitCanceled is reported for processes stopped by context cancellation,
// mirroring the shell convention for SIGINT.
const ExitCanceled ExitCode = 130

// Error implements the error interface.
func (e *InvalidExitCodeError) Error() string {
	return fmt.Sprintf("invalid exit code %d (must be in range 0-255)", e.Value)
}

// Unwrap returns ErrInvalidExitCode so callers can use errors.Is for programmatic detection.
func (e *InvalidExitCodeError) Unwrap() error { return ErrInvalidExitCode }

// Validate returns an *InvalidExitCodeError when c is outside 0-255.
func (c ExitCode) Validate() error {
	if c < 0 || c > 255 {
		return &InvalidExitCodeError{Value: c}
	}
	return nil
}

// IsSuccess returns true if the exit code is 0.
func (c ExitCode) IsSuccess() bool { return c == 0 }

// AcceptedBy reports whether c is one of the accepted codes.
// An empty list accepts only 0.
func (c ExitCode) AcceptedBy(accepted []int) bool {
	if len(accepted) == 0 {
		return c == 0
	}
	return slices.Contains(accepted, int(c))
}

// String returns the decimal string representation of the ExitCode.
func (c ExitCode) String() string { return strconv.Itoa(int(c)) }
