// SPDX-License-Identifier: MPL-2.0

package cmd

import "fmt"

const (
	// exitFailure is returned when at least one unit did not succeed.
	exitFailure = 1
	// exitUsage is returned for configuration and selection errors raised
	// before any unit starts.
	exitUsage = 2
)

// ExitError signals a non-zero exit code without forcing os.Exit in RunE handlers.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}
