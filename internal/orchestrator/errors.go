// SPDX-License-Identifier: MPL-2.0

package orchestrator

import (
	"errors"
	"fmt"

	"github.com/invowk/runmatrix/internal/process"
)

var (
	// ErrStepFailed is the sentinel wrapped by StepFailure.
	ErrStepFailed = errors.New("step failed")
	// ErrAborted marks units stopped or never started because the run was aborted.
	ErrAborted = errors.New("run aborted")
)

// StepFailure records a run step whose exit code is not among its success
// codes. It is stored on the unit result and never returned further.
type StepFailure struct {
	Unit      string
	StepIndex int
	Program   string
	ExitCode  process.ExitCode
	Accepted  []int
}

// Error implements the error interface.
func (e *StepFailure) Error() string {
	return fmt.Sprintf("unit %s: step %d (%s) exited with code %d", e.Unit, e.StepIndex, e.Program, e.ExitCode)
}

// Unwrap returns ErrStepFailed.
func (e *StepFailure) Unwrap() error { return ErrStepFailed }

func abortedError(cause error) error {
	if cause == nil || errors.Is(cause, ErrAborted) {
		return ErrAborted
	}
	return fmt.Errorf("%w: %w", ErrAborted, cause)
}
