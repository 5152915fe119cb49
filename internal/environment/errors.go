// SPDX-License-Identifier: MPL-2.0

package environment

import (
	"errors"
	"fmt"
	"strings"

	"github.com/invowk/runmatrix/internal/process"
)

var (
	// ErrProvisioning is the sentinel wrapped by ProvisioningError.
	ErrProvisioning = errors.New("environment provisioning failed")
	// ErrInstall is the sentinel wrapped by InstallError.
	ErrInstall = errors.New("dependency installation failed")
	// ErrPoisoned is the sentinel wrapped by PoisonedError.
	ErrPoisoned = errors.New("environment is poisoned")
)

type (
	// ProvisioningError reports an environment that could not be created,
	// typically because the runtime is not available on the host.
	ProvisioningError struct {
		Key     string
		Runtime string
		Reason  string
		// Output is the tail of the creation command's output, if one ran.
		Output string
		Err    error
	}

	// InstallError reports an installer that exited nonzero or could not run.
	InstallError struct {
		Key      string
		Args     []string
		ExitCode process.ExitCode
		Output   string
		Err      error
	}

	// PoisonedError is returned for environments whose install failed earlier in the run.
	PoisonedError struct {
		Key   string
		Cause error
	}
)

// Error implements the error interface.
func (e *ProvisioningError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "provision environment %q", e.Key)
	if e.Runtime != "" {
		fmt.Fprintf(&b, " (runtime %s)", e.Runtime)
	}
	if e.Reason != "" {
		b.WriteString(": " + e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes ErrProvisioning and the cause.
func (e *ProvisioningError) Unwrap() []error { return joinCause(ErrProvisioning, e.Err) }

// Error implements the error interface.
func (e *InstallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("install %s into %q: %v", strings.Join(e.Args, " "), e.Key, e.Err)
	}
	return fmt.Sprintf("install %s into %q: installer exited with code %d", strings.Join(e.Args, " "), e.Key, e.ExitCode)
}

// Unwrap exposes ErrInstall and the cause.
func (e *InstallError) Unwrap() []error { return joinCause(ErrInstall, e.Err) }

// Error implements the error interface.
func (e *PoisonedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("environment %q is poisoned by an earlier failed install: %v", e.Key, e.Cause)
	}
	return fmt.Sprintf("environment %q is poisoned by an earlier failed install", e.Key)
}

// Unwrap returns ErrPoisoned.
func (e *PoisonedError) Unwrap() error { return ErrPoisoned }

func joinCause(sentinel, cause error) []error {
	if cause == nil {
		return []error{sentinel}
	}
	return []error{sentinel, cause}
}
