// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/invowk/runmatrix/internal/container"
	"github.com/invowk/runmatrix/internal/dag"
	"github.com/invowk/runmatrix/internal/environment"
	"github.com/invowk/runmatrix/internal/issue"
	"github.com/invowk/runmatrix/internal/placeholder"
	"github.com/invowk/runmatrix/internal/session"
	"github.com/invowk/runmatrix/pkg/cueutil"
	"github.com/invowk/runmatrix/pkg/sessionfile"
)

// ServiceError carries optional rendering information for the CLI layer.
// Always create via newServiceError.
type ServiceError struct {
	// Err is the underlying error (never nil).
	Err error
	// IssueID selects the catalogued help text; zero renders none.
	IssueID issue.Id
	// StyledMessage is printed before the help text when set.
	StyledMessage string
}

// newServiceError panics on a nil err.
func newServiceError(err error, issueID issue.Id, styledMessage string) *ServiceError {
	if err == nil {
		panic("ServiceError: Err must not be nil")
	}
	return &ServiceError{Err: err, IssueID: issueID, StyledMessage: styledMessage}
}

func (e *ServiceError) Error() string { return e.Err.Error() }

func (e *ServiceError) Unwrap() error { return e.Err }

// classifyError picks the catalogued issue that best explains err.
func classifyError(err error) issue.Id {
	if linked := issue.IssueOf(err); linked != nil {
		return linked.Id()
	}
	switch {
	case errors.Is(err, sessionfile.ErrNotFound):
		return issue.SessionsFileNotFoundId
	case errors.Is(err, dag.ErrCycle):
		return issue.IncludeCycleId
	case errors.Is(err, session.ErrUnknownSession):
		return issue.UnknownSessionId
	case errors.Is(err, placeholder.ErrUnknownPlaceholder), errors.Is(err, placeholder.ErrInvalidTemplate):
		return issue.InvalidPlaceholderId
	case errors.Is(err, container.ErrEngineNotAvailable):
		return issue.ContainerEngineNotFoundId
	case errors.Is(err, cueutil.ErrValidation), errors.Is(err, session.ErrInvalidSpec),
		errors.Is(err, session.ErrDuplicateSession), errors.Is(err, session.ErrInvalidStepKind):
		return issue.SessionsFileParseErrorId
	case errors.Is(err, environment.ErrInstall), errors.Is(err, environment.ErrPoisoned):
		return issue.InstallFailedId
	case errors.Is(err, environment.ErrProvisioning):
		return issue.RuntimeNotAvailableId
	default:
		return 0
	}
}

// asServiceError wraps err with its classified issue unless it already is one.
func asServiceError(err error) *ServiceError {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}
	return newServiceError(err, classifyError(err), "")
}

// renderServiceError prints the styled message, then the issue help section.
func renderServiceError(stderr io.Writer, svcErr *ServiceError) {
	if svcErr == nil {
		return
	}
	if svcErr.StyledMessage != "" {
		fmt.Fprint(stderr, svcErr.StyledMessage)
	}
	if svcErr.IssueID == 0 {
		return
	}
	if entry := issue.Get(svcErr.IssueID); entry != nil {
		rendered, err := entry.Render("dark")
		if err != nil {
			slog.Warn("failed to render issue catalog entry", "issueID", svcErr.IssueID, "error", err)
			return
		}
		fmt.Fprint(stderr, rendered)
	}
}
