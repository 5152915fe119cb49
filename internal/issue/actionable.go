// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"fmt"
	"strings"
)

type (
	// ActionableError is a user-facing error carrying the failed operation,
	// the resource involved, remediation hints and, optionally, the catalogued
	// issue the CLI renders alongside it.
	//
	//	err := issue.NewErrorContext().
	//		WithOperation("load sessions file").
	//		WithResource("./runmatrix.cue").
	//		WithIssue(issue.SessionsFileParseErrorId).
	//		WithSuggestion("Run 'runmatrix list' to validate the file").
	//		Wrap(cause).
	//		BuildError()
	ActionableError struct {
		// Operation is a verb phrase such as "load sessions file".
		Operation   string
		Resource    string
		Suggestions []string
		// Issue is zero when no catalogued issue applies.
		Issue Id
		Cause error
	}

	// ErrorContext builds an ActionableError incrementally.
	ErrorContext struct {
		err ActionableError
	}
)

// NewErrorContext creates an empty ErrorContext builder.
func NewErrorContext() *ErrorContext {
	return &ErrorContext{}
}

// WrapWithContext wraps err with operation and resource context.
// It returns nil when err is nil.
func WrapWithContext(err error, operation, resource string) *ActionableError {
	if err == nil {
		return nil
	}
	return &ActionableError{Operation: operation, Resource: resource, Cause: err}
}

func (e *ActionableError) Error() string {
	var msg strings.Builder
	msg.WriteString("failed to ")
	msg.WriteString(e.Operation)
	if e.Resource != "" {
		msg.WriteString(": ")
		msg.WriteString(e.Resource)
	}
	if e.Cause != nil {
		msg.WriteString(": ")
		msg.WriteString(e.Cause.Error())
	}
	return msg.String()
}

func (e *ActionableError) Unwrap() error {
	return e.Cause
}

// Format renders the error with its suggestions as a bullet list. In verbose
// mode the numbered cause chain follows.
func (e *ActionableError) Format(verbose bool) string {
	var msg strings.Builder
	msg.WriteString(e.Error())

	if len(e.Suggestions) > 0 {
		msg.WriteString("\n")
		for _, s := range e.Suggestions {
			msg.WriteString("\n  • ")
			msg.WriteString(s)
		}
	}

	if verbose && e.Cause != nil {
		msg.WriteString("\n\nError chain:")
		depth := 1
		for err := e.Cause; err != nil; err = errors.Unwrap(err) {
			fmt.Fprintf(&msg, "\n  %d. %s", depth, err.Error())
			depth++
		}
	}
	return msg.String()
}

func (c *ErrorContext) WithOperation(op string) *ErrorContext {
	c.err.Operation = op
	return c
}

func (c *ErrorContext) WithResource(res string) *ErrorContext {
	c.err.Resource = res
	return c
}

// WithSuggestion appends one remediation hint; it may be called repeatedly.
func (c *ErrorContext) WithSuggestion(sug string) *ErrorContext {
	c.err.Suggestions = append(c.err.Suggestions, sug)
	return c
}

func (c *ErrorContext) WithSuggestions(sugs ...string) *ErrorContext {
	c.err.Suggestions = append(c.err.Suggestions, sugs...)
	return c
}

// WithIssue links the error to a catalogued issue.
func (c *ErrorContext) WithIssue(id Id) *ErrorContext {
	c.err.Issue = id
	return c
}

func (c *ErrorContext) Wrap(err error) *ErrorContext {
	c.err.Cause = err
	return c
}

// Build returns the ActionableError, or nil when no operation was set.
func (c *ErrorContext) Build() *ActionableError {
	if c.err.Operation == "" {
		return nil
	}
	out := c.err
	out.Suggestions = append([]string(nil), c.err.Suggestions...)
	return &out
}

// BuildError is Build typed as error, so a missing operation yields a true nil.
func (c *ErrorContext) BuildError() error {
	if ae := c.Build(); ae != nil {
		return ae
	}
	return nil
}

// IssueOf returns the catalogued issue linked to the first ActionableError in
// err's chain, or nil.
func IssueOf(err error) *Issue {
	var ae *ActionableError
	if !errors.As(err, &ae) || ae.Issue == 0 {
		return nil
	}
	return Get(ae.Issue)
}
