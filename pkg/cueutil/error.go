// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"fmt"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
)

// ErrValidation is the sentinel wrapped by ValidationError.
var ErrValidation = errors.New("validation failed")

type (
	// Issue is one problem found in a user file.
	Issue struct {
		// Path is the JSON-style field path, e.g. "sessions.test.steps[2].run".
		Path    string
		Message string
	}

	// ValidationError collects the issues found in one file.
	ValidationError struct {
		File   string
		Issues []Issue
	}
)

// Error implements the error interface.
func (e *ValidationError) Error() string {
	lines := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		if is.Path != "" {
			lines = append(lines, is.Path+": "+is.Message)
		} else {
			lines = append(lines, is.Message)
		}
	}
	switch len(lines) {
	case 0:
		return e.File + ": validation failed"
	case 1:
		return e.File + ": " + lines[0]
	default:
		return fmt.Sprintf("%s: validation failed:\n  %s", e.File, strings.Join(lines, "\n  "))
	}
}

// Unwrap returns ErrValidation.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// FormatError converts a CUE error into a *ValidationError with one Issue per
// underlying CUE error. Non-CUE errors become a single path-less Issue.
func FormatError(err error, file string) error {
	if err == nil {
		return nil
	}

	list := cueerrors.Errors(err)
	if len(list) == 0 {
		return &ValidationError{File: file, Issues: []Issue{{Message: err.Error()}}}
	}

	issues := make([]Issue, 0, len(list))
	seen := make(map[string]bool, len(list))
	for _, e := range list {
		raw := cueerrors.Path(e)
		path := FormatPath(raw)
		msg := e.Error()
		// CUE prefixes messages with the dotted path; the Issue carries it separately.
		if prefix := strings.Join(raw, "."); prefix != "" && strings.HasPrefix(msg, prefix) {
			msg = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(msg, prefix), ":"))
		}
		key := path + "\x00" + msg
		if seen[key] {
			continue
		}
		seen[key] = true
		issues = append(issues, Issue{Path: path, Message: msg})
	}
	return &ValidationError{File: file, Issues: issues}
}

// FormatPath renders CUE path elements as "a.b[0].c".
func FormatPath(path []string) string {
	var b strings.Builder
	for i, part := range path {
		if i > 0 && isIndex(part) {
			b.WriteString("[" + part + "]")
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(part)
	}
	return b.String()
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
