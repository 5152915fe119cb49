// SPDX-License-Identifier: MPL-2.0

// Package placeholder renders ${name} references in session templates.
//
// Templates use here-document rules from mvdan.cc/sh: $name and ${name} are
// expanded, default forms such as ${name:-value} are honored, and a literal
// dollar sign is written as \$. Command substitution is rejected. Strings
// without a dollar sign are returned unchanged, so backslashes and backticks
// are only interpreted in templates that reference a placeholder.
package placeholder

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"
)

var (
	// ErrUnknownPlaceholder is returned when a template names an undefined placeholder.
	ErrUnknownPlaceholder = errors.New("unknown placeholder")
	// ErrInvalidTemplate is returned when a template cannot be parsed or uses
	// unsupported shell constructs.
	ErrInvalidTemplate = errors.New("invalid template")
)

type (
	// UnknownPlaceholderError names the undefined placeholder and its template.
	UnknownPlaceholderError struct {
		Name     string
		Template string
	}

	// TemplateError wraps a parse or expansion failure other than an unknown name.
	TemplateError struct {
		Template string
		Err      error
	}
)

// Error implements the error interface.
func (e *UnknownPlaceholderError) Error() string {
	return fmt.Sprintf("unknown placeholder %q in %q", e.Name, e.Template)
}

// Unwrap returns ErrUnknownPlaceholder.
func (e *UnknownPlaceholderError) Unwrap() error { return ErrUnknownPlaceholder }

// Error implements the error interface.
func (e *TemplateError) Error() string {
	return fmt.Sprintf("invalid template %q: %v", e.Template, e.Err)
}

// Unwrap exposes ErrInvalidTemplate and the cause.
func (e *TemplateError) Unwrap() []error { return []error{ErrInvalidTemplate, e.Err} }

// Expand renders s with vars.
func Expand(s string, vars map[string]string) (string, error) {
	if !strings.Contains(s, "$") {
		return s, nil
	}

	word, err := syntax.NewParser().Document(strings.NewReader(s))
	if err != nil {
		return "", &TemplateError{Template: s, Err: err}
	}

	cfg := &expand.Config{
		Env:     expand.ListEnviron(pairs(vars)...),
		NoUnset: true,
	}
	out, err := expand.Document(cfg, word)
	if err != nil {
		var unset expand.UnsetParameterError
		if errors.As(err, &unset) {
			return "", &UnknownPlaceholderError{Name: unset.Node.Param.Value, Template: s}
		}
		return "", &TemplateError{Template: s, Err: err}
	}
	return out, nil
}

// ExpandAll renders every element of list.
func ExpandAll(list []string, vars map[string]string) ([]string, error) {
	if list == nil {
		return nil, nil
	}
	out := make([]string, len(list))
	for i, s := range list {
		v, err := Expand(s, vars)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// ExpandMap renders every value of m. Keys are left as written.
func ExpandMap(m map[string]string, vars map[string]string) (map[string]string, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]string, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		v, err := Expand(m[k], vars)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func pairs(vars map[string]string) []string {
	out := make([]string, 0, len(vars))
	for _, k := range slices.Sorted(maps.Keys(vars)) {
		out = append(out, k+"="+vars[k])
	}
	return out
}
