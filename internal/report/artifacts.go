// SPDX-License-Identifier: MPL-2.0

package report

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrInvalidPattern is returned for artifact patterns that are not valid globs.
var ErrInvalidPattern = errors.New("invalid artifact pattern")

// ResolveArtifacts expands doublestar patterns relative to baseDir and
// returns the matching files, sorted and without duplicates. Patterns
// that match nothing contribute nothing.
func ResolveArtifacts(baseDir string, patterns []string) ([]string, error) {
	var out []string
	for _, p := range patterns {
		full := p
		if !filepath.IsAbs(full) {
			full = filepath.Join(baseDir, p)
		}
		if !doublestar.ValidatePathPattern(full) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPattern, p)
		}
		matches, err := doublestar.FilepathGlob(full, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("resolve %q: %w", p, err)
		}
		out = append(out, matches...)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}
