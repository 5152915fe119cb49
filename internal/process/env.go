// SPDX-License-Identifier: MPL-2.0

package process

import (
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// environ is a materialized process environment.
type environ map[string]string

// buildEnviron returns a fresh environment for one invocation. Precedence:
//  1. base (the host environment, unless the command asks for a clean one)
//  2. PathPrepend entries, placed in front of the inherited PATH
//  3. the command's Env overrides (highest)
//
// The host environment is copied, never modified.
func buildEnviron(base []string, c Command) environ {
	env := make(environ, len(base)+len(c.Env)+1)
	if !c.CleanEnv {
		for _, kv := range base {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				continue
			}
			env[k] = v
		}
	}

	if len(c.PathPrepend) > 0 {
		parts := slices.Clone(c.PathPrepend)
		if cur := env["PATH"]; cur != "" {
			parts = append(parts, cur)
		}
		env["PATH"] = strings.Join(parts, string(os.PathListSeparator))
	}

	maps.Copy(env, c.Env)
	return env
}

// list renders the environment as sorted KEY=VALUE pairs.
func (e environ) list() []string {
	out := make([]string, 0, len(e))
	for _, k := range slices.Sorted(maps.Keys(e)) {
		out = append(out, k+"="+e[k])
	}
	return out
}

// lookPathIn resolves program against pathList rather than the PATH of the
// current process, so environment-scoped bin directories take effect.
// Programs containing a path separator are resolved relative to dir.
func lookPathIn(program, pathList, dir string) (string, error) {
	if strings.ContainsRune(program, '/') || strings.ContainsRune(program, filepath.Separator) {
		candidate := program
		if !filepath.IsAbs(candidate) && dir != "" {
			candidate = filepath.Join(dir, candidate)
		}
		if err := checkExecutable(candidate); err != nil {
			return "", err
		}
		return candidate, nil
	}

	for _, d := range filepath.SplitList(pathList) {
		if d == "" {
			d = "."
		}
		for _, name := range executableNames(program) {
			candidate := filepath.Join(d, name)
			if checkExecutable(candidate) == nil {
				if !filepath.IsAbs(candidate) {
					if abs, err := filepath.Abs(candidate); err == nil {
						candidate = abs
					}
				}
				return candidate, nil
			}
		}
	}
	return "", errNotFound(program)
}
