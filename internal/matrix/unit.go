// SPDX-License-Identifier: MPL-2.0

package matrix

import "github.com/invowk/runmatrix/internal/session"

const (
	// AggregateID identifies the merge unit built from the aggregate block.
	AggregateID = "aggregate"

	// Environment variables describing the unit, set for every step.
	EnvSession = "RUNMATRIX_SESSION"
	EnvUnit    = "RUNMATRIX_UNIT"
	EnvRuntime = "RUNMATRIX_RUNTIME"
)

type (
	// ResolvedStep is a step with every placeholder rendered and every
	// nested include inlined.
	ResolvedStep struct {
		// Index is the position in the unit's flattened step list.
		Index int
		Kind  session.StepKind
		// Args holds the fixed arguments followed by the effective posargs.
		// For run steps Args[0] is the program.
		Args []string
		// Env is the complete per-step override map.
		Env map[string]string
		// Dir is the working directory, absolute when a base directory is known.
		Dir          string
		SuccessCodes []int
		Message      string
		// Origin is the session that declared the step.
		Origin string
	}

	// Unit is one concrete session x runtime instance.
	Unit struct {
		ID          string
		Session     string
		Description string
		Runtime     string
		// EnvKey selects the environment; units with equal keys share one.
		EnvKey string
		Reuse  bool
		Steps  []ResolvedStep
		// Artifacts are rendered glob patterns relative to the base directory.
		Artifacts []string
		// Vars is the unit-level placeholder scope.
		Vars map[string]string
	}
)

// HasInstall reports whether the unit has at least one install step.
func (u *Unit) HasInstall() bool {
	for _, st := range u.Steps {
		if st.Kind == session.StepInstall {
			return true
		}
	}
	return false
}

// Program returns the program of a run step, or "" for other kinds.
func (s ResolvedStep) Program() string {
	if s.Kind != session.StepRun || len(s.Args) == 0 {
		return ""
	}
	return s.Args[0]
}
