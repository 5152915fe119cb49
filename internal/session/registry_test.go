// SPDX-License-Identifier: MPL-2.0

package session

import (
	"errors"
	"slices"
	"testing"

	"github.com/invowk/runmatrix/internal/dag"
)

func runStep(args ...string) Step {
	return Step{Kind: StepRun, Args: args}
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	spec := &Spec{
		Name:     "test",
		Runtimes: []string{"3.9", "3.10"},
		Steps:    []Step{{Kind: StepInstall, Args: []string{"-r", "dev-requirements.txt"}}, runStep("pytest")},
		Params:   map[string]string{"extras": "socks"},
	}
	if err := reg.Register(spec); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	// Mutating the caller's value after registration must not leak in.
	spec.Runtimes[0] = "2.7"
	spec.Steps[1].Args[0] = "nose"
	spec.Params["extras"] = "changed"

	got, err := reg.Lookup("test")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got.Runtimes[0] != "3.9" {
		t.Errorf("expected runtime 3.9, got %q", got.Runtimes[0])
	}
	if got.Steps[1].Args[0] != "pytest" {
		t.Errorf("expected program pytest, got %q", got.Steps[1].Args[0])
	}
	if got.Params["extras"] != "socks" {
		t.Errorf("expected extras socks, got %q", got.Params["extras"])
	}

	// Mutating a looked-up copy must not leak back either.
	got.Steps[0].Args[0] = "mutated"
	again, _ := reg.Lookup("test")
	if again.Steps[0].Args[0] != "-r" {
		t.Errorf("expected registry copy to stay intact, got %q", again.Steps[0].Args[0])
	}
}

func TestRegistry_Duplicate(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	if err := reg.Register(&Spec{Name: "lint"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	err := reg.Register(&Spec{Name: "lint"})
	if !errors.Is(err, ErrDuplicateSession) {
		t.Fatalf("expected ErrDuplicateSession, got %v", err)
	}
	var dup *DuplicateSessionError
	if !errors.As(err, &dup) || dup.Name != "lint" {
		t.Errorf("expected DuplicateSessionError for lint, got %v", err)
	}
}

func TestRegistry_UnknownLookup(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	_ = reg.Register(&Spec{Name: "docs"})

	_, err := reg.Lookup("doc")
	var unknown *UnknownSessionError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected *UnknownSessionError, got %v", err)
	}
	if !slices.Equal(unknown.Known, []string{"docs"}) {
		t.Errorf("expected known [docs], got %v", unknown.Known)
	}
	if !errors.Is(err, ErrUnknownSession) {
		t.Error("expected errors.Is(err, ErrUnknownSession)")
	}
}

func TestRegistry_NamesKeepRegistrationOrder(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	for _, n := range []string{"test", "lint", "blacken", "docs"} {
		if err := reg.Register(&Spec{Name: n}); err != nil {
			t.Fatal(err)
		}
	}
	want := []string{"test", "lint", "blacken", "docs"}
	if got := reg.Names(); !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if reg.Len() != 4 {
		t.Errorf("expected 4 sessions, got %d", reg.Len())
	}
}

func TestRegistry_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		spec *Spec
	}{
		{name: "nil", spec: nil},
		{name: "empty name", spec: &Spec{}},
		{name: "empty runtime", spec: &Spec{Name: "s", Runtimes: []string{""}}},
		{name: "duplicate runtime", spec: &Spec{Name: "s", Runtimes: []string{"3.9", "3.9"}}},
		{name: "unknown kind", spec: &Spec{Name: "s", Steps: []Step{{Kind: "shell"}}}},
		{name: "run without program", spec: &Spec{Name: "s", Steps: []Step{{Kind: StepRun}}}},
		{name: "install without args", spec: &Spec{Name: "s", Steps: []Step{{Kind: StepInstall}}}},
		{name: "remove without path", spec: &Spec{Name: "s", Steps: []Step{{Kind: StepRemove}}}},
		{name: "include without target", spec: &Spec{Name: "s", Steps: []Step{{Kind: StepSession}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := NewRegistry().Register(tt.spec)
			if !errors.Is(err, ErrInvalidSpec) {
				t.Errorf("expected ErrInvalidSpec, got %v", err)
			}
		})
	}
}

func TestRegistry_Freeze(t *testing.T) {
	t.Parallel()

	t.Run("valid includes", func(t *testing.T) {
		t.Parallel()

		reg := NewRegistry()
		_ = reg.Register(&Spec{Name: "blacken", Steps: []Step{runStep("black", "."), {Kind: StepSession, Session: "lint"}}})
		_ = reg.Register(&Spec{Name: "lint", Steps: []Step{runStep("flake8")}})

		if err := reg.Freeze(); err != nil {
			t.Fatalf("Freeze() error = %v", err)
		}
		if !reg.Frozen() {
			t.Error("expected registry to be frozen")
		}
		if got := reg.IncludeOrder(); !slices.Equal(got, []string{"lint", "blacken"}) {
			t.Errorf("expected include order [lint blacken], got %v", got)
		}
		if err := reg.Register(&Spec{Name: "late"}); !errors.Is(err, ErrRegistryFrozen) {
			t.Errorf("expected ErrRegistryFrozen, got %v", err)
		}
		if err := reg.Freeze(); err != nil {
			t.Errorf("expected second Freeze to be a no-op, got %v", err)
		}
	})

	t.Run("unknown include", func(t *testing.T) {
		t.Parallel()

		reg := NewRegistry()
		_ = reg.Register(&Spec{Name: "blacken", Steps: []Step{{Kind: StepSession, Session: "lint"}}})

		err := reg.Freeze()
		var unknown *UnknownSessionError
		if !errors.As(err, &unknown) {
			t.Fatalf("expected *UnknownSessionError, got %v", err)
		}
		if unknown.Referrer != "blacken" || unknown.Name != "lint" {
			t.Errorf("expected blacken -> lint, got %q -> %q", unknown.Referrer, unknown.Name)
		}
		if reg.Frozen() {
			t.Error("expected registry to stay unfrozen after failure")
		}
	})

	t.Run("include cycle", func(t *testing.T) {
		t.Parallel()

		reg := NewRegistry()
		_ = reg.Register(&Spec{Name: "a", Steps: []Step{{Kind: StepSession, Session: "b"}}})
		_ = reg.Register(&Spec{Name: "b", Steps: []Step{{Kind: StepSession, Session: "a"}}})

		err := reg.Freeze()
		var cycle *dag.CycleError
		if !errors.As(err, &cycle) {
			t.Fatalf("expected *dag.CycleError, got %v", err)
		}
	})
}

func TestRegistry_Aggregate(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	if reg.Aggregate() != nil {
		t.Error("expected nil aggregate by default")
	}

	agg := &Aggregate{Steps: []Step{{Kind: StepInstall, Args: []string{"coverage"}}, runStep("coverage", "combine")}}
	if err := reg.SetAggregate(agg); err != nil {
		t.Fatalf("SetAggregate() error = %v", err)
	}
	agg.Steps[1].Args[1] = "erase"
	if got := reg.Aggregate(); got.Steps[1].Args[1] != "combine" {
		t.Errorf("expected stored copy, got %q", got.Steps[1].Args[1])
	}

	bad := &Aggregate{Steps: []Step{{Kind: StepSession, Session: "test"}}}
	if err := reg.SetAggregate(bad); !errors.Is(err, ErrInvalidSpec) {
		t.Errorf("expected ErrInvalidSpec for include in aggregate, got %v", err)
	}
}

func TestStepKindValidate(t *testing.T) {
	t.Parallel()

	for _, k := range []StepKind{StepInstall, StepRun, StepLog, StepRemove, StepSession} {
		if err := k.Validate(); err != nil {
			t.Errorf("expected %q to be valid, got %v", k, err)
		}
	}
	if err := StepKind("exec").Validate(); !errors.Is(err, ErrInvalidStepKind) {
		t.Errorf("expected ErrInvalidStepKind, got %v", err)
	}
}
