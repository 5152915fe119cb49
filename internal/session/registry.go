// SPDX-License-Identifier: MPL-2.0

package session

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/invowk/runmatrix/internal/dag"
)

var (
	// ErrDuplicateSession is the sentinel wrapped by DuplicateSessionError.
	ErrDuplicateSession = errors.New("duplicate session")
	// ErrUnknownSession is the sentinel wrapped by UnknownSessionError.
	ErrUnknownSession = errors.New("unknown session")
	// ErrInvalidSpec is the sentinel wrapped by InvalidSpecError.
	ErrInvalidSpec = errors.New("invalid session")
	// ErrRegistryFrozen is returned by Register after Freeze.
	ErrRegistryFrozen = errors.New("session registry is frozen")
)

type (
	// DuplicateSessionError is returned when a name is registered twice.
	DuplicateSessionError struct {
		Name string
	}

	// UnknownSessionError is returned when a name or selector matches nothing.
	UnknownSessionError struct {
		Name string
		// Referrer is the including session, empty for direct lookups.
		Referrer string
		// Known lists registered names for suggestions.
		Known []string
	}

	// InvalidSpecError reports a malformed session definition.
	InvalidSpecError struct {
		Session string
		// Step is the offending step index, -1 for session-level problems.
		Step   int
		Reason string
	}

	// Registry holds session specs by name. It is populated at startup with
	// explicit Register calls and becomes read-only after Freeze.
	Registry struct {
		mu        sync.RWMutex
		specs     map[string]*Spec
		order     []string
		aggregate *Aggregate
		frozen    bool
		// includeOrder lists sessions with their includes first; set by Freeze.
		includeOrder []string
	}
)

// Error implements the error interface.
func (e *DuplicateSessionError) Error() string {
	return fmt.Sprintf("session %q is already registered", e.Name)
}

// Unwrap returns ErrDuplicateSession.
func (e *DuplicateSessionError) Unwrap() error { return ErrDuplicateSession }

// Error implements the error interface.
func (e *UnknownSessionError) Error() string {
	if e.Referrer != "" {
		return fmt.Sprintf("session %q includes unknown session %q", e.Referrer, e.Name)
	}
	return fmt.Sprintf("unknown session %q", e.Name)
}

// Unwrap returns ErrUnknownSession.
func (e *UnknownSessionError) Unwrap() error { return ErrUnknownSession }

// Error implements the error interface.
func (e *InvalidSpecError) Error() string {
	if e.Step >= 0 {
		return fmt.Sprintf("session %q step %d: %s", e.Session, e.Step, e.Reason)
	}
	return fmt.Sprintf("session %q: %s", e.Session, e.Reason)
}

// Unwrap returns ErrInvalidSpec.
func (e *InvalidSpecError) Unwrap() error { return ErrInvalidSpec }

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]*Spec)}
}

// Register stores a deep copy of spec.
func (r *Registry) Register(spec *Spec) error {
	if err := validate(spec); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrRegistryFrozen
	}
	if _, exists := r.specs[spec.Name]; exists {
		return &DuplicateSessionError{Name: spec.Name}
	}
	r.specs[spec.Name] = spec.Clone()
	r.order = append(r.order, spec.Name)
	return nil
}

// SetAggregate stores the merge block run after all units.
func (r *Registry) SetAggregate(agg *Aggregate) error {
	if agg != nil {
		for i, st := range agg.Steps {
			if err := validateStep("aggregate", i, st); err != nil {
				return err
			}
			if st.Kind == StepSession {
				return &InvalidSpecError{Session: "aggregate", Step: i, Reason: "aggregate steps cannot include sessions"}
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrRegistryFrozen
	}
	r.aggregate = agg.Clone()
	return nil
}

// Aggregate returns a copy of the merge block, or nil when none is set.
func (r *Registry) Aggregate() *Aggregate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.aggregate.Clone()
}

// Lookup returns a copy of the named spec.
func (r *Registry) Lookup(name string) (*Spec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	spec, ok := r.specs[name]
	if !ok {
		return nil, &UnknownSessionError{Name: name, Known: slices.Clone(r.order)}
	}
	return spec.Clone(), nil
}

// Names returns registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Frozen reports whether Freeze has succeeded.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Freeze checks nested includes and makes the registry read-only. Includes of
// unregistered sessions yield *UnknownSessionError; include cycles yield
// *dag.CycleError. Freezing twice is a no-op.
func (r *Registry) Freeze() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return nil
	}

	g := dag.New()
	for _, name := range r.order {
		g.AddNode(name)
		for _, inc := range r.specs[name].Includes() {
			if _, ok := r.specs[inc]; !ok {
				return &UnknownSessionError{Name: inc, Referrer: name, Known: slices.Clone(r.order)}
			}
			g.AddEdge(name, inc)
		}
	}

	sorted, err := g.Sort()
	if err != nil {
		return err
	}
	r.includeOrder = sorted
	r.frozen = true
	return nil
}

// IncludeOrder returns sessions ordered so that included sessions precede
// their includers. It is empty until Freeze succeeds.
func (r *Registry) IncludeOrder() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.includeOrder)
}

func validate(spec *Spec) error {
	if spec == nil {
		return &InvalidSpecError{Step: -1, Reason: "nil session"}
	}
	if spec.Name == "" {
		return &InvalidSpecError{Step: -1, Reason: "name must not be empty"}
	}
	seen := make(map[string]bool, len(spec.Runtimes))
	for _, rt := range spec.Runtimes {
		if rt == "" {
			return &InvalidSpecError{Session: spec.Name, Step: -1, Reason: "runtime identifiers must not be empty"}
		}
		if seen[rt] {
			return &InvalidSpecError{Session: spec.Name, Step: -1, Reason: fmt.Sprintf("runtime %q listed twice", rt)}
		}
		seen[rt] = true
	}
	for i, st := range spec.Steps {
		if err := validateStep(spec.Name, i, st); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(session string, i int, st Step) error {
	if err := st.Kind.Validate(); err != nil {
		return &InvalidSpecError{Session: session, Step: i, Reason: err.Error()}
	}
	switch st.Kind {
	case StepInstall:
		if len(st.Args) == 0 && !st.TakesPosargs {
			return &InvalidSpecError{Session: session, Step: i, Reason: "install step needs arguments"}
		}
	case StepRun:
		if len(st.Args) == 0 {
			return &InvalidSpecError{Session: session, Step: i, Reason: "run step needs a program"}
		}
	case StepRemove:
		if len(st.Args) == 0 {
			return &InvalidSpecError{Session: session, Step: i, Reason: "remove step needs a path"}
		}
	case StepSession:
		if st.Session == "" {
			return &InvalidSpecError{Session: session, Step: i, Reason: "session step needs a target session"}
		}
	case StepLog:
	}
	return nil
}
