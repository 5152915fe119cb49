// SPDX-License-Identifier: MPL-2.0

package matrix

import (
	"slices"

	"github.com/invowk/runmatrix/internal/session"
)

// Select builds the unit list for a run. Without selectors every registered
// session is expanded in registration order. A selector names a session (all
// of its units) or a single unit ID; selectors are honored in the given
// order and duplicates are dropped. Unknown selectors yield
// *session.UnknownSessionError before anything is expanded.
func Select(reg Registry, selectors []string, opts Options) ([]Unit, error) {
	names := reg.Names()

	type pick struct {
		spec   *session.Spec
		unitID string
	}
	var picks []pick

	if len(selectors) == 0 {
		for _, name := range names {
			spec, err := reg.Lookup(name)
			if err != nil {
				return nil, err
			}
			picks = append(picks, pick{spec: spec})
		}
	}

	for _, sel := range selectors {
		if spec, err := reg.Lookup(sel); err == nil {
			picks = append(picks, pick{spec: spec})
			continue
		}
		spec, ok := findUnitOwner(reg, names, sel)
		if !ok {
			return nil, &session.UnknownSessionError{Name: sel, Known: knownSelectors(reg, names)}
		}
		picks = append(picks, pick{spec: spec, unitID: sel})
	}

	var units []Unit
	seen := make(map[string]bool)
	for _, p := range picks {
		expanded, err := Expand(reg, p.spec, opts)
		if err != nil {
			return nil, err
		}
		for _, u := range expanded {
			if p.unitID != "" && u.ID != p.unitID {
				continue
			}
			if seen[u.ID] {
				continue
			}
			seen[u.ID] = true
			units = append(units, u)
		}
	}

	if len(units) == 0 {
		return nil, ErrNoUnits
	}
	return units, nil
}

// ExpandAggregate renders the registry's aggregate block as a single unit.
// It returns nil when no aggregate block is registered.
func ExpandAggregate(reg Registry, opts Options) (*Unit, error) {
	agg := reg.Aggregate()
	if agg == nil || len(agg.Steps) == 0 {
		return nil, nil
	}

	runtime := agg.Runtime
	if runtime == "" {
		runtime = opts.DefaultRuntime
	}
	spec := &session.Spec{
		Name:  AggregateID,
		Steps: agg.Steps,
		Env:   agg.Env,
	}
	o := opts
	o.Posargs = nil
	return expandUnit(reg, spec, runtime, false, o)
}

// findUnitOwner returns the session that would produce unit id.
func findUnitOwner(reg Registry, names []string, id string) (*session.Spec, bool) {
	for _, name := range names {
		spec, err := reg.Lookup(name)
		if err != nil {
			continue
		}
		for _, rt := range spec.Runtimes {
			if UnitID(name, rt, true) == id {
				return spec, true
			}
		}
	}
	return nil, false
}

// knownSelectors lists session names followed by unit IDs.
func knownSelectors(reg Registry, names []string) []string {
	known := slices.Clone(names)
	for _, name := range names {
		spec, err := reg.Lookup(name)
		if err != nil {
			continue
		}
		for _, rt := range spec.Runtimes {
			known = append(known, UnitID(name, rt, true))
		}
	}
	return known
}

// Units lists unit IDs without rendering steps, for listings.
func Units(spec *session.Spec) []string {
	if len(spec.Runtimes) == 0 {
		return []string{spec.Name}
	}
	ids := make([]string, 0, len(spec.Runtimes))
	for _, rt := range spec.Runtimes {
		ids = append(ids, UnitID(spec.Name, rt, true))
	}
	return ids
}
