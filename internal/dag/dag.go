// SPDX-License-Identifier: MPL-2.0

// Package dag orders session include graphs and reports include cycles.
package dag

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCycle is the sentinel wrapped by CycleError.
var ErrCycle = errors.New("cycle detected")

type (
	// CycleError reports a closed path in the graph. The first node is
	// repeated at the end, e.g. [a b a].
	CycleError struct {
		Cycle []string
	}

	// Graph is a directed graph with string nodes. An edge from A to B means
	// A depends on B (for sessions: A includes B).
	Graph struct {
		edges map[string][]string
		// order keeps insertion order so results are deterministic.
		order []string
		seen  map[string]bool
	}
)

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("include cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// Unwrap returns ErrCycle.
func (e *CycleError) Unwrap() error { return ErrCycle }

// New creates an empty Graph.
func New() *Graph {
	return &Graph{
		edges: make(map[string][]string),
		seen:  make(map[string]bool),
	}
}

// AddNode adds a node. Adding an existing node is a no-op.
func (g *Graph) AddNode(name string) {
	if g.seen[name] {
		return
	}
	g.seen[name] = true
	g.order = append(g.order, name)
}

// AddEdge records that from depends on to. Both nodes are added if missing.
func (g *Graph) AddEdge(from, to string) {
	g.AddNode(from)
	g.AddNode(to)
	g.edges[from] = append(g.edges[from], to)
}

// Dependencies returns the direct dependencies of name in insertion order.
func (g *Graph) Dependencies(name string) []string {
	return g.edges[name]
}

// Sort returns every node after all of its dependencies (Kahn's algorithm).
// Nodes that become ready together keep insertion order. A cycle yields a
// *CycleError describing one concrete loop.
func (g *Graph) Sort() ([]string, error) {
	if len(g.order) == 0 {
		return nil, nil
	}

	// pending counts unsatisfied dependencies; dependents is the reverse adjacency.
	pending := make(map[string]int, len(g.order))
	dependents := make(map[string][]string, len(g.order))
	for _, node := range g.order {
		pending[node] = len(g.edges[node])
		for _, dep := range g.edges[node] {
			dependents[dep] = append(dependents[dep], node)
		}
	}

	var ready []string
	for _, node := range g.order {
		if pending[node] == 0 {
			ready = append(ready, node)
		}
	}

	sorted := make([]string, 0, len(g.order))
	for len(ready) > 0 {
		node := ready[0]
		ready = ready[1:]
		sorted = append(sorted, node)
		for _, d := range dependents[node] {
			pending[d]--
			if pending[d] == 0 {
				ready = append(ready, d)
			}
		}
	}

	if len(sorted) != len(g.order) {
		return nil, &CycleError{Cycle: g.findCycle()}
	}
	return sorted, nil
}

// findCycle walks the graph depth-first and returns the first loop found.
func (g *Graph) findCycle() []string {
	const (
		unvisited = iota
		onStack
		done
	)
	state := make(map[string]int, len(g.order))
	var stack []string

	var visit func(string) []string
	visit = func(node string) []string {
		state[node] = onStack
		stack = append(stack, node)
		for _, dep := range g.edges[node] {
			switch state[dep] {
			case onStack:
				for i, n := range stack {
					if n == dep {
						return append(append([]string{}, stack[i:]...), dep)
					}
				}
			case unvisited:
				if c := visit(dep); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[node] = done
		return nil
	}

	for _, node := range g.order {
		if state[node] == unvisited {
			if c := visit(node); c != nil {
				return c
			}
		}
	}
	return nil
}
