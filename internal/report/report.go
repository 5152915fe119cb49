// SPDX-License-Identifier: MPL-2.0

// Package report merges per-unit artifacts and renders the run summary.
package report

import (
	"context"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/invowk/runmatrix/internal/matrix"
	"github.com/invowk/runmatrix/internal/orchestrator"
)

// EnvFragments lists the collected artifacts to the merge steps, joined
// with the OS path list separator.
const EnvFragments = "RUNMATRIX_FRAGMENTS"

// now is replaced in tests.
var now = time.Now

type (
	// UnitRunner runs a single unit; *orchestrator.Orchestrator implements it.
	UnitRunner interface {
		RunUnit(ctx context.Context, unit *matrix.Unit) orchestrator.UnitResult
	}

	// Report is the outcome of one invocation.
	Report struct {
		RunID     string
		StartedAt time.Time
		Duration  time.Duration
		// Units are in expansion order.
		Units []orchestrator.UnitResult
		// Merge is nil when no merge unit ran.
		Merge *orchestrator.UnitResult
		// MergeSkipped explains why a configured merge did not run.
		MergeSkipped string
		Artifacts    []string
	}

	// Aggregator builds the report once every unit is terminal.
	Aggregator struct {
		runner  UnitRunner
		baseDir string
		logger  *slog.Logger
	}

	// Option configures an Aggregator.
	Option func(*Aggregator)
)

// WithBaseDir sets the directory artifact patterns are relative to.
func WithBaseDir(dir string) Option {
	return func(a *Aggregator) { a.baseDir = dir }
}

// WithLogger sets the aggregator logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAggregator creates an Aggregator that runs the merge unit with runner.
func NewAggregator(runner UnitRunner, opts ...Option) *Aggregator {
	a := &Aggregator{runner: runner, baseDir: ".", logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate resolves each unit's artifacts and, when any exist, runs merge
// exactly once. A nil merge unit skips merging.
func (a *Aggregator) Aggregate(ctx context.Context, startedAt time.Time, results []orchestrator.UnitResult, merge *matrix.Unit) *Report {
	r := &Report{
		RunID:     uuid.NewString(),
		StartedAt: startedAt,
		Units:     slices.Clone(results),
	}

	for i := range r.Units {
		res := &r.Units[i]
		if res.Unit == nil || len(res.Unit.Artifacts) == 0 {
			continue
		}
		found, err := ResolveArtifacts(a.baseDir, res.Unit.Artifacts)
		if err != nil {
			a.logger.Warn("cannot resolve artifacts", "unit", res.Unit.ID, "error", err)
			continue
		}
		res.Artifacts = found
		r.Artifacts = append(r.Artifacts, found...)
	}
	slices.Sort(r.Artifacts)
	r.Artifacts = slices.Compact(r.Artifacts)

	switch {
	case merge == nil:
	case len(r.Artifacts) == 0:
		r.MergeSkipped = "no artifacts were produced"
	case ctx.Err() != nil:
		r.MergeSkipped = "run aborted"
	default:
		unit := withFragments(merge, r.Artifacts)
		a.logger.Debug("running merge", "unit", unit.ID, "artifacts", len(r.Artifacts))
		res := a.runner.RunUnit(ctx, unit)
		r.Merge = &res
	}

	r.Duration = now().Sub(startedAt)
	return r
}

// Success reports whether every unit succeeded. The merge outcome is
// reported but does not change the result.
func (r *Report) Success() bool {
	for i := range r.Units {
		if !r.Units[i].Success() {
			return false
		}
	}
	return true
}

// ExitCode is 0 on success and 1 otherwise.
func (r *Report) ExitCode() int {
	if r.Success() {
		return 0
	}
	return 1
}

// Counts returns the number of units per terminal state.
func (r *Report) Counts() map[orchestrator.State]int {
	counts := make(map[orchestrator.State]int, 3)
	for i := range r.Units {
		counts[r.Units[i].State]++
	}
	return counts
}

func withFragments(unit *matrix.Unit, artifacts []string) *matrix.Unit {
	u := *unit
	joined := strings.Join(artifacts, string(os.PathListSeparator))
	u.Steps = make([]matrix.ResolvedStep, len(unit.Steps))
	for i, st := range unit.Steps {
		env := maps.Clone(st.Env)
		if env == nil {
			env = make(map[string]string, 1)
		}
		env[EnvFragments] = joined
		st.Env = env
		u.Steps[i] = st
	}
	return &u
}
