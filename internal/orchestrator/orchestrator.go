// SPDX-License-Identifier: MPL-2.0

package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/invowk/runmatrix/internal/environment"
	"github.com/invowk/runmatrix/internal/matrix"
	"github.com/invowk/runmatrix/internal/process"
	"github.com/invowk/runmatrix/internal/session"
)

// Prefix starts every line the orchestrator writes about a unit.
const Prefix = "runmatrix > "

// now is replaced in tests.
var now = time.Now

type (
	// Environments is the subset of the environment manager the orchestrator uses.
	Environments interface {
		Acquire(ctx context.Context, req environment.Request) (*environment.Environment, error)
		Install(ctx context.Context, env *environment.Environment, args []string, opts environment.InstallOptions) (*process.Result, error)
		Run(ctx context.Context, env *environment.Environment, c process.Command) (*process.Result, error)
		Release(ctx context.Context, env *environment.Environment) error
	}

	// Hooks observe unit progress. With more than one job they are called
	// from several goroutines.
	Hooks struct {
		// OnStateChange is called on every transition; step is -1 outside steps.
		OnStateChange func(unit *matrix.Unit, state State, step int)
		// OnUnitFinish is called once per unit with its final result.
		OnUnitFinish func(result *UnitResult)
	}

	// UnitResult is the terminal outcome of one unit.
	UnitResult struct {
		Unit  *matrix.Unit
		State State
		// StepIndex is the failing or erroring step, -1 otherwise.
		StepIndex int
		StepsRun  int
		Err       error
		// Output is the output tail of the failing command.
		Output    string
		Artifacts []string
		StartedAt time.Time
		Duration  time.Duration
	}

	// Orchestrator schedules units and drives each through its steps.
	Orchestrator struct {
		envs          Environments
		jobs          int
		noInstall     bool
		stopOnFailure bool
		tailLines     int
		stdout        io.Writer
		stderr        io.Writer
		hooks         Hooks
		logger        *slog.Logger

		outMu sync.Mutex
	}

	// Option configures an Orchestrator.
	Option func(*Orchestrator)

	// unitRun carries the mutable state of one unit execution.
	unitRun struct {
		o      *Orchestrator
		unit   *matrix.Unit
		env    *environment.Environment
		result *UnitResult
		stdout io.Writer
		stderr io.Writer
	}

	// lockedBuffer collects the output of a unit when units run concurrently.
	lockedBuffer struct {
		mu  sync.Mutex
		buf bytes.Buffer
	}
)

// WithJobs sets how many units may run at once. Values below 1 mean 1.
func WithJobs(n int) Option {
	return func(o *Orchestrator) { o.jobs = max(n, 1) }
}

// WithNoInstall skips install steps of units whose environment was reused.
func WithNoInstall(skip bool) Option {
	return func(o *Orchestrator) { o.noInstall = skip }
}

// WithStopOnFailure aborts the run after the first unit that does not succeed.
func WithStopOnFailure(stop bool) Option {
	return func(o *Orchestrator) { o.stopOnFailure = stop }
}

// WithOutput sets where step output goes.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(o *Orchestrator) {
		if stdout != nil {
			o.stdout = stdout
		}
		if stderr != nil {
			o.stderr = stderr
		}
	}
}

// WithTailLines sets the output tail kept per command.
func WithTailLines(n int) Option {
	return func(o *Orchestrator) { o.tailLines = n }
}

// WithHooks installs progress hooks.
func WithHooks(h Hooks) Option {
	return func(o *Orchestrator) { o.hooks = h }
}

// WithLogger sets the orchestrator logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates an Orchestrator that runs steps through envs.
func New(envs Environments, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		envs:   envs,
		jobs:   1,
		stdout: io.Discard,
		stderr: io.Discard,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run drives every unit to a terminal state and returns the results in the
// order of units. Once the run is aborted, by ctx or by a failure with
// stop-on-failure set, units that have not started are Errored with
// ErrAborted without being attempted.
func (o *Orchestrator) Run(ctx context.Context, units []matrix.Unit) []UnitResult {
	results := make([]UnitResult, len(units))

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var g errgroup.Group
	g.SetLimit(o.jobs)
	for i := range units {
		unit := &units[i]
		if runCtx.Err() != nil {
			results[i] = o.abort(runCtx, unit)
			continue
		}
		g.Go(func() error {
			results[i] = o.RunUnit(runCtx, unit)
			if o.stopOnFailure && results[i].State != StateSucceeded {
				cancel(fmt.Errorf("%w: unit %s %s", ErrAborted, unit.ID, results[i].State))
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// RunUnit executes one unit to completion.
func (o *Orchestrator) RunUnit(ctx context.Context, unit *matrix.Unit) UnitResult {
	if ctx.Err() != nil {
		return o.abort(ctx, unit)
	}

	r := &unitRun{
		o:      o,
		unit:   unit,
		result: &UnitResult{Unit: unit, State: StatePending, StepIndex: -1, StartedAt: now()},
		stdout: o.stdout,
		stderr: o.stderr,
	}
	var buf *lockedBuffer
	if o.jobs > 1 {
		buf = &lockedBuffer{}
		r.stdout, r.stderr = buf, buf
	}

	r.transition(StatePending, -1)
	r.announce("Running session %s", unit.ID)
	r.execute(ctx)
	r.result.Duration = now().Sub(r.result.StartedAt)
	r.announce("Session %s %s in %s", unit.ID, verb(r.result.State), r.result.Duration.Round(time.Millisecond))

	if buf != nil {
		o.outMu.Lock()
		_, _ = buf.WriteTo(o.stderr)
		o.outMu.Unlock()
	}

	o.logger.Debug("unit finished",
		"unit", unit.ID, "state", r.result.State.String(), "step", r.result.StepIndex, "steps_run", r.result.StepsRun)
	if o.hooks.OnUnitFinish != nil {
		o.hooks.OnUnitFinish(r.result)
	}
	return *r.result
}

// abort records a unit that was never attempted.
func (o *Orchestrator) abort(ctx context.Context, unit *matrix.Unit) UnitResult {
	res := UnitResult{
		Unit:      unit,
		State:     StateErrored,
		StepIndex: -1,
		Err:       abortedError(context.Cause(ctx)),
		StartedAt: now(),
	}
	if o.hooks.OnUnitFinish != nil {
		o.hooks.OnUnitFinish(&res)
	}
	return res
}

func (r *unitRun) execute(ctx context.Context) {
	env, err := r.o.envs.Acquire(ctx, environment.Request{Key: r.unit.EnvKey, Runtime: r.unit.Runtime, Reuse: r.unit.Reuse})
	if err != nil {
		r.errored(ctx, -1, err, "")
		return
	}
	r.env = env
	defer func() {
		// Teardown must happen even when the run was interrupted.
		if err := r.o.envs.Release(context.WithoutCancel(ctx), env); err != nil {
			r.o.logger.Warn("environment release failed", "unit", r.unit.ID, "key", env.Key, "error", err)
		}
	}()

	for i := range r.unit.Steps {
		if ctx.Err() != nil {
			r.errored(ctx, i, nil, "")
			return
		}
		if !r.step(ctx, &r.unit.Steps[i]) {
			return
		}
	}
	r.transition(StateSucceeded, -1)
}

// step runs one step and reports whether the unit may continue.
func (r *unitRun) step(ctx context.Context, st *matrix.ResolvedStep) bool {
	switch st.Kind {
	case session.StepInstall:
		return r.install(ctx, st)
	case session.StepRun:
		return r.run(ctx, st)
	case session.StepLog:
		r.result.StepsRun++
		r.announce("%s", st.Message)
		return true
	case session.StepRemove:
		return r.remove(ctx, st)
	default:
		r.errored(ctx, st.Index, &session.InvalidStepKindError{Value: st.Kind}, "")
		return false
	}
}

func (r *unitRun) install(ctx context.Context, st *matrix.ResolvedStep) bool {
	if r.o.noInstall && r.env.Reused {
		r.announce("Skipping install %s (reusing environment)", strings.Join(st.Args, " "))
		return true
	}
	r.transition(StateInstalling, st.Index)
	r.announce("install %s", strings.Join(st.Args, " "))
	r.result.StepsRun++

	res, err := r.o.envs.Install(ctx, r.env, st.Args, environment.InstallOptions{
		Dir:    st.Dir,
		Env:    st.Env,
		Stdout: r.stdout,
		Stderr: r.stderr,
	})
	if err != nil {
		var output string
		if res != nil {
			output = res.Output
		}
		r.errored(ctx, st.Index, err, output)
		return false
	}
	return true
}

func (r *unitRun) run(ctx context.Context, st *matrix.ResolvedStep) bool {
	r.transition(StateRunning, st.Index)
	r.announce("%s", strings.Join(st.Args, " "))
	r.result.StepsRun++

	res, err := r.o.envs.Run(ctx, r.env, process.Command{
		Program:   st.Program(),
		Args:      st.Args[1:],
		Env:       st.Env,
		Dir:       st.Dir,
		Stdout:    r.stdout,
		Stderr:    r.stderr,
		TailLines: r.o.tailLines,
	})
	if err != nil {
		r.errored(ctx, st.Index, err, "")
		return false
	}
	if res.Canceled {
		r.errored(ctx, st.Index, nil, res.Output)
		return false
	}
	if !res.ExitCode.AcceptedBy(st.SuccessCodes) {
		r.result.State = StateFailed
		r.result.StepIndex = st.Index
		r.result.Output = res.Output
		r.result.Err = &StepFailure{
			Unit:      r.unit.ID,
			StepIndex: st.Index,
			Program:   st.Program(),
			ExitCode:  res.ExitCode,
			Accepted:  st.SuccessCodes,
		}
		r.announce("Command %s failed with exit code %d", st.Program(), res.ExitCode)
		r.transition(StateFailed, st.Index)
		return false
	}
	return true
}

func (r *unitRun) remove(ctx context.Context, st *matrix.ResolvedStep) bool {
	r.result.StepsRun++
	for _, target := range st.Args {
		path := target
		if !filepath.IsAbs(path) && st.Dir != "" {
			path = filepath.Join(st.Dir, path)
		}
		r.announce("Removing %s", path)
		if err := os.RemoveAll(path); err != nil {
			r.errored(ctx, st.Index, fmt.Errorf("remove %s: %w", path, err), "")
			return false
		}
	}
	return true
}

// errored finishes the unit as Errored. A nil err on a canceled context
// records the abort.
func (r *unitRun) errored(ctx context.Context, step int, err error, output string) {
	if ctx.Err() != nil && (err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		err = abortedError(context.Cause(ctx))
	}
	if err == nil {
		err = ErrAborted
	}
	r.result.State = StateErrored
	r.result.StepIndex = step
	r.result.Err = err
	r.result.Output = output
	r.announce("Session %s errored: %v", r.unit.ID, err)
	r.transition(StateErrored, step)
}

func (r *unitRun) transition(s State, step int) {
	r.result.State = s
	if r.o.hooks.OnStateChange != nil {
		r.o.hooks.OnStateChange(r.unit, s, step)
	}
}

func (r *unitRun) announce(format string, args ...any) {
	fmt.Fprintf(r.stderr, Prefix+format+"\n", args...)
}

func verb(s State) string {
	switch s {
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "errored"
	}
}

// Success reports whether the unit succeeded.
func (r *UnitResult) Success() bool { return r.State == StateSucceeded }

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) WriteTo(w io.Writer) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.WriteTo(w)
}
