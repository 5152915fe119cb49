// SPDX-License-Identifier: MPL-2.0

// Package process runs external programs for runmatrix steps.
//
// Every invocation gets its own copy of the environment; overrides are never
// applied to the invoking process. A program that cannot be located or
// started yields an *ExecutionError; a nonzero exit is an ordinary Result.
package process

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

const (
	// DefaultTailLines is the number of trailing output lines kept in a Result.
	DefaultTailLines = 20
	// DefaultWaitDelay is the grace period between interrupt and kill on cancellation.
	DefaultWaitDelay = 5 * time.Second
)

// now is replaced in tests.
var now = time.Now

type (
	// Command describes one external program invocation.
	Command struct {
		// Program is the executable name or path.
		Program string
		// Args are passed to Program verbatim.
		Args []string
		// Env overrides, merged over a fresh copy of the host environment.
		Env map[string]string
		// PathPrepend entries are placed in front of PATH for this invocation,
		// and are honored when resolving Program.
		PathPrepend []string
		// Dir is the working directory. Empty means the current directory.
		Dir string
		// CleanEnv disables host environment inheritance.
		CleanEnv bool
		// Stdout and Stderr receive the live output. Nil discards it (the tail
		// is still captured).
		Stdout io.Writer
		Stderr io.Writer
		// TailLines overrides the runner's tail length for this command.
		TailLines int
	}

	// Result is the outcome of a program that was started.
	Result struct {
		ExitCode ExitCode
		// Output holds the last lines of combined stdout and stderr.
		Output   string
		Duration time.Duration
		// Canceled is set when the context ended before the program exited.
		Canceled bool
	}

	// Runner executes commands synchronously.
	Runner interface {
		Run(ctx context.Context, c Command) (*Result, error)
	}

	// ExecRunner is the os/exec backed Runner.
	ExecRunner struct {
		waitDelay time.Duration
		tailLines int
		logger    *slog.Logger
		environ   func() []string
	}

	// Option configures an ExecRunner.
	Option func(*ExecRunner)
)

// WithWaitDelay sets the grace period between interrupt and kill.
func WithWaitDelay(d time.Duration) Option {
	return func(r *ExecRunner) { r.waitDelay = d }
}

// WithTailLines sets how many trailing output lines are kept.
func WithTailLines(n int) Option {
	return func(r *ExecRunner) {
		if n > 0 {
			r.tailLines = n
		}
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(r *ExecRunner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithHostEnviron replaces the source of the inherited environment.
func WithHostEnviron(fn func() []string) Option {
	return func(r *ExecRunner) {
		if fn != nil {
			r.environ = fn
		}
	}
}

// NewExecRunner creates a Runner backed by os/exec.
func NewExecRunner(opts ...Option) *ExecRunner {
	r := &ExecRunner{
		waitDelay: DefaultWaitDelay,
		tailLines: DefaultTailLines,
		logger:    slog.Default(),
		environ:   os.Environ,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes c and waits for it to finish.
func (r *ExecRunner) Run(ctx context.Context, c Command) (*Result, error) {
	if c.Program == "" {
		return nil, &ExecutionError{Err: errEmptyProgram}
	}

	env := buildEnviron(r.environ(), c)
	path, err := lookPathIn(c.Program, env["PATH"], c.Dir)
	if err != nil {
		return nil, &ExecutionError{Program: c.Program, Err: err}
	}

	tailLines := r.tailLines
	if c.TailLines > 0 {
		tailLines = c.TailLines
	}
	tail := newTailBuffer(tailLines)

	cmd := exec.CommandContext(ctx, path, c.Args...)
	cmd.Args[0] = c.Program
	cmd.Env = env.list()
	cmd.Dir = c.Dir
	cmd.Stdout = teeTo(c.Stdout, tail)
	cmd.Stderr = teeTo(c.Stderr, tail)
	cmd.WaitDelay = r.waitDelay
	cmd.Cancel = func() error {
		if err := cmd.Process.Signal(os.Interrupt); err != nil {
			return cmd.Process.Kill()
		}
		return nil
	}

	r.logger.Debug("running command", "program", c.Program, "args", c.Args, "dir", c.Dir)

	start := now()
	if err := cmd.Start(); err != nil {
		return nil, &ExecutionError{Program: c.Program, Err: err}
	}
	waitErr := cmd.Wait()

	result := &Result{
		Output:   tail.String(),
		Duration: now().Sub(start),
	}

	if ctx.Err() != nil {
		result.Canceled = true
		result.ExitCode = ExitCanceled
		return result, nil
	}

	result.ExitCode = exitCodeOf(cmd, waitErr)
	if waitErr != nil && result.ExitCode.IsSuccess() {
		r.logger.Debug("command output incomplete", "program", c.Program, "error", waitErr)
	}
	return result, nil
}

// exitCodeOf derives the exit code after Wait. Processes terminated by a
// signal report 1, since the platform gives no portable code.
func exitCodeOf(cmd *exec.Cmd, waitErr error) ExitCode {
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		code := ExitCode(exitErr.ExitCode())
		if code.Validate() != nil {
			return 1
		}
		return code
	}
	if cmd.ProcessState != nil {
		code := ExitCode(cmd.ProcessState.ExitCode())
		if code.Validate() != nil {
			return 1
		}
		return code
	}
	if waitErr != nil {
		return 1
	}
	return 0
}

func teeTo(w io.Writer, tail *tailBuffer) io.Writer {
	if w == nil {
		return tail
	}
	return io.MultiWriter(w, tail)
}
