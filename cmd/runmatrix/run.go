// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/invowk/runmatrix/internal/config"
	"github.com/invowk/runmatrix/internal/container"
	"github.com/invowk/runmatrix/internal/environment"
	"github.com/invowk/runmatrix/internal/issue"
	"github.com/invowk/runmatrix/internal/matrix"
	"github.com/invowk/runmatrix/internal/orchestrator"
	"github.com/invowk/runmatrix/internal/process"
	"github.com/invowk/runmatrix/internal/report"
	"github.com/invowk/runmatrix/internal/session"
	"github.com/invowk/runmatrix/pkg/sessionfile"
)

type (
	// runRequest captures every input of `runmatrix run`.
	runRequest struct {
		Selectors     []string
		Posargs       []string
		Runtimes      []string
		Jobs          int
		ReuseExisting bool
		NoInstall     bool
		StopOnFailure bool
		Env           map[string]string
		Params        map[string]string
		ReportPath    string
		ReportFormat  string
		SessionsFile  string
	}

	// project is a loaded and frozen sessions file.
	project struct {
		file     *sessionfile.File
		registry *session.Registry
	}
)

func newRunCommand(app *App) *cobra.Command {
	var (
		req       runRequest
		envPairs  []string
		paramArgs []string
	)

	cmd := &cobra.Command{
		Use:   "run [SESSION|UNIT ...] [-- POSARGS...]",
		Short: "Run sessions",
		Long: `Run the selected sessions, or every session when none is named.

A selector is a session name, which runs all of its units, or a unit ID
such as 'test-3.12'. Arguments after '--' replace the default positional
arguments of steps that accept them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Selectors, req.Posargs = splitPosargs(args, cmd.ArgsLenAtDash())
			if !cmd.Flags().Changed("jobs") {
				req.Jobs = 0
			}

			var err error
			if req.Env, err = parseAssignments("--env", envPairs); err != nil {
				return app.handleError(cmd, err)
			}
			if req.Params, err = parseAssignments("--param", paramArgs); err != nil {
				return app.handleError(cmd, err)
			}
			return app.handleError(cmd, app.runSessions(cmd.Context(), req))
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVarP(&req.Runtimes, "runtime", "p", nil, "only run units for these runtimes")
	flags.IntVarP(&req.Jobs, "jobs", "j", 1, "number of units to run concurrently (default from config)")
	flags.BoolVarP(&req.ReuseExisting, "reuse-existing", "r", false, "reuse environments from earlier runs")
	flags.BoolVar(&req.NoInstall, "no-install", false, "skip install steps in reused environments")
	flags.BoolVarP(&req.StopOnFailure, "stop-on-first-failure", "x", false, "abort remaining units after the first failure")
	flags.StringArrayVar(&envPairs, "env", nil, "set an environment variable for every step (KEY=VALUE, repeatable)")
	flags.StringArrayVar(&paramArgs, "param", nil, "override a session parameter (KEY=VALUE, repeatable)")
	flags.StringVar(&req.ReportPath, "report", "", "write a machine-readable report to this file")
	flags.StringVar(&req.ReportFormat, "report-format", "", "report format: json or yaml (default from the file extension)")
	flags.StringVarP(&req.SessionsFile, "sessions-file", "f", "", "sessions file (default: search upwards for runmatrix.cue)")

	return cmd
}

// runSessions executes a run and renders its report. Unit failures become an
// *ExitError; everything else is a configuration-time error.
func (a *App) runSessions(ctx context.Context, req runRequest) error {
	cfg, err := a.config()
	if err != nil {
		return err
	}
	if req.ReportFormat != "" {
		if _, err := report.ParseFormat(req.ReportFormat); err != nil {
			return err
		}
	}

	proj, err := a.loadProject(cfg, req.SessionsFile)
	if err != nil {
		return err
	}

	opts := matrix.Options{
		DefaultRuntime: cfg.DefaultRuntime,
		Runtimes:       req.Runtimes,
		Posargs:        req.Posargs,
		Params:         req.Params,
		Env:            req.Env,
		ReuseExisting:  req.ReuseExisting || cfg.ReuseExisting,
		BaseDir:        proj.file.Dir,
	}
	units, err := matrix.Select(proj.registry, req.Selectors, opts)
	if err != nil {
		return err
	}
	merge, err := matrix.ExpandAggregate(proj.registry, opts)
	if err != nil {
		return err
	}

	runner := process.NewExecRunner(
		process.WithTailLines(cfg.OutputTailLines),
		process.WithLogger(a.logger),
	)
	backend, err := a.newBackend(ctx, cfg, runner, proj.file.Dir)
	if err != nil {
		return err
	}
	mgr := environment.NewManager(backend, runner,
		environment.WithRoot(envRoot(cfg.EnvDir, proj.file.Dir)),
		environment.WithInstaller(cfg.Virtualenv.Installer),
		environment.WithCacheDir(cfg.CacheDir),
		environment.WithManagerLogger(a.logger),
	)
	defer func() {
		if err := mgr.Close(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("environment cleanup failed", "error", err)
		}
	}()

	jobs := cfg.Jobs
	if req.Jobs > 0 {
		jobs = req.Jobs
	}
	orch := orchestrator.New(mgr,
		orchestrator.WithJobs(jobs),
		orchestrator.WithNoInstall(req.NoInstall),
		orchestrator.WithStopOnFailure(req.StopOnFailure),
		orchestrator.WithOutput(a.stdout, a.stderr),
		orchestrator.WithTailLines(cfg.OutputTailLines),
		orchestrator.WithLogger(a.logger),
		orchestrator.WithHooks(orchestrator.Hooks{
			OnStateChange: func(unit *matrix.Unit, state orchestrator.State, step int) {
				a.logger.Debug("unit state", "unit", unit.ID, "state", state.String(), "step", step)
			},
		}),
	)

	a.logger.Debug("starting run", "units", len(units), "jobs", jobs, "backend", backend.Type().String())
	startedAt := time.Now()
	results := orch.Run(ctx, units)
	rep := report.NewAggregator(orch,
		report.WithBaseDir(proj.file.Dir),
		report.WithLogger(a.logger),
	).Aggregate(ctx, startedAt, results, merge)

	fmt.Fprintln(a.stdout)
	if err := report.RenderText(a.stdout, rep, reportStyles(cfg.UI.Color)); err != nil {
		return err
	}
	if req.ReportPath != "" {
		if err := writeReport(rep, req.ReportPath, req.ReportFormat); err != nil {
			return err
		}
	}

	if rep.Success() {
		return nil
	}
	return unitsFailedError(ctx, rep)
}

// loadProject finds, parses and registers the sessions file.
func (a *App) loadProject(cfg *config.Config, explicit string) (*project, error) {
	path := explicit
	if path == "" {
		found, err := sessionfile.Find(a.WorkDir, cfg.SessionsFile)
		if err != nil {
			return nil, err
		}
		path = found
	} else if !filepath.IsAbs(path) {
		path = filepath.Join(a.WorkDir, path)
	}

	file, err := sessionfile.Load(path)
	if err != nil {
		if errors.Is(err, sessionfile.ErrNotFound) {
			return nil, err
		}
		return nil, issue.NewErrorContext().
			WithOperation("load sessions file").
			WithResource(path).
			WithIssue(issue.SessionsFileParseErrorId).
			Wrap(err).
			BuildError()
	}

	reg := session.NewRegistry()
	if err := file.Register(reg); err != nil {
		return nil, err
	}
	a.logger.Debug("loaded sessions file", "path", file.Path, "sessions", reg.Len())
	return &project{file: file, registry: reg}, nil
}

// newBackend builds the environment backend selected by the configuration.
func (a *App) newBackend(ctx context.Context, cfg *config.Config, runner process.Runner, projectDir string) (environment.Backend, error) {
	switch cfg.Backend {
	case config.BackendNone:
		return environment.NewHostBackend(), nil
	case config.BackendContainer:
		engine, err := container.NewEngine(ctx, container.EngineType(cfg.Container.Engine))
		if err != nil {
			return nil, err
		}
		return environment.NewContainerBackend(engine, environment.ContainerConfig{
			ImageTemplate: cfg.Container.ImageTemplate,
			DefaultImage:  cfg.Container.DefaultImage,
			Workdir:       cfg.Container.Workdir,
			ProjectDir:    projectDir,
			Stderr:        a.stderr,
		}, a.logger), nil
	default:
		return environment.NewVirtualenvBackend(runner, environment.VirtualenvConfig{
			InterpreterTemplate: cfg.Virtualenv.InterpreterTemplate,
			DefaultInterpreter:  cfg.Virtualenv.DefaultInterpreter,
			Interpreters:        cfg.Virtualenv.Interpreters,
			CreateCommand:       cfg.Virtualenv.CreateCommand,
		}, environment.WithVirtualenvLogger(a.logger)), nil
	}
}

// unitsFailedError summarizes failed units. An interrupted run exits with
// the conventional SIGINT status.
func unitsFailedError(ctx context.Context, rep *report.Report) error {
	code := rep.ExitCode()
	if ctx.Err() != nil {
		code = int(process.ExitCanceled)
	}

	var failed []string
	var issueID issue.Id
	for i := range rep.Units {
		res := &rep.Units[i]
		if res.Success() {
			continue
		}
		failed = append(failed, res.Unit.ID)
		if issueID == 0 && res.Err != nil && !errors.Is(res.Err, orchestrator.ErrStepFailed) {
			issueID = classifyError(res.Err)
		}
	}
	err := fmt.Errorf("%d of %d units did not succeed: %s", len(failed), len(rep.Units), strings.Join(failed, ", "))
	return &ExitError{Code: code, Err: newServiceError(err, issueID, "")}
}

func writeReport(rep *report.Report, path, format string) error {
	f := report.FormatJSON
	if format != "" {
		parsed, err := report.ParseFormat(format)
		if err != nil {
			return err
		}
		f = parsed
	} else if parsed, err := report.ParseFormat(strings.TrimPrefix(filepath.Ext(path), ".")); err == nil {
		f = parsed
	}

	var buf bytes.Buffer
	if err := report.Export(&buf, rep, f); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func envRoot(envDir, projectDir string) string {
	if envDir == "" {
		envDir = environment.DefaultRootDir
	}
	if filepath.IsAbs(envDir) {
		return envDir
	}
	return filepath.Join(projectDir, envDir)
}

// splitPosargs separates selectors from the arguments after "--".
func splitPosargs(args []string, dash int) (selectors, posargs []string) {
	if dash < 0 {
		return args, nil
	}
	return args[:dash], args[dash:]
}

// parseAssignments parses repeated KEY=VALUE flag values.
func parseAssignments(flag string, pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, issue.NewErrorContext().
				WithOperation("parse " + flag).
				WithResource(pair).
				WithSuggestion("Use the form " + flag + " KEY=VALUE").
				BuildError()
		}
		out[key] = value
	}
	return out, nil
}
