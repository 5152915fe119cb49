// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/invowk/runmatrix/internal/config"
	"github.com/invowk/runmatrix/internal/issue"
)

type (
	// App is the composition root of the CLI. Cobra handlers receive it and
	// reach configuration, output streams and the logger through it.
	App struct {
		Config  config.Provider
		WorkDir string
		stdout  io.Writer
		stderr  io.Writer

		configPath string
		verbose    bool

		cfg    *config.Config
		cfgErr error
		logger *slog.Logger
	}

	// Dependencies are the injection points for NewApp. Nil fields get
	// production defaults.
	Dependencies struct {
		Config  config.Provider
		WorkDir string
		Stdout  io.Writer
		Stderr  io.Writer
	}
)

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) (*App, error) {
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	if deps.WorkDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		deps.WorkDir = wd
	}
	return &App{
		Config:  deps.Config,
		WorkDir: deps.WorkDir,
		stdout:  deps.Stdout,
		stderr:  deps.Stderr,
		logger:  slog.Default(),
	}, nil
}

func (a *App) loadOptions() config.LoadOptions {
	return config.LoadOptions{ConfigFilePath: a.configPath, WorkDir: a.WorkDir}
}

// initialize loads the configuration once per invocation and installs the
// logger. A broken configuration is remembered and reported by the commands
// that need it, so `config init --force` can still repair it.
func (a *App) initialize(ctx context.Context) {
	cfg, err := a.Config.Load(ctx, a.loadOptions())
	if err != nil {
		a.cfgErr = err
		cfg = config.DefaultConfig()
	} else {
		a.cfg = cfg
	}
	if !a.verbose {
		a.verbose = cfg.UI.Verbose
	}
	a.logger = newLogger(a.stderr, cfg.Log, a.verbose)
	slog.SetDefault(a.logger)
}

// config returns the loaded configuration or the load error.
func (a *App) config() (*config.Config, error) {
	if a.cfgErr != nil {
		return nil, a.cfgErr
	}
	if a.cfg == nil {
		return nil, errors.New("configuration was not loaded")
	}
	return a.cfg, nil
}

// handleError renders err for the user and converts it into an ExitError so
// fang does not print it a second time.
func (a *App) handleError(cmd *cobra.Command, err error) error {
	if err == nil {
		return nil
	}
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Err == nil {
		return err
	}

	svcErr := asServiceError(err)
	fmt.Fprintln(a.stderr, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, a.verbose))
	renderServiceError(a.stderr, svcErr)

	if exitErr != nil {
		return exitErr
	}
	return &ExitError{Code: exitUsage, Err: err}
}

// formatErrorForDisplay uses the ActionableError formatting when available.
func formatErrorForDisplay(err error, verbose bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verbose)
	}
	return err.Error()
}
