// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the runmatrix command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand builds the command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "runmatrix",
		Short: "Run a matrix of test, lint and docs sessions in isolated environments",
		Long: TitleStyle.Render("runmatrix") + SubtitleStyle.Render(" - session and matrix runner") + `

runmatrix reads named sessions from a 'runmatrix.cue' file, expands each
session into one unit per runtime, provisions an isolated environment per
unit, installs its dependencies and runs its steps in order.

` + SubtitleStyle.Render("Examples:") + `
  runmatrix list                      List sessions and units
  runmatrix run                       Run every session
  runmatrix run test-3.12             Run a single unit
  runmatrix run test -- tests/unit    Replace the default positional arguments
  runmatrix config show               Show the effective configuration`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			app.initialize(cmd.Context())
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&app.configPath, "config", "", "config file (default is $XDG_CONFIG_HOME/runmatrix/config.cue)")

	rootCmd.AddCommand(
		newRunCommand(app),
		newListCommand(app),
		newConfigCommand(app),
	)
	return rootCmd
}

func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI and exits the process with the resulting code.
// It is called by main.main().
func Execute() {
	app, err := NewApp(Dependencies{})
	if err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: ")+err.Error())
		os.Exit(exitUsage)
	}

	if err := fang.Execute(
		context.Background(),
		NewRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
		fang.WithErrorHandler(errorHandler),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(exitFailure)
	}
}

// errorHandler leaves ExitErrors alone; they were rendered by the command.
func errorHandler(w io.Writer, styles fang.Styles, err error) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return
	}
	fang.DefaultErrorHandler(w, styles, err)
}
