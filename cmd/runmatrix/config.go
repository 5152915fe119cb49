// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/invowk/runmatrix/internal/config"
)

// newConfigCommand creates the `runmatrix config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage runmatrix configuration",
		Long: `Manage runmatrix configuration.

Configuration is read from the first of:
  - the file given with --config
  - ` + filepath.Join("<user config dir>", config.AppName, config.ConfigFileName+"."+config.ConfigFileExt) + `
  - ./` + config.LocalConfigFile + `

Every key can be overridden with a ` + config.EnvPrefix + `_* environment variable,
for example ` + config.EnvPrefix + `_BACKEND=none.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as CUE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.handleError(cmd, app.showConfig(cmd.Context()))
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.handleError(cmd, app.initConfig(force))
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing configuration file")
	cfgCmd.AddCommand(initCmd)

	return cfgCmd
}

func (a *App) showConfig(ctx context.Context) error {
	if _, err := a.config(); err != nil {
		return err
	}
	loaded, err := config.LoadWithSource(ctx, a.loadOptions())
	if err != nil {
		return err
	}

	source := SubtitleStyle.Render("(using defaults)")
	if loaded.Path != "" {
		source = loaded.Path
	}
	fmt.Fprintf(a.stderr, "%s: %s\n\n", CmdStyle.Render("Config file"), source)
	_, err = fmt.Fprint(a.stdout, config.GenerateCUE(loaded.Config))
	return err
}

func (a *App) initConfig(force bool) error {
	path, created, err := config.CreateDefaultConfig(a.configPath, force)
	if err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}
	if !created {
		fmt.Fprintf(a.stdout, "%s Configuration already exists at %s (use --force to overwrite)\n", WarningStyle.Render("!"), path)
		return nil
	}
	fmt.Fprintf(a.stdout, "%s Created default configuration at %s\n", SuccessStyle.Render("✓"), path)
	return nil
}
