// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/invowk/runmatrix/internal/matrix"
)

func newListCommand(app *App) *cobra.Command {
	var sessionsFile string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List sessions and their units",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.handleError(cmd, app.listSessions(cmd.Context(), sessionsFile))
		},
	}
	cmd.Flags().StringVarP(&sessionsFile, "sessions-file", "f", "", "sessions file (default: search upwards for runmatrix.cue)")
	return cmd
}

func (a *App) listSessions(_ context.Context, sessionsFile string) error {
	cfg, err := a.config()
	if err != nil {
		return err
	}
	proj, err := a.loadProject(cfg, sessionsFile)
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n\n", TitleStyle.Render("Sessions defined in"), proj.file.Path)
	for _, name := range proj.registry.Names() {
		spec, err := proj.registry.Lookup(name)
		if err != nil {
			return err
		}
		line := "* " + CmdStyle.Render(name)
		if spec.Description != "" {
			line += " - " + spec.Description
		}
		b.WriteString(line + "\n")
		if len(spec.Runtimes) > 0 {
			for _, id := range matrix.Units(spec) {
				b.WriteString("    " + SubtitleStyle.Render(id) + "\n")
			}
		}
	}

	if agg := proj.registry.Aggregate(); agg != nil && len(agg.Steps) > 0 {
		fmt.Fprintf(&b, "\n%s %s\n", TitleStyle.Render("Merge:"),
			SubtitleStyle.Render(fmt.Sprintf("%s (%d steps, runs after all units when artifacts exist)", matrix.AggregateID, len(agg.Steps))))
	}

	_, err = fmt.Fprint(a.stdout, b.String())
	return err
}
