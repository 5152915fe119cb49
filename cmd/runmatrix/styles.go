// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/invowk/runmatrix/internal/report"
)

// Shared palette for CLI output, tuned for dark terminals.
const (
	ColorPrimary   = lipgloss.Color("#7C3AED")
	ColorMuted     = lipgloss.Color("#6B7280")
	ColorSuccess   = lipgloss.Color("#10B981")
	ColorError     = lipgloss.Color("#EF4444")
	ColorWarning   = lipgloss.Color("#F59E0B")
	ColorHighlight = lipgloss.Color("#3B82F6")
	ColorVerbose   = lipgloss.Color("#9CA3AF")
)

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	SubtitleStyle = lipgloss.NewStyle().
			Foreground(ColorMuted)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	ErrorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorError)

	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	// CmdStyle highlights session names, unit IDs and config keys.
	CmdStyle = lipgloss.NewStyle().
			Foreground(ColorHighlight)

	VerboseStyle = lipgloss.NewStyle().
			Foreground(ColorVerbose)
)

// reportStyles maps the palette onto the report renderer.
func reportStyles(color bool) report.Styles {
	if !color {
		return report.PlainStyles()
	}
	return report.Styles{
		Title:     TitleStyle,
		Succeeded: SuccessStyle,
		Failed:    ErrorStyle,
		Errored:   WarningStyle,
		Muted:     SubtitleStyle,
		Detail:    VerboseStyle.PaddingLeft(4),
	}
}
