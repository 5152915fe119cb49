// SPDX-License-Identifier: MPL-2.0

package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/invowk/runmatrix/internal/orchestrator"
)

type (
	// Styles are the lipgloss styles used by RenderText.
	Styles struct {
		Title     lipgloss.Style
		Succeeded lipgloss.Style
		Failed    lipgloss.Style
		Errored   lipgloss.Style
		Muted     lipgloss.Style
		Detail    lipgloss.Style
	}
)

// DefaultStyles uses the CLI colour palette.
func DefaultStyles() Styles {
	return Styles{
		Title:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED")),
		Succeeded: lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")),
		Failed:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#EF4444")),
		Errored:   lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B")),
		Muted:     lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")),
		Detail:    lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF")).PaddingLeft(4),
	}
}

// PlainStyles renders without colour.
func PlainStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{
		Title:     plain,
		Succeeded: plain,
		Failed:    plain,
		Errored:   plain,
		Muted:     plain,
		Detail:    plain.PaddingLeft(4),
	}
}

// Lines returns the summary lines, one per unit, followed by the merge line
// when a merge ran or was skipped.
func (r *Report) Lines() []string {
	lines := make([]string, 0, len(r.Units)+1)
	for i := range r.Units {
		lines = append(lines, unitLine(&r.Units[i]))
	}
	switch {
	case r.Merge != nil:
		lines = append(lines, "merge: "+unitLine(r.Merge))
	case r.MergeSkipped != "":
		lines = append(lines, "merge: skipped ("+r.MergeSkipped+")")
	}
	return lines
}

// RenderText writes the human-readable report.
func RenderText(w io.Writer, r *Report, s Styles) error {
	var b strings.Builder
	b.WriteString(s.Title.Render("Sessions") + "\n")
	for i := range r.Units {
		writeUnit(&b, &r.Units[i], s)
	}
	switch {
	case r.Merge != nil:
		b.WriteString(s.Title.Render("Merge") + "\n")
		writeUnit(&b, r.Merge, s)
	case r.MergeSkipped != "":
		b.WriteString(s.Muted.Render("Merge skipped: "+r.MergeSkipped) + "\n")
	}

	counts := r.Counts()
	summary := fmt.Sprintf("%d succeeded, %d failed, %d errored in %s",
		counts[orchestrator.StateSucceeded], counts[orchestrator.StateFailed], counts[orchestrator.StateErrored],
		r.Duration.Round(time.Millisecond))
	if r.Success() {
		b.WriteString(s.Succeeded.Render(summary) + "\n")
	} else {
		b.WriteString(s.Failed.Render(summary) + "\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeUnit(b *strings.Builder, res *orchestrator.UnitResult, s Styles) {
	line := "* " + unitLine(res)
	switch res.State {
	case orchestrator.StateSucceeded:
		b.WriteString(s.Succeeded.Render(line))
	case orchestrator.StateFailed:
		b.WriteString(s.Failed.Render(line))
	default:
		b.WriteString(s.Errored.Render(line))
	}
	b.WriteString("\n")

	if res.Success() {
		return
	}
	if res.Err != nil {
		b.WriteString(s.Detail.Render(res.Err.Error()) + "\n")
	}
	for line := range strings.SplitSeq(strings.TrimRight(res.Output, "\n"), "\n") {
		if line == "" {
			continue
		}
		b.WriteString(s.Detail.Render("| "+line) + "\n")
	}
}

func unitLine(res *orchestrator.UnitResult) string {
	id := "<unknown>"
	if res.Unit != nil {
		id = res.Unit.ID
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", id, res.State)
	if res.StepIndex >= 0 && !res.Success() {
		fmt.Fprintf(&b, " at step %d", res.StepIndex)
	}
	fmt.Fprintf(&b, " (%s)", res.Duration.Round(time.Millisecond))
	return b.String()
}
