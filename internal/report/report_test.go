// SPDX-License-Identifier: MPL-2.0

package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/invowk/runmatrix/internal/matrix"
	"github.com/invowk/runmatrix/internal/orchestrator"
	"github.com/invowk/runmatrix/internal/session"
)

type fakeRunner struct {
	calls []*matrix.Unit
	state orchestrator.State
}

func (f *fakeRunner) RunUnit(_ context.Context, unit *matrix.Unit) orchestrator.UnitResult {
	f.calls = append(f.calls, unit)
	state := f.state
	if state == "" {
		state = orchestrator.StateSucceeded
	}
	return orchestrator.UnitResult{Unit: unit, State: state, StepIndex: -1, StepsRun: len(unit.Steps)}
}

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func result(id string, state orchestrator.State, artifacts ...string) orchestrator.UnitResult {
	step := -1
	if state != orchestrator.StateSucceeded {
		step = 1
	}
	return orchestrator.UnitResult{
		Unit:      &matrix.Unit{ID: id, Session: strings.SplitN(id, "-", 2)[0], Artifacts: artifacts},
		State:     state,
		StepIndex: step,
	}
}

func mergeUnit() *matrix.Unit {
	return &matrix.Unit{
		ID:      matrix.AggregateID,
		Session: matrix.AggregateID,
		EnvKey:  matrix.AggregateID,
		Steps: []matrix.ResolvedStep{
			{Index: 0, Kind: session.StepRun, Args: []string{"coverage", "combine"}},
			{Index: 1, Kind: session.StepRun, Args: []string{"coverage", "report"}, Env: map[string]string{"A": "1"}},
		},
	}
}

func TestResolveArtifacts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFiles(t, dir, ".coverage.tests-3.9", ".coverage.tests-3.10", "reports/a/junit.xml", "other.txt")

	got, err := ResolveArtifacts(dir, []string{".coverage.tests-*", "reports/**/*.xml", ".coverage.tests-3.9", "missing-*"})
	if err != nil {
		t.Fatalf("ResolveArtifacts() error: %v", err)
	}
	want := []string{
		filepath.Join(dir, ".coverage.tests-3.10"),
		filepath.Join(dir, ".coverage.tests-3.9"),
		filepath.Join(dir, "reports", "a", "junit.xml"),
	}
	if !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestResolveArtifactsInvalidPattern(t *testing.T) {
	t.Parallel()

	if _, err := ResolveArtifacts(t.TempDir(), []string{"[unclosed"}); !errors.Is(err, ErrInvalidPattern) {
		t.Errorf("expected ErrInvalidPattern, got %v", err)
	}
}

func TestAggregateRunsMergeOnce(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFiles(t, dir, ".coverage.tests-3.9", ".coverage.tests-3.10")
	runner := &fakeRunner{}
	agg := NewAggregator(runner, WithBaseDir(dir))

	results := []orchestrator.UnitResult{
		result("tests-3.9", orchestrator.StateSucceeded, ".coverage.tests-3.9"),
		result("tests-3.10", orchestrator.StateSucceeded, ".coverage.tests-3.10"),
		result("lint", orchestrator.StateSucceeded),
	}
	r := agg.Aggregate(context.Background(), time.Now(), results, mergeUnit())

	if len(runner.calls) != 1 {
		t.Fatalf("expected merge to run once, got %d", len(runner.calls))
	}
	if r.Merge == nil || r.Merge.State != orchestrator.StateSucceeded {
		t.Errorf("expected successful merge, got %+v", r.Merge)
	}
	if len(r.Artifacts) != 2 {
		t.Errorf("expected 2 artifacts, got %v", r.Artifacts)
	}
	if got := r.Units[0].Artifacts; len(got) != 1 || filepath.Base(got[0]) != ".coverage.tests-3.9" {
		t.Errorf("expected unit artifacts to be recorded, got %v", got)
	}

	merged := runner.calls[0]
	wantFragments := strings.Join(r.Artifacts, string(os.PathListSeparator))
	for _, st := range merged.Steps {
		if st.Env[EnvFragments] != wantFragments {
			t.Errorf("step %d: expected %s=%q, got %q", st.Index, EnvFragments, wantFragments, st.Env[EnvFragments])
		}
	}
	if merged.Steps[1].Env["A"] != "1" {
		t.Error("expected step env to be kept")
	}
	if r.RunID == "" {
		t.Error("expected a run ID")
	}
}

func TestAggregateSkipsMergeWithoutArtifacts(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	agg := NewAggregator(runner, WithBaseDir(t.TempDir()))
	r := agg.Aggregate(context.Background(), time.Now(),
		[]orchestrator.UnitResult{result("tests-3.9", orchestrator.StateErrored, ".coverage.*")}, mergeUnit())

	if len(runner.calls) != 0 {
		t.Errorf("expected no merge run, got %d", len(runner.calls))
	}
	if r.Merge != nil || r.MergeSkipped == "" {
		t.Errorf("expected skipped merge, got merge=%v skipped=%q", r.Merge, r.MergeSkipped)
	}
}

func TestReportExitCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		states []orchestrator.State
		merge  orchestrator.State
		want   int
	}{
		{"all succeeded", []orchestrator.State{orchestrator.StateSucceeded, orchestrator.StateSucceeded}, "", 0},
		{"one failed", []orchestrator.State{orchestrator.StateSucceeded, orchestrator.StateFailed}, "", 1},
		{"one errored", []orchestrator.State{orchestrator.StateErrored, orchestrator.StateSucceeded}, "", 1},
		{"merge failure ignored", []orchestrator.State{orchestrator.StateSucceeded}, orchestrator.StateFailed, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := &Report{}
			for i, s := range tt.states {
				r.Units = append(r.Units, result("u"+string(rune('a'+i)), s))
			}
			if tt.merge != "" {
				m := result(matrix.AggregateID, tt.merge)
				r.Merge = &m
			}
			if got := r.ExitCode(); got != tt.want {
				t.Errorf("expected exit code %d, got %d", tt.want, got)
			}
		})
	}
}

func TestRenderText(t *testing.T) {
	t.Parallel()

	failed := result("lint", orchestrator.StateFailed)
	failed.Err = errors.New("unit lint: step 1 (flake8) exited with code 1")
	failed.Output = "E501 line too long\n"
	r := &Report{
		Units:        []orchestrator.UnitResult{result("tests-3.9", orchestrator.StateSucceeded), failed},
		MergeSkipped: "no artifacts were produced",
		Duration:     1500 * time.Millisecond,
	}

	var buf bytes.Buffer
	if err := RenderText(&buf, r, PlainStyles()); err != nil {
		t.Fatalf("RenderText() error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"* tests-3.9: succeeded",
		"* lint: failed at step 1",
		"    | E501 line too long",
		"Merge skipped: no artifacts were produced",
		"1 succeeded, 1 failed, 0 errored in 1.5s",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out)
		}
	}

	lines := r.Lines()
	if len(lines) != 3 || !strings.HasPrefix(lines[2], "merge: skipped") {
		t.Errorf("unexpected summary lines %v", lines)
	}
}

func TestExport(t *testing.T) {
	t.Parallel()

	failed := result("tests-3.10", orchestrator.StateErrored)
	failed.Err = errors.New("install failed")
	r := &Report{
		RunID:     "run-1",
		StartedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Units:     []orchestrator.UnitResult{result("tests-3.9", orchestrator.StateSucceeded), failed},
	}

	var jsonOut bytes.Buffer
	if err := Export(&jsonOut, r, FormatJSON); err != nil {
		t.Fatalf("Export(json) error: %v", err)
	}
	var doc document
	if err := json.Unmarshal(jsonOut.Bytes(), &doc); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if doc.RunID != "run-1" || doc.Success || len(doc.Units) != 2 {
		t.Errorf("unexpected JSON document: %+v", doc)
	}
	if doc.Units[1].State != "errored" || doc.Units[1].Error != "install failed" {
		t.Errorf("unexpected unit record: %+v", doc.Units[1])
	}

	var yamlOut bytes.Buffer
	if err := Export(&yamlOut, r, FormatYAML); err != nil {
		t.Fatalf("Export(yaml) error: %v", err)
	}
	var ydoc map[string]any
	if err := yaml.Unmarshal(yamlOut.Bytes(), &ydoc); err != nil {
		t.Fatalf("invalid YAML: %v", err)
	}
	if ydoc["run_id"] != "run-1" || ydoc["success"] != false {
		t.Errorf("unexpected YAML document: %v", ydoc)
	}
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"json", FormatJSON, false},
		{"yaml", FormatYAML, false},
		{"yml", FormatYAML, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidFormat) {
				t.Errorf("ParseFormat(%q): expected ErrInvalidFormat, got %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}
