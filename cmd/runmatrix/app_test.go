// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/invowk/runmatrix/internal/config"
	"github.com/invowk/runmatrix/internal/issue"
	"github.com/invowk/runmatrix/internal/matrix"
	"github.com/invowk/runmatrix/internal/orchestrator"
	"github.com/invowk/runmatrix/internal/report"
)

type stubProvider struct {
	cfg *config.Config
	err error
}

func (p *stubProvider) Load(context.Context, config.LoadOptions) (*config.Config, error) {
	return p.cfg, p.err
}

// Tests calling initialize replace the default slog logger and must not run in parallel.

func newTestApp(t *testing.T, provider config.Provider) (*App, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app, err := NewApp(Dependencies{Config: provider, WorkDir: t.TempDir(), Stdout: &stdout, Stderr: &stderr})
	if err != nil {
		t.Fatalf("NewApp() error: %v", err)
	}
	return app, &stdout, &stderr
}

func TestGetVersionString(t *testing.T) {
	t.Parallel()

	if got := getVersionString(); !strings.HasPrefix(got, "dev") {
		t.Errorf("expected dev version string, got %q", got)
	}
}

func TestSplitPosargs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		args          []string
		dash          int
		wantSelectors []string
		wantPosargs   []string
	}{
		{"no dash", []string{"test", "lint"}, -1, []string{"test", "lint"}, nil},
		{"dash after selector", []string{"test", "test/test_foo.py"}, 1, []string{"test"}, []string{"test/test_foo.py"}},
		{"dash first", []string{"-k", "slow"}, 0, []string{}, []string{"-k", "slow"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			selectors, posargs := splitPosargs(tt.args, tt.dash)
			if !slices.Equal(selectors, tt.wantSelectors) {
				t.Errorf("expected selectors %v, got %v", tt.wantSelectors, selectors)
			}
			if !slices.Equal(posargs, tt.wantPosargs) {
				t.Errorf("expected posargs %v, got %v", tt.wantPosargs, posargs)
			}
		})
	}
}

func TestParseAssignments(t *testing.T) {
	t.Parallel()

	got, err := parseAssignments("--env", []string{"A=1", "B=x=y", "C="})
	if err != nil {
		t.Fatalf("parseAssignments() error: %v", err)
	}
	want := map[string]string{"A": "1", "B": "x=y", "C": ""}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("expected %s=%q, got %q", k, v, got[k])
		}
	}

	if got, err := parseAssignments("--env", nil); err != nil || got != nil {
		t.Errorf("expected nil map and no error, got %v, %v", got, err)
	}

	for _, bad := range []string{"NOEQUALS", "=value"} {
		_, err := parseAssignments("--param", []string{bad})
		var ae *issue.ActionableError
		if !errors.As(err, &ae) {
			t.Fatalf("expected ActionableError for %q, got %v", bad, err)
		}
		if ae.Resource != bad {
			t.Errorf("expected resource %q, got %q", bad, ae.Resource)
		}
	}
}

func TestEnvRoot(t *testing.T) {
	t.Parallel()

	project := filepath.Join(string(filepath.Separator), "src", "proj")
	abs := filepath.Join(string(filepath.Separator), "var", "envs")
	tests := []struct {
		envDir string
		want   string
	}{
		{"", filepath.Join(project, ".runmatrix")},
		{"envs", filepath.Join(project, "envs")},
		{abs, abs},
	}
	for _, tt := range tests {
		if got := envRoot(tt.envDir, project); got != tt.want {
			t.Errorf("envRoot(%q): expected %q, got %q", tt.envDir, tt.want, got)
		}
	}
}

func TestWriteReport(t *testing.T) {
	t.Parallel()

	rep := &report.Report{
		RunID:     "run-1",
		StartedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Units: []orchestrator.UnitResult{
			{Unit: &matrix.Unit{ID: "test-3.9", Session: "test", Runtime: "3.9"}, State: orchestrator.StateSucceeded, StepIndex: -1},
		},
	}
	dir := t.TempDir()

	tests := []struct {
		file   string
		format string
		marker string
	}{
		{"r.json", "", `"run_id": "run-1"`},
		{"r.yaml", "", "run_id: run-1"},
		{"r.txt", "", `"run_id": "run-1"`},
		{"r.out", "yml", "run_id: run-1"},
	}
	for _, tt := range tests {
		path := filepath.Join(dir, tt.file)
		if err := writeReport(rep, path, tt.format); err != nil {
			t.Fatalf("writeReport(%s) error: %v", tt.file, err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(data), tt.marker) {
			t.Errorf("%s: expected %q in %q", tt.file, tt.marker, data)
		}
	}

	if err := writeReport(rep, filepath.Join(dir, "r.xml"), "xml"); !errors.Is(err, report.ErrInvalidFormat) {
		t.Errorf("expected ErrInvalidFormat, got %v", err)
	}
}

func TestHandleError(t *testing.T) {
	t.Parallel()

	app, _, stderr := newTestApp(t, &stubProvider{cfg: config.DefaultConfig()})
	cmd := &cobra.Command{}

	if err := app.handleError(cmd, nil); err != nil {
		t.Errorf("expected nil, got %v", err)
	}

	bare := &ExitError{Code: 3}
	if got := app.handleError(cmd, bare); got != bare {
		t.Errorf("expected bare ExitError to pass through, got %v", got)
	}
	if stderr.Len() != 0 {
		t.Errorf("expected no output for bare ExitError, got %q", stderr.String())
	}

	cause := issue.NewErrorContext().
		WithOperation("load sessions file").
		WithSuggestion("Check the path").
		Wrap(errors.New("boom")).
		BuildError()
	err := app.handleError(cmd, cause)
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != exitUsage {
		t.Fatalf("expected ExitError with code %d, got %v", exitUsage, err)
	}
	if !cmd.SilenceErrors || !cmd.SilenceUsage {
		t.Error("expected errors and usage to be silenced")
	}
	out := stderr.String()
	if !strings.Contains(out, "failed to load sessions file: boom") || !strings.Contains(out, "• Check the path") {
		t.Errorf("expected formatted actionable error, got %q", out)
	}
}

func TestInitializeRemembersConfigError(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	loadErr := errors.New("bad config")
	app, _, _ := newTestApp(t, &stubProvider{err: loadErr})
	app.initialize(context.Background())

	if _, err := app.config(); !errors.Is(err, loadErr) {
		t.Errorf("expected load error, got %v", err)
	}
	if app.logger == nil {
		t.Error("expected a logger even when the configuration failed")
	}
}

func TestInitializeAppliesVerbose(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	cfg := config.DefaultConfig()
	cfg.UI.Verbose = true
	app, _, stderr := newTestApp(t, &stubProvider{cfg: cfg})
	app.initialize(context.Background())

	if !app.verbose {
		t.Error("expected verbose from configuration")
	}
	got, err := app.config()
	if err != nil || got != cfg {
		t.Errorf("expected loaded config, got %v, %v", got, err)
	}
	app.logger.Debug("probe message")
	if !strings.Contains(stderr.String(), "probe message") {
		t.Errorf("expected debug output in verbose mode, got %q", stderr.String())
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := newLogger(&buf, config.LogConfig{Level: config.LogLevelWarn, Format: config.LogFormatText}, false)
	logger.Info("hidden")
	logger.Warn("shown", "unit", "test-3.9")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("expected info to be filtered at warn level, got %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "test-3.9") {
		t.Errorf("expected warn record with attributes, got %q", out)
	}

	buf.Reset()
	logger = newLogger(&buf, config.LogConfig{Level: config.LogLevelInfo, Format: config.LogFormatJSON}, false)
	logger.Info("json record")
	if !strings.Contains(buf.String(), `"msg":"json record"`) {
		t.Errorf("expected JSON output, got %q", buf.String())
	}
	if !logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("expected info level to be enabled")
	}
}

func TestUnitsFailedError(t *testing.T) {
	t.Parallel()

	rep := &report.Report{Units: []orchestrator.UnitResult{
		{Unit: &matrix.Unit{ID: "ok"}, State: orchestrator.StateSucceeded, StepIndex: -1},
		{Unit: &matrix.Unit{ID: "broken"}, State: orchestrator.StateFailed, StepIndex: 1, Err: &orchestrator.StepFailure{Unit: "broken", StepIndex: 1}},
	}}

	err := unitsFailedError(context.Background(), rep)
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != exitFailure {
		t.Fatalf("expected ExitError with code %d, got %v", exitFailure, err)
	}
	if !strings.Contains(err.Error(), "1 of 2 units did not succeed: broken") {
		t.Errorf("unexpected message %q", err.Error())
	}
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) || svcErr.IssueID != 0 {
		t.Errorf("expected no issue for step failures, got %+v", svcErr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = unitsFailedError(ctx, rep)
	if !errors.As(err, &exitErr) || exitErr.Code != 130 {
		t.Errorf("expected interrupted exit code 130, got %v", err)
	}
}
