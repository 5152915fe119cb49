// SPDX-License-Identifier: MPL-2.0

package process

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"testing"
	"time"
)

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if goruntime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecRunner_Success(t *testing.T) {
	skipWithoutShell(t)
	t.Parallel()

	var stdout bytes.Buffer
	r := NewExecRunner()
	res, err := r.Run(t.Context(), Command{
		Program: "sh",
		Args:    []string{"-c", "echo hello"},
		Stdout:  &stdout,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", res.ExitCode)
	}
	if strings.TrimSpace(stdout.String()) != "hello" {
		t.Errorf("expected streamed output %q, got %q", "hello", stdout.String())
	}
	if res.Output != "hello\n" {
		t.Errorf("expected tail %q, got %q", "hello\n", res.Output)
	}
	if res.Canceled {
		t.Error("expected Canceled false")
	}
}

func TestExecRunner_NonzeroExitIsNotAnError(t *testing.T) {
	skipWithoutShell(t)
	t.Parallel()

	res, err := NewExecRunner().Run(t.Context(), Command{
		Program: "sh",
		Args:    []string{"-c", "echo boom >&2; exit 3"},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", res.ExitCode)
	}
	if !strings.Contains(res.Output, "boom") {
		t.Errorf("expected stderr in tail, got %q", res.Output)
	}
}

func TestExecRunner_MissingProgram(t *testing.T) {
	t.Parallel()

	_, err := NewExecRunner().Run(t.Context(), Command{Program: "runmatrix-definitely-missing-program"})
	if !errors.Is(err, ErrExecution) {
		t.Fatalf("expected ErrExecution, got %v", err)
	}
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected *ExecutionError, got %T", err)
	}
	if execErr.Program != "runmatrix-definitely-missing-program" {
		t.Errorf("expected program name in error, got %q", execErr.Program)
	}
	if !errors.Is(err, exec.ErrNotFound) {
		t.Errorf("expected exec.ErrNotFound in chain, got %v", err)
	}
}

func TestExecRunner_EmptyProgram(t *testing.T) {
	t.Parallel()

	_, err := NewExecRunner().Run(t.Context(), Command{})
	if !errors.Is(err, ErrExecution) {
		t.Errorf("expected ErrExecution, got %v", err)
	}
}

func TestExecRunner_EnvOverridesDoNotLeak(t *testing.T) {
	skipWithoutShell(t)
	t.Parallel()

	const key = "RUNMATRIX_PROCESS_TEST_VAR"
	r := NewExecRunner(WithHostEnviron(func() []string {
		return []string{"PATH=" + os.Getenv("PATH"), key + "=host"}
	}))

	res, err := r.Run(t.Context(), Command{
		Program: "sh",
		Args:    []string{"-c", "echo $" + key},
		Env:     map[string]string{key: "override"},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.TrimSpace(res.Output) != "override" {
		t.Errorf("expected override in child, got %q", res.Output)
	}

	res, err = r.Run(t.Context(), Command{Program: "sh", Args: []string{"-c", "echo $" + key}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.TrimSpace(res.Output) != "host" {
		t.Errorf("expected host value in sibling invocation, got %q", res.Output)
	}
	if _, ok := os.LookupEnv(key); ok {
		t.Errorf("expected %s to stay unset in the test process", key)
	}
}

func TestExecRunner_Dir(t *testing.T) {
	skipWithoutShell(t)
	t.Parallel()

	dir := t.TempDir()
	res, err := NewExecRunner().Run(t.Context(), Command{
		Program: "sh",
		Args:    []string{"-c", "pwd"},
		Dir:     dir,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	got, _ := filepath.EvalSymlinks(strings.TrimSpace(res.Output))
	want, _ := filepath.EvalSymlinks(dir)
	if got != want {
		t.Errorf("expected working dir %q, got %q", want, got)
	}
}

func TestExecRunner_PathPrependResolvesProgram(t *testing.T) {
	skipWithoutShell(t)
	t.Parallel()

	bin := t.TempDir()
	script := filepath.Join(bin, "envtool")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho from-env-bin\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	res, err := NewExecRunner().Run(t.Context(), Command{
		Program:     "envtool",
		PathPrepend: []string{bin},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.TrimSpace(res.Output) != "from-env-bin" {
		t.Errorf("expected output from prepended bin dir, got %q", res.Output)
	}
}

func TestExecRunner_TailLines(t *testing.T) {
	skipWithoutShell(t)
	t.Parallel()

	res, err := NewExecRunner(WithTailLines(50)).Run(t.Context(), Command{
		Program:   "sh",
		Args:      []string{"-c", "for i in 1 2 3 4 5; do echo line$i; done"},
		TailLines: 2,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Output != "line4\nline5\n" {
		t.Errorf("expected last two lines, got %q", res.Output)
	}
}

func TestExecRunner_Cancel(t *testing.T) {
	skipWithoutShell(t)
	t.Parallel()

	ctx, cancel := context.WithTimeout(t.Context(), 200*time.Millisecond)
	defer cancel()

	r := NewExecRunner(WithWaitDelay(time.Second))
	start := time.Now()
	res, err := r.Run(ctx, Command{Program: "sh", Args: []string{"-c", "sleep 30"}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.Canceled {
		t.Error("expected Canceled true")
	}
	if res.ExitCode != ExitCanceled {
		t.Errorf("expected exit code %d, got %d", ExitCanceled, res.ExitCode)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("expected prompt termination, took %v", elapsed)
	}
}
