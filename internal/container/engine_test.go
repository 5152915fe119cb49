// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"slices"
	"testing"
)

func TestEngineTypeValidate(t *testing.T) {
	t.Parallel()

	for _, et := range []EngineType{EngineTypeDocker, EngineTypePodman} {
		if err := et.Validate(); err != nil {
			t.Errorf("expected %q to be valid, got %v", et, err)
		}
	}
	if err := EngineType("lxc").Validate(); !errors.Is(err, ErrInvalidEngineType) {
		t.Errorf("expected ErrInvalidEngineType, got %v", err)
	}
	if _, err := NewEngine(t.Context(), "lxc"); !errors.Is(err, ErrInvalidEngineType) {
		t.Errorf("expected NewEngine to reject lxc, got %v", err)
	}
}

func TestStartArgs(t *testing.T) {
	t.Parallel()

	e := NewDockerEngine(WithBinaryPath("/usr/bin/docker"))
	got := e.StartArgs(StartOptions{
		Image:   "python:3.9",
		Name:    "runmatrix-test-3.9",
		WorkDir: "/workspace",
		Volumes: []string{"/proj:/workspace"},
		Env:     map[string]string{"B": "2", "A": "1"},
		Labels:  map[string]string{"runmatrix.unit": "test-3.9"},
	})
	want := []string{
		"run", "-d", "--rm",
		"--name", "runmatrix-test-3.9",
		"-w", "/workspace",
		"--label", "runmatrix.unit=test-3.9",
		"-e", "A=1", "-e", "B=2",
		"-v", "/proj:/workspace",
		"python:3.9", "sleep", "infinity",
	}
	if !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestExecArgs(t *testing.T) {
	t.Parallel()

	e := NewDockerEngine(WithBinaryPath("/usr/bin/docker"))
	got := e.ExecArgs("abc123", []string{"pytest", "-q"}, ExecOptions{
		WorkDir: "/workspace/docs",
		Env:     map[string]string{"PYTHONWARNINGS": "error"},
	})
	want := []string{"exec", "-w", "/workspace/docs", "-e", "PYTHONWARNINGS=error", "abc123", "pytest", "-q"}
	if !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestPodmanStartArgsKeepUserNamespace(t *testing.T) {
	t.Parallel()

	e := NewPodmanEngine(WithBinaryPath("/usr/bin/podman"))
	got := e.StartArgs(StartOptions{Image: "python:3"})
	if len(got) < 2 || got[0] != "run" || got[1] != "--userns=keep-id" {
		t.Errorf("expected --userns=keep-id after run, got %v", got)
	}

	already := keepUserNamespace([]string{"run", "--userns=host", "img"})
	if slices.Contains(already, "--userns=keep-id") {
		t.Errorf("expected explicit userns to be kept, got %v", already)
	}
	if got := keepUserNamespace([]string{"exec", "id"}); !slices.Equal(got, []string{"exec", "id"}) {
		t.Errorf("expected non-run args untouched, got %v", got)
	}
}

func TestAddSELinuxLabel(t *testing.T) {
	// Mutates the package-level enforce path.
	dir := t.TempDir()
	enforce := filepath.Join(dir, "enforce")
	orig := selinuxEnforcePath
	selinuxEnforcePath = enforce
	t.Cleanup(func() { selinuxEnforcePath = orig })

	if got := addSELinuxLabel("/a:/b"); got != "/a:/b" {
		t.Errorf("expected no label without SELinux, got %q", got)
	}

	if err := os.WriteFile(enforce, []byte("1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	tests := []struct{ in, want string }{
		{"/a:/b", "/a:/b:z"},
		{"/a:/b:ro", "/a:/b:ro,z"},
		{"/a:/b:Z", "/a:/b:Z"},
		{"named", "named"},
	}
	for _, tt := range tests {
		if got := addSELinuxLabel(tt.in); got != tt.want {
			t.Errorf("addSELinuxLabel(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

// fakeEngineCommand returns a command factory that runs script with sh
// instead of the engine binary and records the engine arguments.
func fakeEngineCommand(t *testing.T, script string, seen *[]string) ExecCommandFunc {
	t.Helper()
	return func(ctx context.Context, _ string, arg ...string) *exec.Cmd {
		*seen = append([]string(nil), arg...)
		return exec.CommandContext(ctx, "sh", "-c", script)
	}
}

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if goruntime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func TestStartAndRemove(t *testing.T) {
	skipWithoutShell(t)
	t.Parallel()

	var seen []string
	e := NewDockerEngine(WithBinaryPath("docker"), WithExecCommand(fakeEngineCommand(t, "echo 0123abcd", &seen)))

	id, err := e.Start(t.Context(), StartOptions{Image: "python:3"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if id != "0123abcd" {
		t.Errorf("expected container ID 0123abcd, got %q", id)
	}
	if seen[0] != "run" {
		t.Errorf("expected run invocation, got %v", seen)
	}

	if err := e.Remove(t.Context(), id); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if !slices.Equal(seen, []string{"rm", "-f", "0123abcd"}) {
		t.Errorf("expected rm -f invocation, got %v", seen)
	}
}

func TestStart_Failure(t *testing.T) {
	skipWithoutShell(t)
	t.Parallel()

	var seen []string
	e := NewDockerEngine(WithBinaryPath("docker"), WithExecCommand(fakeEngineCommand(t, "echo 'no such image' >&2; exit 125", &seen)))
	if _, err := e.Start(t.Context(), StartOptions{Image: "missing:latest"}); err == nil {
		t.Error("expected error from failing engine")
	}

	empty := NewDockerEngine(WithBinaryPath("docker"), WithExecCommand(fakeEngineCommand(t, "true", &seen)))
	if _, err := empty.Start(t.Context(), StartOptions{Image: "x"}); err == nil {
		t.Error("expected error when no container ID is printed")
	}
}

func TestMissingBinary(t *testing.T) {
	t.Parallel()

	e := NewPodmanEngine(WithBinaryPath(""))
	if e.Available(t.Context()) {
		t.Error("expected unavailable engine without binary")
	}
	if _, err := e.Start(t.Context(), StartOptions{Image: "x"}); !errors.Is(err, ErrEngineNotAvailable) {
		t.Errorf("expected ErrEngineNotAvailable, got %v", err)
	}
	if err := e.Remove(t.Context(), "id"); !errors.Is(err, ErrEngineNotAvailable) {
		t.Errorf("expected ErrEngineNotAvailable, got %v", err)
	}
}
