// SPDX-License-Identifier: MPL-2.0

//go:build windows

package process

import (
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

func executableNames(program string) []string {
	if filepath.Ext(program) != "" {
		return []string{program}
	}
	exts := strings.Split(strings.ToLower(os.Getenv("PATHEXT")), ";")
	if len(exts) == 1 && exts[0] == "" {
		exts = []string{".com", ".exe", ".bat", ".cmd"}
	}
	names := make([]string, 0, len(exts))
	for _, ext := range exts {
		if ext != "" {
			names = append(names, program+ext)
		}
	}
	return names
}

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s: %w", path, fs.ErrPermission)
	}
	return nil
}

func errNotFound(program string) error {
	return &exec.Error{Name: program, Err: exec.ErrNotFound}
}
