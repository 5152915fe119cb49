// SPDX-License-Identifier: MPL-2.0

//go:build !windows

package process

import (
	"fmt"
	"io/fs"
	"os"
	"os/exec"
)

func executableNames(program string) []string { return []string{program} }

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s: %w", path, fs.ErrPermission)
	}
	if info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("%s: %w", path, fs.ErrPermission)
	}
	return nil
}

func errNotFound(program string) error {
	return &exec.Error{Name: program, Err: exec.ErrNotFound}
}
