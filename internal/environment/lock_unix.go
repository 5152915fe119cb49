// SPDX-License-Identifier: MPL-2.0

//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package environment

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// fileLock holds a blocking exclusive flock. The kernel drops it when the
// descriptor closes, including on crash, so stale lock files are harmless.
type fileLock struct {
	file *os.File
}

// acquireFileLock creates path if needed and blocks until the flock is held.
func acquireFileLock(path string) (*fileLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}
	return &fileLock{file: f}, nil
}

// Release unlocks and closes the file. Later calls are no-ops.
func (l *fileLock) Release() {
	if l == nil || l.file == nil {
		return
	}
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		slog.Debug("flock unlock failed", "error", err)
	}
	if err := l.file.Close(); err != nil {
		slog.Debug("lock file close failed", "error", err)
	}
	l.file = nil
}
