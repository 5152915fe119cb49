// SPDX-License-Identifier: MPL-2.0

//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package environment

// fileLock is a no-op where flock is unavailable; the in-process mutex
// still serializes installs within one runmatrix process.
type fileLock struct{}

func acquireFileLock(string) (*fileLock, error) { return &fileLock{}, nil }

// Release is a no-op.
func (l *fileLock) Release() {}
