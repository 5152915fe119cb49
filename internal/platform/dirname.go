// SPDX-License-Identifier: MPL-2.0

// Package platform provides cross-platform file naming helpers.
package platform

import "strings"

// windowsReservedNames cannot be used as a file or directory name on
// Windows, with or without an extension.
var windowsReservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true,
	"COM5": true, "COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true,
	"LPT5": true, "LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// IsWindowsReservedName reports whether name is reserved on Windows.
// Only the part before the first dot is significant.
func IsWindowsReservedName(name string) bool {
	base, _, _ := strings.Cut(name, ".")
	return windowsReservedNames[strings.ToUpper(base)]
}

// SafeDirName maps s to a single path element that is valid on every
// supported OS. Characters outside [A-Za-z0-9._-] become '_'; names that
// are empty, dot-only or reserved on Windows get a '_' prefix.
func SafeDirName(s string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
	if strings.Trim(name, ".") == "" || IsWindowsReservedName(name) {
		name = "_" + name
	}
	return name
}
