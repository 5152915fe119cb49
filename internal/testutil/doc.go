// SPDX-License-Identifier: MPL-2.0

// Package testutil provides helpers shared by package tests.
//
// The schema sync helpers compare the fields of an embedded CUE definition
// with the json tags of the Go struct it decodes into, so a field added on
// one side and forgotten on the other fails a test instead of being silently
// dropped at decode time.
package testutil
