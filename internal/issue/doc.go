// SPDX-License-Identifier: MPL-2.0

// Package issue catalogs the problems runmatrix users run into and how to
// fix them.
//
// Each catalog entry carries Markdown help rendered with glamour. Errors built
// with ErrorContext name the failed operation, the resource involved and
// suggested fixes, and may link to a catalog entry that the CLI prints below
// the error message.
package issue
