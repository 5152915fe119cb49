// SPDX-License-Identifier: MPL-2.0

// Package cueutil validates user CUE files against embedded schemas.
//
// Parsing follows three steps: compile the schema once, compile and unify
// user data with a schema definition, then validate and decode.
//
//	//go:embed schema.cue
//	var schemaSource []byte
//
//	schema, err := cueutil.NewSchema(schemaSource, "#SessionsFile")
//	...
//	value, err := schema.Unify(data, cueutil.WithFilename("runmatrix.cue"))
package cueutil
