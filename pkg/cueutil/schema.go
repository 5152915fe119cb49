// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// Schema is a compiled schema definition that user files are unified with.
// A Schema is not safe for concurrent use.
type Schema struct {
	ctx        *cue.Context
	definition cue.Value
	name       string
}

// NewSchema compiles source and looks up the named definition (e.g. "#Config").
func NewSchema(source []byte, definition string) (*Schema, error) {
	ctx := cuecontext.New()
	compiled := ctx.CompileBytes(source, cue.Filename("schema.cue"))
	if err := compiled.Err(); err != nil {
		return nil, fmt.Errorf("internal error: compile schema: %w", err)
	}
	def := compiled.LookupPath(cue.ParsePath(definition))
	if err := def.Err(); err != nil {
		return nil, fmt.Errorf("internal error: schema definition %s not found: %w", definition, err)
	}
	return &Schema{ctx: ctx, definition: def, name: definition}, nil
}

// Unify compiles data, unifies it with the schema definition and validates
// the result. Errors carry the file name and field paths.
func (s *Schema) Unify(data []byte, opts ...Option) (cue.Value, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if err := CheckFileSize(data, o.maxFileSize, o.filename); err != nil {
		return cue.Value{}, err
	}

	user := s.ctx.CompileBytes(data, cue.Filename(o.filename))
	if err := user.Err(); err != nil {
		return cue.Value{}, FormatError(err, o.filename)
	}

	unified := s.definition.Unify(user)
	if err := unified.Validate(cue.Concrete(o.concrete)); err != nil {
		return cue.Value{}, FormatError(err, o.filename)
	}
	return unified, nil
}

// Decode unifies data with the schema and decodes the result into a T.
func Decode[T any](s *Schema, data []byte, opts ...Option) (*T, cue.Value, error) {
	unified, err := s.Unify(data, opts...)
	if err != nil {
		return nil, cue.Value{}, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	var out T
	if err := unified.Decode(&out); err != nil {
		return nil, cue.Value{}, FormatError(err, o.filename)
	}
	return &out, unified, nil
}

// CheckFileSize returns an error when data exceeds maxSize bytes.
func CheckFileSize(data []byte, maxSize int64, filename string) error {
	if int64(len(data)) > maxSize {
		return &ValidationError{
			File:   filename,
			Issues: []Issue{{Message: fmt.Sprintf("file size %d bytes exceeds maximum %d bytes", len(data), maxSize)}},
		}
	}
	return nil
}
