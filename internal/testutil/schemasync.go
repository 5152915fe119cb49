// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"reflect"
	"slices"
	"strings"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// CUEFields returns the regular fields of definition in source, mapped to
// whether each is optional. Hidden fields and nested definitions are skipped.
func CUEFields(t testing.TB, source []byte, definition string) map[string]bool {
	t.Helper()

	schema := cuecontext.New().CompileBytes(source)
	if err := schema.Err(); err != nil {
		t.Fatalf("failed to compile CUE schema: %v", err)
	}
	def := schema.LookupPath(cue.ParsePath(definition))
	if err := def.Err(); err != nil {
		t.Fatalf("failed to lookup CUE definition %s: %v", definition, err)
	}

	iter, err := def.Fields(cue.Definitions(false), cue.Optional(true))
	if err != nil {
		t.Fatalf("failed to iterate fields of %s: %v", definition, err)
	}
	fields := make(map[string]bool)
	for iter.Next() {
		sel := iter.Selector()
		if sel.LabelType().IsHidden() || sel.IsDefinition() {
			continue
		}
		fields[strings.TrimSuffix(sel.String(), "?")] = iter.IsOptional()
	}
	return fields
}

// JSONFields returns the json tag names of typ's exported fields, mapped to
// whether the tag carries omitempty. Fields tagged "-" are skipped.
func JSONFields(t testing.TB, typ reflect.Type) map[string]bool {
	t.Helper()

	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		t.Fatalf("expected struct type, got %s", typ.Kind())
	}

	fields := make(map[string]bool)
	for i := range typ.NumField() {
		field := typ.Field(i)
		if !field.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		fields[name] = slices.Contains(strings.Split(opts, ","), "omitempty")
	}
	return fields
}

// AssertFieldsSync fails t for every field present on only one side.
func AssertFieldsSync(t testing.TB, name string, cueFields, goFields map[string]bool) {
	t.Helper()

	for field := range cueFields {
		if _, ok := goFields[field]; !ok {
			t.Errorf("[%s] CUE field %q not found in Go struct (missing JSON tag)", name, field)
		}
	}
	for field := range goFields {
		if _, ok := cueFields[field]; !ok {
			t.Errorf("[%s] Go JSON tag %q not found in CUE schema (missing CUE field)", name, field)
		}
	}
}
