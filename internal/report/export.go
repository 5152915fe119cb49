// SPDX-License-Identifier: MPL-2.0

package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/invowk/runmatrix/internal/orchestrator"
)

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ErrInvalidFormat is the sentinel wrapped by InvalidFormatError.
var ErrInvalidFormat = errors.New("invalid report format")

type (
	// Format is a machine-readable report encoding.
	Format string

	// InvalidFormatError is returned for formats other than json or yaml.
	InvalidFormatError struct {
		Value string
	}

	document struct {
		RunID      string       `json:"run_id" yaml:"run_id"`
		StartedAt  time.Time    `json:"started_at" yaml:"started_at"`
		DurationMS int64        `json:"duration_ms" yaml:"duration_ms"`
		Success    bool         `json:"success" yaml:"success"`
		Units      []unitRecord `json:"units" yaml:"units"`
		Merge      *unitRecord  `json:"merge,omitempty" yaml:"merge,omitempty"`
		MergeNote  string       `json:"merge_skipped,omitempty" yaml:"merge_skipped,omitempty"`
		Artifacts  []string     `json:"artifacts" yaml:"artifacts"`
	}

	unitRecord struct {
		ID         string   `json:"id" yaml:"id"`
		Session    string   `json:"session" yaml:"session"`
		Runtime    string   `json:"runtime,omitempty" yaml:"runtime,omitempty"`
		State      string   `json:"state" yaml:"state"`
		StepIndex  int      `json:"step_index" yaml:"step_index"`
		StepsRun   int      `json:"steps_run" yaml:"steps_run"`
		Error      string   `json:"error,omitempty" yaml:"error,omitempty"`
		Output     string   `json:"output,omitempty" yaml:"output,omitempty"`
		Artifacts  []string `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
		DurationMS int64    `json:"duration_ms" yaml:"duration_ms"`
	}
)

// Error implements the error interface.
func (e *InvalidFormatError) Error() string {
	return fmt.Sprintf("invalid report format %q (valid: json, yaml)", e.Value)
}

// Unwrap returns ErrInvalidFormat.
func (e *InvalidFormatError) Unwrap() error { return ErrInvalidFormat }

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatJSON, FormatYAML:
		return f, nil
	case "yml":
		return FormatYAML, nil
	default:
		return "", &InvalidFormatError{Value: s}
	}
}

// Export writes r in the given format.
func Export(w io.Writer, r *Report, f Format) error {
	doc := toDocument(r)
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	default:
		return &InvalidFormatError{Value: string(f)}
	}
}

func toDocument(r *Report) document {
	doc := document{
		RunID:      r.RunID,
		StartedAt:  r.StartedAt.UTC(),
		DurationMS: r.Duration.Milliseconds(),
		Success:    r.Success(),
		Units:      make([]unitRecord, 0, len(r.Units)),
		MergeNote:  r.MergeSkipped,
		Artifacts:  r.Artifacts,
	}
	if doc.Artifacts == nil {
		doc.Artifacts = []string{}
	}
	for i := range r.Units {
		doc.Units = append(doc.Units, toRecord(&r.Units[i]))
	}
	if r.Merge != nil {
		rec := toRecord(r.Merge)
		doc.Merge = &rec
	}
	return doc
}

func toRecord(res *orchestrator.UnitResult) unitRecord {
	rec := unitRecord{
		State:      res.State.String(),
		StepIndex:  res.StepIndex,
		StepsRun:   res.StepsRun,
		Artifacts:  res.Artifacts,
		DurationMS: res.Duration.Milliseconds(),
	}
	if res.Unit != nil {
		rec.ID = res.Unit.ID
		rec.Session = res.Unit.Session
		rec.Runtime = res.Unit.Runtime
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	if !res.Success() {
		rec.Output = res.Output
	}
	return rec
}
