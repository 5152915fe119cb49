// SPDX-License-Identifier: MPL-2.0

// Package sessionfile loads runmatrix sessions files.
//
// A sessions file is CUE validated against an embedded schema. Sessions are
// returned in declaration order, which drives unit and report ordering.
package sessionfile

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"

	"github.com/invowk/runmatrix/internal/session"
	"github.com/invowk/runmatrix/pkg/cueutil"
)

// DefaultFileName is the sessions file looked up by Find.
const DefaultFileName = "runmatrix.cue"

var (
	//go:embed schema.cue
	schemaSource []byte

	// ErrNotFound is returned by Find when no sessions file exists.
	ErrNotFound = errors.New("sessions file not found")
)

type (
	// File is a parsed sessions file.
	File struct {
		// Path is the file location; Dir is its directory, used to resolve
		// relative step directories, env files and artifacts.
		Path      string
		Dir       string
		Sessions  []*session.Spec
		Aggregate *session.Aggregate
	}

	stepDTO struct {
		Install      *[]string         `json:"install,omitempty"`
		Run          []string          `json:"run,omitempty"`
		Log          *string           `json:"log,omitempty"`
		Remove       []string          `json:"remove,omitempty"`
		Session      string            `json:"session,omitempty"`
		Params       map[string]string `json:"params,omitempty"`
		Posargs      *[]string         `json:"posargs,omitempty"`
		TakesPosargs bool              `json:"takes_posargs,omitempty"`
		Env          map[string]string `json:"env,omitempty"`
		Dir          string            `json:"dir,omitempty"`
		SuccessCodes []int             `json:"success_codes,omitempty"`
	}

	sessionDTO struct {
		Description string            `json:"description,omitempty"`
		Runtimes    []string          `json:"runtimes,omitempty"`
		Params      map[string]string `json:"params,omitempty"`
		Steps       []stepDTO         `json:"steps"`
		Artifacts   []string          `json:"artifacts,omitempty"`
		EnvFiles    []string          `json:"env_files,omitempty"`
		Env         map[string]string `json:"env,omitempty"`
		Reuse       bool              `json:"reuse,omitempty"`
		SharedEnv   string            `json:"shared_env,omitempty"`
	}

	aggregateDTO struct {
		Runtime string            `json:"runtime,omitempty"`
		Env     map[string]string `json:"env,omitempty"`
		Steps   []stepDTO         `json:"steps"`
	}
)

// Load reads and parses the sessions file at path.
func Load(path string) (*File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("read sessions file: %w", err)
	}
	f, err := Parse(data, abs)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Parse parses sessions file content. filename is used for error messages
// and to derive Dir.
func Parse(data []byte, filename string) (*File, error) {
	schema, err := cueutil.NewSchema(schemaSource, "#SessionsFile")
	if err != nil {
		return nil, err
	}
	root, err := schema.Unify(data, cueutil.WithFilename(filename))
	if err != nil {
		return nil, err
	}

	f := &File{Path: filename, Dir: filepath.Dir(filename)}

	iter, err := root.LookupPath(cue.ParsePath("sessions")).Fields()
	if err != nil {
		return nil, cueutil.FormatError(err, filename)
	}
	for iter.Next() {
		name := iter.Selector().Unquoted()
		var dto sessionDTO
		if err := iter.Value().Decode(&dto); err != nil {
			return nil, cueutil.FormatError(err, filename)
		}
		spec, err := dto.toSpec(name, filename)
		if err != nil {
			return nil, err
		}
		f.Sessions = append(f.Sessions, spec)
	}

	if agg := root.LookupPath(cue.ParsePath("aggregate")); agg.Exists() {
		var dto aggregateDTO
		if err := agg.Decode(&dto); err != nil {
			return nil, cueutil.FormatError(err, filename)
		}
		steps, err := toSteps(dto.Steps, "aggregate", filename)
		if err != nil {
			return nil, err
		}
		f.Aggregate = &session.Aggregate{Runtime: dto.Runtime, Env: dto.Env, Steps: steps}
	}

	return f, nil
}

// Register adds every session and the aggregate block to reg, then freezes it.
func (f *File) Register(reg *session.Registry) error {
	for _, spec := range f.Sessions {
		if err := reg.Register(spec); err != nil {
			return err
		}
	}
	if f.Aggregate != nil {
		if err := reg.SetAggregate(f.Aggregate); err != nil {
			return err
		}
	}
	return reg.Freeze()
}

// Find returns the path of name in dir or the closest parent directory.
func Find(dir, name string) (string, error) {
	if name == "" {
		name = DefaultFileName
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(abs, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return "", fmt.Errorf("%w: no %s in %s or any parent directory", ErrNotFound, name, dir)
		}
		abs = parent
	}
}

func (d sessionDTO) toSpec(name, filename string) (*session.Spec, error) {
	steps, err := toSteps(d.Steps, "sessions."+name, filename)
	if err != nil {
		return nil, err
	}
	return &session.Spec{
		Name:        name,
		Description: d.Description,
		Runtimes:    d.Runtimes,
		Steps:       steps,
		Params:      d.Params,
		Artifacts:   d.Artifacts,
		EnvFiles:    d.EnvFiles,
		Env:         d.Env,
		Reuse:       d.Reuse,
		SharedEnv:   d.SharedEnv,
	}, nil
}

func toSteps(dtos []stepDTO, prefix, filename string) ([]session.Step, error) {
	steps := make([]session.Step, 0, len(dtos))
	for i, d := range dtos {
		st, err := d.toStep()
		if err != nil {
			return nil, &cueutil.ValidationError{
				File:   filename,
				Issues: []cueutil.Issue{{Path: fmt.Sprintf("%s.steps[%d]", prefix, i), Message: err.Error()}},
			}
		}
		steps = append(steps, st)
	}
	return steps, nil
}

func (d stepDTO) toStep() (session.Step, error) {
	st := session.Step{
		Env:          d.Env,
		Dir:          d.Dir,
		SuccessCodes: d.SuccessCodes,
		TakesPosargs: d.TakesPosargs,
	}
	if d.Posargs != nil {
		st.Posargs = *d.Posargs
		st.TakesPosargs = true
	}

	kinds := 0
	if d.Install != nil {
		kinds++
		st.Kind = session.StepInstall
		st.Args = *d.Install
	}
	if d.Run != nil {
		kinds++
		st.Kind = session.StepRun
		st.Args = d.Run
	}
	if d.Log != nil {
		kinds++
		st.Kind = session.StepLog
		st.Message = *d.Log
	}
	if d.Remove != nil {
		kinds++
		st.Kind = session.StepRemove
		st.Args = d.Remove
	}
	if d.Session != "" {
		kinds++
		st.Kind = session.StepSession
		st.Session = d.Session
		st.Params = d.Params
	}

	switch {
	case kinds == 0:
		return st, errors.New("step must set one of install, run, log, remove or session")
	case kinds > 1:
		return st, errors.New("step sets more than one of install, run, log, remove or session")
	}
	if d.Params != nil && st.Kind != session.StepSession {
		return st, errors.New("params are only valid on session steps")
	}
	if len(d.SuccessCodes) > 0 && st.Kind != session.StepRun {
		return st, errors.New("success_codes are only valid on run steps")
	}
	if st.TakesPosargs && st.Kind != session.StepRun && st.Kind != session.StepInstall {
		return st, errors.New("posargs are only valid on run and install steps")
	}
	return st, nil
}
