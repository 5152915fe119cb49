// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// BackendVirtualenv creates one virtualenv per environment key.
	BackendVirtualenv Backend = "virtualenv"
	// BackendContainer runs each environment in a long-lived container.
	BackendContainer Backend = "container"
	// BackendNone runs steps on the host.
	BackendNone Backend = "none"

	// ContainerEngineDocker uses Docker.
	ContainerEngineDocker ContainerEngine = "docker"
	// ContainerEnginePodman uses Podman.
	ContainerEnginePodman ContainerEngine = "podman"

	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"

	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

var (
	// ErrInvalidBackend is returned when a Backend value is not recognized.
	ErrInvalidBackend = errors.New("invalid backend")
	// ErrInvalidContainerEngine is returned when a ContainerEngine value is not recognized.
	ErrInvalidContainerEngine = errors.New("invalid container engine")
	// ErrInvalidLogLevel is returned when a LogLevel value is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidLogFormat is returned when a LogFormat value is not recognized.
	ErrInvalidLogFormat = errors.New("invalid log format")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// Backend selects how environments are provisioned.
	Backend string

	// ContainerEngine specifies which container CLI to drive.
	ContainerEngine string

	// LogLevel is the minimum level of emitted log records.
	LogLevel string

	// LogFormat selects the log handler.
	LogFormat string

	// InvalidValueError reports a field holding an unsupported value.
	InvalidValueError struct {
		Field   string
		Value   string
		Valid   []string
		Problem error
	}

	// InvalidConfigError is returned when a Config has invalid fields.
	// It collects field-level validation errors from all sub-components.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the runmatrix configuration.
	Config struct {
		// SessionsFile is the sessions file name searched from the working directory upwards.
		SessionsFile string `json:"sessions_file" mapstructure:"sessions_file"`
		// EnvDir is the directory environments are created under, relative to the sessions file.
		EnvDir string `json:"env_dir" mapstructure:"env_dir"`
		// DefaultRuntime is used by sessions that declare no runtimes; empty means the host default.
		DefaultRuntime string `json:"default_runtime" mapstructure:"default_runtime"`
		// Jobs is the number of units run concurrently.
		Jobs int `json:"jobs" mapstructure:"jobs"`
		// ReuseExisting keeps environments from earlier invocations.
		ReuseExisting bool `json:"reuse_existing" mapstructure:"reuse_existing"`
		// OutputTailLines is how much command output is kept for the report.
		OutputTailLines int `json:"output_tail_lines" mapstructure:"output_tail_lines"`
		Backend         Backend          `json:"backend" mapstructure:"backend"`
		Virtualenv      VirtualenvConfig `json:"virtualenv" mapstructure:"virtualenv"`
		Container       ContainerConfig  `json:"container" mapstructure:"container"`
		// CacheDir is exported as PIP_CACHE_DIR when set.
		CacheDir string    `json:"cache_dir" mapstructure:"cache_dir"`
		Log      LogConfig `json:"log" mapstructure:"log"`
		UI       UIConfig  `json:"ui" mapstructure:"ui"`
	}

	// VirtualenvConfig configures the virtualenv backend.
	VirtualenvConfig struct {
		InterpreterTemplate string            `json:"interpreter_template" mapstructure:"interpreter_template"`
		DefaultInterpreter  string            `json:"default_interpreter" mapstructure:"default_interpreter"`
		Interpreters        map[string]string `json:"interpreters" mapstructure:"interpreters"`
		CreateCommand       []string          `json:"create_command" mapstructure:"create_command"`
		Installer           []string          `json:"installer" mapstructure:"installer"`
	}

	// ContainerConfig configures the container backend.
	ContainerConfig struct {
		Engine        ContainerEngine `json:"engine" mapstructure:"engine"`
		ImageTemplate string          `json:"image_template" mapstructure:"image_template"`
		DefaultImage  string          `json:"default_image" mapstructure:"default_image"`
		Workdir       string          `json:"workdir" mapstructure:"workdir"`
	}

	// LogConfig configures logging.
	LogConfig struct {
		Level  LogLevel  `json:"level" mapstructure:"level"`
		Format LogFormat `json:"format" mapstructure:"format"`
	}

	// UIConfig configures terminal output.
	UIConfig struct {
		Color   bool `json:"color" mapstructure:"color"`
		Verbose bool `json:"verbose" mapstructure:"verbose"`
	}
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		SessionsFile:    "runmatrix.cue",
		EnvDir:          ".runmatrix",
		DefaultRuntime:  "",
		Jobs:            1,
		ReuseExisting:   false,
		OutputTailLines: 20,
		Backend:         BackendVirtualenv,
		Virtualenv: VirtualenvConfig{
			InterpreterTemplate: "python${runtime}",
			DefaultInterpreter:  "python3",
			Interpreters:        map[string]string{"pypy": "pypy3"},
			CreateCommand:       []string{"${interpreter}", "-m", "venv", "${env_dir}"},
			Installer:           []string{"python", "-m", "pip", "install"},
		},
		Container: ContainerConfig{
			Engine:        ContainerEngineDocker,
			ImageTemplate: "python:${runtime}",
			DefaultImage:  "python:3",
			Workdir:       "/workspace",
		},
		Log: LogConfig{Level: LogLevelInfo, Format: LogFormatText},
		UI:  UIConfig{Color: true},
	}
}

// Validate checks values the schema cannot see, such as environment overrides.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Backend.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Container.Engine.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Log.Level.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Log.Format.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Jobs < 1 {
		errs = append(errs, fmt.Errorf("jobs must be at least 1, got %d", c.Jobs))
	}
	if c.OutputTailLines < 1 {
		errs = append(errs, fmt.Errorf("output_tail_lines must be at least 1, got %d", c.OutputTailLines))
	}
	if strings.TrimSpace(c.SessionsFile) == "" {
		errs = append(errs, errors.New("sessions_file must not be empty"))
	}
	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}

// Error implements the error interface.
func (e *InvalidConfigError) Error() string {
	msgs := make([]string, len(e.FieldErrors))
	for i, err := range e.FieldErrors {
		msgs[i] = err.Error()
	}
	return "invalid config: " + strings.Join(msgs, "; ")
}

// Unwrap returns ErrInvalidConfig.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// Error implements the error interface.
func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("%s: unsupported value %q (valid: %s)", e.Field, e.Value, strings.Join(e.Valid, ", "))
}

// Unwrap returns the field's sentinel.
func (e *InvalidValueError) Unwrap() error { return e.Problem }

// Validate returns an error wrapping ErrInvalidBackend for unknown backends.
func (b Backend) Validate() error {
	switch b {
	case BackendVirtualenv, BackendContainer, BackendNone:
		return nil
	}
	return &InvalidValueError{Field: "backend", Value: string(b), Valid: []string{"virtualenv", "container", "none"}, Problem: ErrInvalidBackend}
}

// Validate returns an error wrapping ErrInvalidContainerEngine for unknown engines.
func (e ContainerEngine) Validate() error {
	switch e {
	case ContainerEngineDocker, ContainerEnginePodman:
		return nil
	}
	return &InvalidValueError{Field: "container.engine", Value: string(e), Valid: []string{"docker", "podman"}, Problem: ErrInvalidContainerEngine}
}

// Validate returns an error wrapping ErrInvalidLogLevel for unknown levels.
func (l LogLevel) Validate() error {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return nil
	}
	return &InvalidValueError{Field: "log.level", Value: string(l), Valid: []string{"debug", "info", "warn", "error"}, Problem: ErrInvalidLogLevel}
}

// Validate returns an error wrapping ErrInvalidLogFormat for unknown formats.
func (f LogFormat) Validate() error {
	switch f {
	case LogFormatText, LogFormatJSON:
		return nil
	}
	return &InvalidValueError{Field: "log.format", Value: string(f), Valid: []string{"text", "json"}, Problem: ErrInvalidLogFormat}
}

// String returns the backend name.
func (b Backend) String() string { return string(b) }

// String returns the engine name.
func (e ContainerEngine) String() string { return string(e) }
