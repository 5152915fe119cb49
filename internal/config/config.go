// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/spf13/viper"

	"github.com/invowk/runmatrix/internal/issue"
	"github.com/invowk/runmatrix/pkg/cueutil"
)

const (
	// AppName is the application name.
	AppName = "runmatrix"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// LocalConfigFile is looked up in the working directory when the
	// platform config directory has no config file.
	LocalConfigFile = "runmatrix.config.cue"
	// EnvPrefix prefixes environment variable overrides.
	EnvPrefix = "RUNMATRIX"
)

//go:embed config_schema.cue
var configSchema []byte

// ConfigDir returns the runmatrix configuration directory using platform-specific
// conventions: Windows uses %APPDATA%, macOS uses ~/Library/Application Support,
// and Linux/others use $XDG_CONFIG_HOME (defaulting to ~/.config).
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default:
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(configDir, AppName), nil
}

// loadWithOptions performs option-driven config loading. It returns the
// effective configuration and the file it was read from ("" for defaults only).
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, err := resolveConfigPath(opts)
	if err != nil {
		return nil, "", err
	}
	if path != "" {
		if err := loadCUEIntoViper(v, path); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithIssue(issue.ConfigLoadFailedId).
				WithResource(path).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Verify the configuration values match the expected schema").
				WithSuggestion("Use 'runmatrix config show' to see the effective configuration").
				Wrap(err).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithIssue(issue.ConfigLoadFailedId).
			WithResource(sourceName(path)).
			WithSuggestion("Check " + EnvPrefix + "_* environment variables for unsupported values").
			Wrap(err).
			BuildError()
	}

	return &cfg, path, nil
}

// resolveConfigPath applies the lookup order: explicit file, platform
// config dir, working directory.
func resolveConfigPath(opts LoadOptions) (string, error) {
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithIssue(issue.ConfigLoadFailedId).
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Run 'runmatrix config init' to create a default configuration").
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		return opts.ConfigFilePath, nil
	}

	cfgDir, err := configDirWithOverride(opts.ConfigDirPath)
	if err != nil {
		return "", err
	}
	if p := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt); fileExists(p) {
		return p, nil
	}

	local := LocalConfigFile
	if opts.WorkDir != "" {
		local = filepath.Join(opts.WorkDir, LocalConfigFile)
	}
	if fileExists(local) {
		return local, nil
	}
	return "", nil
}

func configDirWithOverride(configDirPath string) (string, error) {
	if configDirPath != "" {
		return configDirPath, nil
	}
	return ConfigDir()
}

// setDefaults registers every key so that environment overrides are seen by Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("sessions_file", d.SessionsFile)
	v.SetDefault("env_dir", d.EnvDir)
	v.SetDefault("default_runtime", d.DefaultRuntime)
	v.SetDefault("jobs", d.Jobs)
	v.SetDefault("reuse_existing", d.ReuseExisting)
	v.SetDefault("output_tail_lines", d.OutputTailLines)
	v.SetDefault("backend", string(d.Backend))
	v.SetDefault("virtualenv.interpreter_template", d.Virtualenv.InterpreterTemplate)
	v.SetDefault("virtualenv.default_interpreter", d.Virtualenv.DefaultInterpreter)
	interpreters := make(map[string]any, len(d.Virtualenv.Interpreters))
	for k, val := range d.Virtualenv.Interpreters {
		interpreters[k] = val
	}
	v.SetDefault("virtualenv.interpreters", interpreters)
	v.SetDefault("virtualenv.create_command", d.Virtualenv.CreateCommand)
	v.SetDefault("virtualenv.installer", d.Virtualenv.Installer)
	v.SetDefault("container.engine", string(d.Container.Engine))
	v.SetDefault("container.image_template", d.Container.ImageTemplate)
	v.SetDefault("container.default_image", d.Container.DefaultImage)
	v.SetDefault("container.workdir", d.Container.Workdir)
	v.SetDefault("cache_dir", d.CacheDir)
	v.SetDefault("log.level", string(d.Log.Level))
	v.SetDefault("log.format", string(d.Log.Format))
	v.SetDefault("ui.color", d.UI.Color)
	v.SetDefault("ui.verbose", d.UI.Verbose)
}

// loadCUEIntoViper parses a CUE file, validates it against the #Config schema,
// and merges its contents into Viper. Optional fields stay unset, so the
// schema is checked without requiring concrete values.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	schema, err := cueutil.NewSchema(configSchema, "#Config")
	if err != nil {
		return err
	}
	unified, err := schema.Unify(data, cueutil.WithFilename(path), cueutil.WithConcrete(false))
	if err != nil {
		return err
	}

	var configMap map[string]any
	if err := unified.Decode(&configMap); err != nil {
		return cueutil.FormatError(err, path)
	}

	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func sourceName(path string) string {
	if path == "" {
		return "defaults and environment"
	}
	return path
}

// CreateDefaultConfig writes the default configuration to path, or to the
// platform config file when path is empty. An existing file is left alone
// unless force is set. It returns the path and whether it was written.
func CreateDefaultConfig(path string, force bool) (string, bool, error) {
	if path == "" {
		cfgDir, err := ConfigDir()
		if err != nil {
			return "", false, err
		}
		path = filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)
	}

	if !force && fileExists(path) {
		return path, false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", false, fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(GenerateCUE(DefaultConfig())), 0o644); err != nil {
		return "", false, fmt.Errorf("failed to write config file: %w", err)
	}
	return path, true, nil
}

// GenerateCUE generates a CUE representation of the configuration.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// runmatrix configuration\n\n")

	fmt.Fprintf(&sb, "sessions_file:     %q\n", cfg.SessionsFile)
	fmt.Fprintf(&sb, "env_dir:           %q\n", cfg.EnvDir)
	fmt.Fprintf(&sb, "default_runtime:   %q\n", cfg.DefaultRuntime)
	fmt.Fprintf(&sb, "jobs:              %d\n", cfg.Jobs)
	fmt.Fprintf(&sb, "reuse_existing:    %v\n", cfg.ReuseExisting)
	fmt.Fprintf(&sb, "output_tail_lines: %d\n", cfg.OutputTailLines)
	fmt.Fprintf(&sb, "backend:           %q\n", cfg.Backend)
	if cfg.CacheDir != "" {
		fmt.Fprintf(&sb, "cache_dir:         %q\n", cfg.CacheDir)
	}

	sb.WriteString("\nvirtualenv: {\n")
	fmt.Fprintf(&sb, "\tinterpreter_template: %q\n", cfg.Virtualenv.InterpreterTemplate)
	fmt.Fprintf(&sb, "\tdefault_interpreter:  %q\n", cfg.Virtualenv.DefaultInterpreter)
	if len(cfg.Virtualenv.Interpreters) > 0 {
		sb.WriteString("\tinterpreters: {\n")
		keys := make([]string, 0, len(cfg.Virtualenv.Interpreters))
		for k := range cfg.Virtualenv.Interpreters {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "\t\t%q: %q\n", k, cfg.Virtualenv.Interpreters[k])
		}
		sb.WriteString("\t}\n")
	}
	if len(cfg.Virtualenv.CreateCommand) > 0 {
		fmt.Fprintf(&sb, "\tcreate_command: %s\n", cueList(cfg.Virtualenv.CreateCommand))
	}
	if len(cfg.Virtualenv.Installer) > 0 {
		fmt.Fprintf(&sb, "\tinstaller: %s\n", cueList(cfg.Virtualenv.Installer))
	}
	sb.WriteString("}\n")

	sb.WriteString("\ncontainer: {\n")
	fmt.Fprintf(&sb, "\tengine:         %q\n", cfg.Container.Engine)
	fmt.Fprintf(&sb, "\timage_template: %q\n", cfg.Container.ImageTemplate)
	fmt.Fprintf(&sb, "\tdefault_image:  %q\n", cfg.Container.DefaultImage)
	fmt.Fprintf(&sb, "\tworkdir:        %q\n", cfg.Container.Workdir)
	sb.WriteString("}\n")

	sb.WriteString("\nlog: {\n")
	fmt.Fprintf(&sb, "\tlevel:  %q\n", cfg.Log.Level)
	fmt.Fprintf(&sb, "\tformat: %q\n", cfg.Log.Format)
	sb.WriteString("}\n")

	sb.WriteString("\nui: {\n")
	fmt.Fprintf(&sb, "\tcolor:   %v\n", cfg.UI.Color)
	fmt.Fprintf(&sb, "\tverbose: %v\n", cfg.UI.Verbose)
	sb.WriteString("}\n")

	return sb.String()
}

func cueList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
