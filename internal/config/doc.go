// SPDX-License-Identifier: MPL-2.0

// Package config handles runmatrix configuration using Viper with CUE as the file format.
//
// The file is taken from --config when given, otherwise from config.cue in the
// platform config directory ($XDG_CONFIG_HOME/runmatrix on Linux), otherwise
// from runmatrix.config.cue in the working directory. It is validated against
// the embedded #Config schema (config_schema.cue) and layered over the
// defaults. RUNMATRIX_* environment variables override file values, with
// nested keys joined by underscores (RUNMATRIX_CONTAINER_ENGINE).
package config
