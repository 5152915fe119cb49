// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"io"
	"log/slog"

	"github.com/charmbracelet/log"

	"github.com/invowk/runmatrix/internal/config"
)

// newLogger builds the process-wide slog logger on a charmbracelet/log
// handler. Verbose mode forces debug level.
func newLogger(w io.Writer, lc config.LogConfig, verbose bool) *slog.Logger {
	level, err := log.ParseLevel(string(lc.Level))
	if err != nil {
		level = log.InfoLevel
	}
	if verbose {
		level = log.DebugLevel
	}

	opts := log.Options{
		Level:  level,
		Prefix: config.AppName,
	}
	if lc.Format == config.LogFormatJSON {
		opts.Formatter = log.JSONFormatter
		opts.ReportTimestamp = true
	}
	return slog.New(log.NewWithOptions(w, opts))
}
