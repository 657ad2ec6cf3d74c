package cli

import (
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
)

// newLogger builds the stderr logger. --verbose and --quiet win over the
// config file level, --log-format over its format.
func newLogger(cmd *cobra.Command, cfg Config) *slog.Logger {
	level := parseLevel(cfg.LogLevel)
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		level = slog.LevelError
	}

	format := cfg.LogFormat
	if f, _ := cmd.Flags().GetString("log-format"); f != "" {
		format = f
	}
	return newLoggerTo(cmd.ErrOrStderr(), level, format)
}

func newLoggerTo(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(name string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func isQuiet(cmd *cobra.Command) bool {
	quiet, _ := cmd.Flags().GetBool("quiet")
	return quiet
}
