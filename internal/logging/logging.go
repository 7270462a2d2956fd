// Package logging sets up the structured logger shared by cmd/myld and
// the linker stages that choose to report progress (e.g. the -v verbose
// flag). It routes a single slog.Logger through samber/slog-multi's
// fan-out to one stderr text handler; verbose mode does not add a second
// handler, it lowers that handler's level to Debug and enables source
// locations on it.
package logging

import (
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// New builds the logger used by cmd/myld. verbose raises the level to
// Debug and adds source file:line to every record.
func New(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	handlers := []slog.Handler{
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level:     level,
			AddSource: verbose,
		}),
	}

	return slog.New(slogmulti.Fanout(handlers...))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
