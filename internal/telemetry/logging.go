package telemetry

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger returns the text logger every binary writes to stdout, tagged
// with the component name.
func NewLogger(component string, level slog.Level) *slog.Logger {
	return newLogger(os.Stdout, component, level)
}

func newLogger(w io.Writer, component string, level slog.Level) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With("component", component)
}
