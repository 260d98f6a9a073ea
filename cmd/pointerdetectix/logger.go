package main

import (
	"log/slog"
	"os"
)

// NewLogger returns a structured slog.Logger with the given level.
func NewLogger(level slog.Leveler) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}

// debugHook adapts the per-package debug functions to logger
func debugHook(logger *slog.Logger) func(component, message string, ids ...string) {
	return func(component, message string, ids ...string) {
		attrs := []any{slog.String("component", component)}
		if len(ids) > 0 && ids[0] != "" {
			attrs = append(attrs, slog.String("zone", ids[0]))
		}
		logger.Debug(message, attrs...)
	}
}
