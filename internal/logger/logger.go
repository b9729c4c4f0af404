// Package logger configures structured logging for ForgeFlow. All
// output is JSON on stdout; every record carries the service name so
// collectors can separate orchestrator logs from agent output.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/Strob0t/ForgeFlow/internal/config"
)

// New builds the root logger from the logging config. Wrap the returned
// logger's handler in an AsyncHandler when emission must not block.
func New(cfg config.Logging) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	})
	return slog.New(handler).With("service", cfg.Service)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
