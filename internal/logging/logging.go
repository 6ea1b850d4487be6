package logging

import (
	"io"
	"log/slog"
	"os"
)

// Init installs the default slog logger. LOG_LEVEL overrides def.
func Init(def slog.Level) {
	slog.SetDefault(New(os.Stderr, def))
}

// New builds a text logger writing to w at the level picked from LOG_LEVEL,
// falling back to def.
func New(w io.Writer, def slog.Level) *slog.Logger {
	return slog.New(
		slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: LevelFromEnv(def),
		}),
	)
}

// LevelFromEnv reads LOG_LEVEL.
func LevelFromEnv(def slog.Level) slog.Level {
	level := def

	if l, ok := os.LookupEnv("LOG_LEVEL"); ok {
		switch l {
		case "dev", "development", "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn", "warning":
			level = slog.LevelWarn
		case "error", "production", "prod":
			level = slog.LevelError
		}
	}

	return level
}
