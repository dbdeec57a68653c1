package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/1broseidon/deskpaper/internal/config"
)

// ParseLevel maps a config log_level to a slog level. Unknown values map to info.
func ParseLevel(s string) slog.Level {
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

// Setup builds the daemon logger. Output always goes to stderr; when file
// logging is enabled it is duplicated into the rotating log file. The
// returned closer releases the file and is never nil.
//
// The standard library logger is redirected into the same handler so that
// stray log.Printf calls keep the structured format.
func Setup(cfg *config.Config, level *slog.LevelVar) (*slog.Logger, io.Closer, error) {
	level.Set(ParseLevel(cfg.LogLevel))

	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}

	lc := cfg.GetLoggingConfig()
	if lc.Enabled {
		rf, err := OpenRotatingFile(lc.File, lc.MaxSizeMB, lc.MaxFiles)
		if err != nil {
			return nil, nil, err
		}
		out = io.MultiWriter(os.Stderr, rf)
		closer = rf
	}

	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	log.SetFlags(0)
	log.SetOutput(slog.NewLogLogger(logger.Handler(), slog.LevelInfo).Writer())
	return logger, closer, nil
}

// Component returns a child logger tagged with the component name.
func Component(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", name)
}

// Discard returns a logger that drops everything; used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
