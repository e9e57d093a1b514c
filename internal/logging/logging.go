package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// LogFileName is the file written under the log directory.
const LogFileName = "qamatch.log"

// Config contains logging configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// Dir holds the rotating log file. Empty disables file logging.
	Dir string
	// MaxSizeMB is the size in MB before rotation.
	MaxSizeMB int
	// MaxFiles is the number of rotated files kept.
	MaxFiles int
	// Stderr also writes text logs to stderr.
	Stderr bool
}

// DefaultConfig logs at level to stderr only.
func DefaultConfig(level string) Config {
	return Config{
		Level:     level,
		MaxSizeMB: 10,
		MaxFiles:  5,
		Stderr:    true,
	}
}

// DebugConfig logs everything to stderr and to dataDir/logs.
func DebugConfig(dataDir string) Config {
	cfg := DefaultConfig("debug")
	cfg.Dir = LogDir(dataDir)
	return cfg
}

// LogDir returns the log directory under a data directory.
func LogDir(dataDir string) string {
	return filepath.Join(dataDir, "logs")
}

// Path returns the active log file for cfg, or "" without file logging.
func (c Config) Path() string {
	if c.Dir == "" {
		return ""
	}
	return filepath.Join(c.Dir, LogFileName)
}

// Setup builds a logger from cfg and returns it with a cleanup function
// that closes the log file.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	var handlers []slog.Handler
	cleanup := func() {}

	if path := cfg.Path(); path != "" {
		writer, err := NewRotatingWriter(path, cfg.MaxSizeMB, cfg.MaxFiles)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, slog.NewJSONHandler(writer, opts))
		cleanup = func() {
			_ = writer.Sync()
			_ = writer.Close()
		}
	}
	if cfg.Stderr {
		handlers = append(handlers, slog.NewTextHandler(os.Stderr, opts))
	}

	switch len(handlers) {
	case 0:
		return slog.New(slog.NewTextHandler(io.Discard, opts)), cleanup, nil
	case 1:
		return slog.New(handlers[0]), cleanup, nil
	default:
		return slog.New(fanout(handlers)), cleanup, nil
	}
}

// SetupMCP initializes logging for the MCP stdio server. Logs go only to
// the file under dataDir/logs; stdout is reserved for JSON-RPC.
func SetupMCP(dataDir, level string) (*slog.Logger, func(), error) {
	cfg := DefaultConfig(level)
	cfg.Dir = LogDir(dataDir)
	cfg.Stderr = false

	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("mcp logging: %w", err)
	}
	logger.Info("MCP mode logging initialized",
		slog.String("log_file", cfg.Path()),
		slog.String("level", cfg.Level))
	return logger, cleanup, nil
}

// ParseLevel converts a level name to slog.Level. Unknown names map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
