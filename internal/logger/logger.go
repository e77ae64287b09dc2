// Package logger provides package-level structured logging over log/slog.
// The zero configuration logs text at Info to stderr; Init reconfigures the
// shared logger for the whole process.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Config holds logger configuration.
type Config struct {
	Level  string    // DEBUG, INFO, WARN, ERROR
	Format string    // text, json
	Output io.Writer // nil => stderr
}

var (
	mu      sync.RWMutex
	lvl     = func() *slog.LevelVar { v := new(slog.LevelVar); v.Set(slog.LevelInfo); return v }()
	slogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
)

// Init reconfigures the package logger. Unknown level/format values fall
// back to Info/text.
func Init(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	lvl.Set(parseLevel(cfg.Level))

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: lvl})
	} else {
		h = slog.NewTextHandler(out, &slog.HandlerOptions{Level: lvl})
	}

	mu.Lock()
	slogger = slog.New(h)
	mu.Unlock()
}

// SetLevel adjusts the minimum level without replacing the handler.
func SetLevel(level string) { lvl.Set(parseLevel(level)) }

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func get() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return slogger
}

// Debug logs at debug level with key/value args.
func Debug(msg string, args ...any) { get().Debug(msg, args...) }

// Info logs at info level with key/value args.
func Info(msg string, args ...any) { get().Info(msg, args...) }

// Warn logs at warn level with key/value args.
func Warn(msg string, args ...any) { get().Warn(msg, args...) }

// Error logs at error level with key/value args.
func Error(msg string, args ...any) { get().Error(msg, args...) }

// With returns a child logger carrying the given attributes.
func With(args ...any) *slog.Logger { return get().With(args...) }
