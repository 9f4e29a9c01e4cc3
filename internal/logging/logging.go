package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

var (
	mu     sync.RWMutex
	logger = newLogger(os.Stderr, slog.LevelInfo, "text")
)

// Init configures the package logger. Unknown levels fall back to info and
// unknown formats fall back to colored text output.
func Init(level, format string) {
	SetOutput(os.Stderr, level, format)
}

// SetOutput is Init with an explicit destination, used by tests.
func SetOutput(w io.Writer, level, format string) {
	l := newLogger(w, ParseLevel(level), format)

	mu.Lock()
	logger = l
	mu.Unlock()

	slog.SetDefault(l)
}

// ParseLevel maps debug|info|warn|error to a slog level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}

	noColor := true
	if f, ok := w.(*os.File); ok {
		if info, err := f.Stat(); err == nil {
			noColor = info.Mode()&os.ModeCharDevice == 0
		}
	}

	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
		NoColor:    noColor,
	}))
}

// Logger returns the current logger.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func Debug(msg string, args ...any) { Logger().Debug(msg, args...) }
func Info(msg string, args ...any)  { Logger().Info(msg, args...) }
func Warn(msg string, args ...any)  { Logger().Warn(msg, args...) }
func Error(msg string, args ...any) { Logger().Error(msg, args...) }

// DebugWithComponent logs at debug level tagged with a component name
func DebugWithComponent(component, msg string, args ...any) {
	Logger().With("component", component).Debug(msg, args...)
}

// InfoWithComponent logs at info level tagged with a component name
func InfoWithComponent(component, msg string, args ...any) {
	Logger().With("component", component).Info(msg, args...)
}

// WarnWithComponent logs at warn level tagged with a component name
func WarnWithComponent(component, msg string, args ...any) {
	Logger().With("component", component).Warn(msg, args...)
}

// ErrorWithComponent logs at error level tagged with a component name
func ErrorWithComponent(component, msg string, args ...any) {
	Logger().With("component", component).Error(msg, args...)
}

// Logf logs a printf-style message at info level
func Logf(format string, v ...interface{}) {
	Logger().Info(fmt.Sprintf(format, v...))
}
