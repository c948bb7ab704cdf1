package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

// levelFatal sits above slog's error level.
const levelFatal = slog.LevelError + 4

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case DEBUG:
		return slog.LevelDebug
	case WARN:
		return slog.LevelWarn
	case ERROR:
		return slog.LevelError
	case FATAL:
		return levelFatal
	default:
		return slog.LevelInfo
	}
}

// ParseLevel accepts level names in any case.
func ParseLevel(s string) (LogLevel, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG, true
	case "INFO":
		return INFO, true
	case "WARN", "WARNING":
		return WARN, true
	case "ERROR":
		return ERROR, true
	case "FATAL":
		return FATAL, true
	}
	return INFO, false
}

// Logger is a leveled printf-style logger on top of log/slog.
type Logger struct {
	level *slog.LevelVar
	sl    *slog.Logger
	exit  func(int)
}

var (
	defaultLogger *Logger
	once          sync.Once
)

type Config struct {
	Level     LogLevel
	Prefix    string
	JSON      bool
	AddSource bool
	Output    io.Writer
}

func DefaultConfig() Config {
	return Config{
		Level:  INFO,
		Output: os.Stderr,
	}
}

func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	level := new(slog.LevelVar)
	level.Set(cfg.Level.slogLevel())

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == levelFatal {
					a.Value = slog.StringValue("FATAL")
				}
			}
			return a
		},
	}
	var h slog.Handler
	if cfg.JSON {
		h = slog.NewJSONHandler(cfg.Output, opts)
	} else {
		h = slog.NewTextHandler(cfg.Output, opts)
	}

	sl := slog.New(h)
	if cfg.Prefix != "" {
		sl = sl.With(slog.String("component", cfg.Prefix))
	}
	return &Logger{level: level, sl: sl, exit: os.Exit}
}

// GetLogger returns the process-wide logger, configured from LOG_LEVEL and
// LOG_FORMAT=json on first use.
func GetLogger() *Logger {
	once.Do(func() {
		cfg := DefaultConfig()
		if lvl, ok := ParseLevel(os.Getenv("LOG_LEVEL")); ok {
			cfg.Level = lvl
		}
		cfg.JSON = strings.EqualFold(os.Getenv("LOG_FORMAT"), "json")
		defaultLogger = New(cfg)
	})
	return defaultLogger
}

func (l *Logger) SetLevel(level LogLevel) {
	l.level.Set(level.slogLevel())
}

// Slog exposes the underlying structured logger.
func (l *Logger) Slog() *slog.Logger {
	return l.sl
}

// With returns a logger that adds the given key/value pairs to each record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{level: l.level, sl: l.sl.With(args...), exit: l.exit}
}

func (l *Logger) log(level slog.Level, format string, args ...any) {
	ctx := context.Background()
	if !l.sl.Enabled(ctx, level) {
		return
	}
	l.sl.Log(ctx, level, message(format, args))
}

// message formats only when args are given, so a bare "100%" survives.
func message(format string, args []any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}

func (l *Logger) Debugf(format string, args ...any) {
	l.log(slog.LevelDebug, format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	l.log(slog.LevelInfo, format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.log(slog.LevelWarn, format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.log(slog.LevelError, format, args...)
}

// Fatalf logs and exits the process with status 1.
func (l *Logger) Fatalf(format string, args ...any) {
	l.log(levelFatal, format, args...)
	l.exit(1)
}

// Package-level convenience functions using the default logger

func Debugf(format string, args ...any) {
	GetLogger().Debugf(format, args...)
}

func Infof(format string, args ...any) {
	GetLogger().Infof(format, args...)
}

func Warnf(format string, args ...any) {
	GetLogger().Warnf(format, args...)
}

func Errorf(format string, args ...any) {
	GetLogger().Errorf(format, args...)
}

func Fatalf(format string, args ...any) {
	GetLogger().Fatalf(format, args...)
}

// SetLevel sets the log level for the default logger
func SetLevel(level LogLevel) {
	GetLogger().SetLevel(level)
}
