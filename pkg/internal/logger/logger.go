package logger

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Level represents logging level
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns string representation of Level
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name (debug, info, warn, error) to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

// Logger is the interface for logging
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	SetLevel(level Level)
}

// DefaultLogger writes through zerolog.
type DefaultLogger struct {
	mu     sync.RWMutex
	logger zerolog.Logger
}

// NewDefaultLogger creates a console logger on stdout.
func NewDefaultLogger(level Level) *DefaultLogger {
	return NewLogger(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
		NoColor:    noColor(),
	}, level)
}

// NewLogger creates a logger writing to w.
func NewLogger(w io.Writer, level Level) *DefaultLogger {
	zl := zerolog.New(w).With().Timestamp().Str("app", "malspp").Logger()
	return &DefaultLogger{logger: zl.Level(level.zerolog())}
}

// With returns a child logger carrying a component field.
func (l *DefaultLogger) With(component string) *DefaultLogger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &DefaultLogger{logger: l.logger.With().Str("component", component).Logger()}
}

func (l *DefaultLogger) current() zerolog.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.logger
}

// Debug logs debug message
func (l *DefaultLogger) Debug(format string, args ...interface{}) {
	zl := l.current()
	zl.Debug().Msgf(format, args...)
}

// Info logs info message
func (l *DefaultLogger) Info(format string, args ...interface{}) {
	zl := l.current()
	zl.Info().Msgf(format, args...)
}

// Warn logs warning message
func (l *DefaultLogger) Warn(format string, args ...interface{}) {
	zl := l.current()
	zl.Warn().Msgf(format, args...)
}

// Error logs error message
func (l *DefaultLogger) Error(format string, args ...interface{}) {
	zl := l.current()
	zl.Error().Msgf(format, args...)
}

// SetLevel sets the logging level
func (l *DefaultLogger) SetLevel(level Level) {
	l.mu.Lock()
	l.logger = l.logger.Level(level.zerolog())
	l.mu.Unlock()
}

// NoOpLogger is a logger that doesn't log anything
type NoOpLogger struct{}

// NewNoOpLogger creates a logger that doesn't log
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

// Debug does nothing
func (l *NoOpLogger) Debug(format string, args ...interface{}) {}

// Info does nothing
func (l *NoOpLogger) Info(format string, args ...interface{}) {}

// Warn does nothing
func (l *NoOpLogger) Warn(format string, args ...interface{}) {}

// Error does nothing
func (l *NoOpLogger) Error(format string, args ...interface{}) {}

// SetLevel does nothing
func (l *NoOpLogger) SetLevel(level Level) {}

var (
	defaultMu     sync.RWMutex
	defaultLogger Logger = NewDefaultLogger(LevelInfo)
	frameDebug    atomic.Bool
)

// SetDefault sets the default logger
func SetDefault(logger Logger) {
	defaultMu.Lock()
	defaultLogger = logger
	defaultMu.Unlock()
}

// GetDefault returns the default logger
func GetDefault() Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetFrameDebug toggles hex dumps of every packet sent and received.
func SetFrameDebug(enabled bool) {
	frameDebug.Store(enabled)
}

// FrameDebug reports whether packet hex dumps are enabled.
func FrameDebug() bool {
	return frameDebug.Load()
}

// DumpPacket logs a hex dump of data at debug level when frame debugging is on.
func DumpPacket(l Logger, direction string, data []byte) {
	if !frameDebug.Load() {
		return
	}
	l.Debug("%s %d bytes\n%s", direction, len(data), hex.Dump(data))
}

// Environment variables read by ConfigureFromEnv.
const (
	EnvLevel   = "MALSPP_LOG_LEVEL"
	EnvNoColor = "MALSPP_LOG_NOCOLOR"
)

var configureOnce sync.Once

// ConfigureFromEnv applies MALSPP_LOG_LEVEL to the default logger once per process.
func ConfigureFromEnv() {
	configureOnce.Do(func() {
		raw, ok := os.LookupEnv(EnvLevel)
		if !ok {
			return
		}
		level, err := ParseLevel(raw)
		if err != nil {
			GetDefault().Warn("ignoring %s: %v", EnvLevel, err)
			return
		}
		GetDefault().SetLevel(level)
	})
}

func noColor() bool {
	v := strings.ToLower(os.Getenv(EnvNoColor))
	return v == "1" || v == "true" || v == "yes"
}

// Debug logs debug message using default logger
func Debug(format string, args ...interface{}) {
	GetDefault().Debug(format, args...)
}

// Info logs info message using default logger
func Info(format string, args ...interface{}) {
	GetDefault().Info(format, args...)
}

// Warn logs warning message using default logger
func Warn(format string, args ...interface{}) {
	GetDefault().Warn(format, args...)
}

// Error logs error message using default logger
func Error(format string, args ...interface{}) {
	GetDefault().Error(format, args...)
}
