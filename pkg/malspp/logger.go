package malspp

import (
	"avaneesh/malspp-go/pkg/internal/logger"
)

// LogLevel represents logging level
type LogLevel int

const (
	// LevelDebug shows all log messages (most verbose)
	LevelDebug LogLevel = iota
	// LevelInfo shows info, warn, and error messages (default)
	LevelInfo
	// LevelWarn shows warn and error messages
	LevelWarn
	// LevelError shows only error messages
	LevelError
)

// SetLogLevel sets the global logging level
// Use this to enable/disable different levels of logging output
func SetLogLevel(level LogLevel) {
	logger.SetDefault(logger.NewDefaultLogger(logger.Level(level)))
}

// ParseLogLevel converts a level name (debug, info, warn, error).
func ParseLogLevel(name string) (LogLevel, error) {
	level, err := logger.ParseLevel(name)
	return LogLevel(level), err
}

// EnableFrameDebug enables or disables packet debugging
// When enabled, shows hex dumps of all space packets sent and received
func EnableFrameDebug(enable bool) {
	logger.SetFrameDebug(enable)
}

// ConfigureLoggingFromEnv applies MALSPP_LOG_LEVEL to the default logger.
func ConfigureLoggingFromEnv() {
	logger.ConfigureFromEnv()
}
