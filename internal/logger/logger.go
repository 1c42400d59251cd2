package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var globalLogger = zerolog.Nop()

// Init initializes the logger.
func Init(enabled bool, levelStr, logFile string, console bool) error {
	if !enabled {
		globalLogger = zerolog.Nop()
		return nil
	}

	var writers []io.Writer
	if logFile != "" {
		dir := filepath.Dir(logFile)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create log directory: %w", err)
			}
		}
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, f)
	}

	if console || len(writers) == 0 {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006-01-02 15:04:05"})
	}

	zerolog.TimeFieldFormat = time.RFC3339
	SetOutput(io.MultiWriter(writers...), ParseLevel(levelStr))
	return nil
}

// SetOutput routes log lines to w at the given level.
func SetOutput(w io.Writer, level zerolog.Level) {
	globalLogger = zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// ParseLevel converts a level name into a zerolog level. Unknown names map to info.
func ParseLevel(levelStr string) zerolog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Debugf logs a debug message.
func Debugf(format string, args ...interface{}) {
	globalLogger.Debug().Msgf(format, args...)
}

// Infof logs an info message.
func Infof(format string, args ...interface{}) {
	globalLogger.Info().Msgf(format, args...)
}

// Warnf logs a warning.
func Warnf(format string, args ...interface{}) {
	globalLogger.Warn().Msgf(format, args...)
}

// Errorf logs an error message.
func Errorf(format string, args ...interface{}) {
	globalLogger.Error().Msgf(format, args...)
}
