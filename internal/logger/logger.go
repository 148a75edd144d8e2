// Package logger provides the node's structured logging facade: zerolog
// behind a small key/value API, with optional colored console output and
// size-rotated log files.
package logger

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Config represents logger configuration.
type Config struct {
	ConsoleOutput bool   `yaml:"console_output"`
	ConsoleColor  bool   `yaml:"console_color"`
	FileOutput    bool   `yaml:"file_output"`
	FileName      string `yaml:"file_name"`
	FileMaxSize   string `yaml:"file_max_size"`
	Level         string `yaml:"level"`
}

// Logger wraps a zerolog logger configured for this node.
type Logger struct {
	zlog zerolog.Logger
}

// globalLogger serves the package-level functions. Until Init runs it
// writes to stderr at info level so early startup failures are not lost.
var globalLogger = &Logger{
	zlog: zerolog.New(os.Stderr).Level(zerolog.InfoLevel).With().Timestamp().Logger(),
}

// Init replaces the global logger with one built from config.
func Init(config Config) error {
	logger, err := New(config)
	if err != nil {
		return err
	}
	globalLogger = logger
	return nil
}

// New creates a logger instance from config. Without any enabled output
// it falls back to plain console logging.
func New(config Config) (*Logger, error) {
	level, err := parseLogLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var writers []io.Writer
	if config.ConsoleOutput {
		var consoleWriter io.Writer = os.Stdout
		if config.ConsoleColor {
			consoleWriter = zerolog.ConsoleWriter{
				Out:        os.Stdout,
				TimeFormat: time.RFC3339,
			}
		}
		writers = append(writers, consoleWriter)
	}
	if config.FileOutput {
		if config.FileName == "" {
			return nil, fmt.Errorf("file_name is required when file_output is enabled")
		}
		maxSizeMB, err := parseMaxSize(config.FileMaxSize)
		if err != nil {
			return nil, fmt.Errorf("invalid file_max_size: %w", err)
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   config.FileName,
			MaxSize:    maxSizeMB,
			MaxBackups: 5,
			Compress:   true,
		})
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	var writer io.Writer
	if len(writers) == 1 {
		writer = writers[0]
	} else {
		writer = io.MultiWriter(writers...)
	}

	zlogger := zerolog.New(writer).
		Level(level).
		With().
		Timestamp().
		Logger()
	return &Logger{zlog: zlogger}, nil
}

// Component derives a logger that stamps every entry with a component
// name, so one node log interleaves network, storage and protocol lines
// that can still be filtered apart.
func (l *Logger) Component(name string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", name).Logger()}
}

// Component derives a component logger from the global logger.
func Component(name string) *Logger {
	return globalLogger.Component(name)
}

// parseLogLevel converts a config string to a zerolog level.
func parseLogLevel(levelStr string) (zerolog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "info", "":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("unknown log level: %s", levelStr)
	}
}

// parseMaxSize converts a size string such as "10MB" to whole megabytes.
func parseMaxSize(sizeStr string) (int, error) {
	if sizeStr == "" {
		return 10, nil
	}
	sizeStr = strings.ToUpper(sizeStr)
	sizeStr = strings.TrimSuffix(sizeStr, "MB")
	size, err := strconv.Atoi(sizeStr)
	if err != nil || size <= 0 {
		return 0, fmt.Errorf("invalid size format: %s", sizeStr)
	}
	return size, nil
}

// Global logging functions that use the global logger.

// Debug logs a debug message.
func Debug(msg string, fields ...interface{}) {
	globalLogger.Debug(msg, fields...)
}

// Info logs an info message.
func Info(msg string, fields ...interface{}) {
	globalLogger.Info(msg, fields...)
}

// Warn logs a warning message.
func Warn(msg string, fields ...interface{}) {
	globalLogger.Warn(msg, fields...)
}

// Error logs an error message.
func Error(msg string, fields ...interface{}) {
	globalLogger.Error(msg, fields...)
}

// Fatal logs a fatal message and exits the process.
func Fatal(msg string, fields ...interface{}) {
	globalLogger.Fatal(msg, fields...)
}

// Debug logs a debug message with optional key/value fields.
func (l *Logger) Debug(msg string, fields ...interface{}) {
	l.emit(l.zlog.Debug(), msg, fields)
}

// Info logs an info message with optional key/value fields.
func (l *Logger) Info(msg string, fields ...interface{}) {
	l.emit(l.zlog.Info(), msg, fields)
}

// Warn logs a warning message with optional key/value fields.
func (l *Logger) Warn(msg string, fields ...interface{}) {
	l.emit(l.zlog.Warn(), msg, fields)
}

// Error logs an error message with optional key/value fields.
func (l *Logger) Error(msg string, fields ...interface{}) {
	l.emit(l.zlog.Error(), msg, fields)
}

// Fatal logs a fatal message and exits the process. Configuration-time
// identity failures come through here: a node without a working identity
// must not join the protocol.
func (l *Logger) Fatal(msg string, fields ...interface{}) {
	l.emit(l.zlog.Fatal(), msg, fields)
}

func (l *Logger) emit(event *zerolog.Event, msg string, fields []interface{}) {
	if len(fields) > 0 {
		event = event.Fields(fieldsToMap(fields))
	}
	event.Msg(msg)
}

// fieldsToMap converts alternating key/value arguments to a field map.
// Keys must be strings; a trailing odd value is dropped.
func fieldsToMap(fields []interface{}) map[string]interface{} {
	fieldMap := make(map[string]interface{}, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		if key, ok := fields[i].(string); ok {
			fieldMap[key] = fields[i+1]
		}
	}
	return fieldMap
}
