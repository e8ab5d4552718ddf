// Package logging provides structured logging for research sessions.
// It wraps go.uber.org/zap to write JSON lines into each session directory
// so that a run can be analysed after the fact with `ralph logs`.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log levels supported by the logger
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// LogFileName is the name of the log file inside a session directory.
const LogFileName = "debug.log"

// Logger provides structured logging with context propagation.
// It is safe for concurrent use. Child loggers share the parent's sink.
type Logger struct {
	sugar *zap.SugaredLogger
	sink  *sink
}

// sink owns the writer so Close on any child closes the file exactly once.
type sink struct {
	mu     sync.Mutex
	writer *RotatingWriter
}

// Options tune the file sink created by NewLogger.
type Options struct {
	Rotation RotationConfig
}

// NewLogger creates a Logger that writes JSON lines to
// {sessionDir}/debug.log using the default rotation policy.
// If sessionDir is empty, logs are written to stderr.
func NewLogger(sessionDir string, level string) (*Logger, error) {
	return NewLoggerWithOptions(sessionDir, level, Options{Rotation: DefaultRotationConfig()})
}

// NewLoggerWithOptions is NewLogger with an explicit rotation policy.
func NewLoggerWithOptions(sessionDir, level string, opts Options) (*Logger, error) {
	s := &sink{}
	var ws zapcore.WriteSyncer

	if sessionDir != "" {
		if err := os.MkdirAll(sessionDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create session directory: %w", err)
		}
		w, err := NewRotatingWriter(filepath.Join(sessionDir, LogFileName), opts.Rotation)
		if err != nil {
			return nil, err
		}
		s.writer = w
		ws = w
	} else {
		ws = zapcore.Lock(os.Stderr)
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), ws, parseLevel(level))
	return &Logger{sugar: zap.New(core).Sugar(), sink: s}, nil
}

// encoderConfig matches the field names read back by AggregateLogs.
func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		MessageKey:     "msg",
		NameKey:        "logger",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
}

// parseLevel converts a string log level to a zap level.
// Defaults to INFO if the level string is not recognized.
func parseLevel(level string) zapcore.Level {
	switch strings.ToUpper(level) {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// WithSession returns a child Logger tagging every entry with session_id.
func (l *Logger) WithSession(sessionID string) *Logger {
	return l.With("session_id", sessionID)
}

// WithPhase returns a child Logger tagging every entry with phase.
func (l *Logger) WithPhase(phase string) *Logger {
	return l.With("phase", phase)
}

// WithTask returns a child Logger tagging every entry with task_id.
func (l *Logger) WithTask(taskID string) *Logger {
	return l.With("task_id", taskID)
}

// With returns a child Logger with arbitrary key-value attributes.
func (l *Logger) With(args ...any) *Logger {
	if len(args) == 0 {
		return l
	}
	return &Logger{sugar: l.sugar.With(args...), sink: l.sink}
}

// Debug logs a message at DEBUG level with optional key-value pairs.
func (l *Logger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }

// Info logs a message at INFO level with optional key-value pairs.
func (l *Logger) Info(msg string, args ...any) { l.sugar.Infow(msg, args...) }

// Warn logs a message at WARN level with optional key-value pairs.
func (l *Logger) Warn(msg string, args ...any) { l.sugar.Warnw(msg, args...) }

// Error logs a message at ERROR level with optional key-value pairs.
func (l *Logger) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }

// Close flushes and closes the log file. It is a no-op for stderr loggers.
func (l *Logger) Close() error {
	if l.sink == nil {
		return nil
	}
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	_ = l.sugar.Sync()
	if l.sink.writer != nil {
		err := l.sink.writer.Close()
		l.sink.writer = nil
		return err
	}
	return nil
}

// NopLogger returns a Logger that discards all output.
func NopLogger() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar(), sink: &sink{}}
}

// ParseLevel normalizes a level string to one of the level constants.
// Returns LevelInfo if the level string is not recognized.
func ParseLevel(level string) string {
	switch strings.ToUpper(level) {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return strings.ToUpper(level)
	default:
		return LevelInfo
	}
}

// ValidLevels returns the list of valid log level strings.
func ValidLevels() []string {
	return []string{LevelDebug, LevelInfo, LevelWarn, LevelError}
}
