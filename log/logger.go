// Package log provides structured logging for edman processes.
//
// Two logger variants are available:
//   - Logger: Non-sugared zap.Logger for the service paths (structured fields)
//   - SugaredLogger: Printf-style logging for CLI surfaces
//
// Use Logger.Sugar() to obtain a SugaredLogger when needed.
//
// Loggers always write to stderr unless redirected. The native host's
// stdout carries the browser message stream and must never be logged to.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger provides structured logging with process context.
// Every entry carries the component name and pid. A nil *Logger discards.
type Logger struct {
	zap    *zap.Logger
	out    io.Writer
	level  zapcore.Level
	fields []zap.Field
}

// SugaredLogger provides printf-style logging for CLI surfaces.
type SugaredLogger struct {
	sugar *zap.SugaredLogger
}

// NewLogger creates a logger for component writing to os.Stderr at info level.
func NewLogger(component string) *Logger {
	return build(os.Stderr, zapcore.InfoLevel, []zap.Field{
		zap.String("component", component),
		zap.Int("pid", os.Getpid()),
	})
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return build(io.Discard, zapcore.FatalLevel, nil)
}

// ParseLevel maps a level name (debug, info, warn, error) to a zap level.
func ParseLevel(name string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", name)
	}
}

func build(w io.Writer, level zapcore.Level, fields []zap.Field) *Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(w),
		level,
	)
	return &Logger{
		zap:    zap.New(core).With(fields...),
		out:    w,
		level:  level,
		fields: fields,
	}
}

// WithOutput returns a new logger with a different output writer.
// Context fields are preserved.
func (l *Logger) WithOutput(w io.Writer) *Logger {
	if l == nil {
		return nil
	}
	return build(w, l.level, l.fields)
}

// WithLevel returns a new logger with a different minimum level.
func (l *Logger) WithLevel(level zapcore.Level) *Logger {
	if l == nil {
		return nil
	}
	return build(l.out, level, l.fields)
}

// With returns a child logger carrying additional context fields.
func (l *Logger) With(fields map[string]any) *Logger {
	if l == nil {
		return nil
	}
	merged := make([]zap.Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	for k, v := range fields {
		merged = append(merged, zap.Any(k, v))
	}
	return build(l.out, l.level, merged)
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, fields map[string]any) {
	if l == nil {
		return
	}
	l.zap.Debug(message, zap.Any("fields", fields))
}

// Info logs an info message.
func (l *Logger) Info(message string, fields map[string]any) {
	if l == nil {
		return
	}
	l.zap.Info(message, zap.Any("fields", fields))
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, fields map[string]any) {
	if l == nil {
		return
	}
	l.zap.Warn(message, zap.Any("fields", fields))
}

// Error logs an error message.
func (l *Logger) Error(message string, fields map[string]any) {
	if l == nil {
		return
	}
	l.zap.Error(message, zap.Any("fields", fields))
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	if l == nil {
		return nil
	}
	return l.zap.Sync()
}

// Sugar returns a SugaredLogger for printf-style logging.
func (l *Logger) Sugar() *SugaredLogger {
	if l == nil {
		return &SugaredLogger{sugar: zap.NewNop().Sugar()}
	}
	return &SugaredLogger{sugar: l.zap.Sugar()}
}

// Debugf logs a debug message with printf-style formatting.
func (s *SugaredLogger) Debugf(template string, args ...any) {
	s.sugar.Debugf(template, args...)
}

// Infof logs an info message with printf-style formatting.
func (s *SugaredLogger) Infof(template string, args ...any) {
	s.sugar.Infof(template, args...)
}

// Warnf logs a warning message with printf-style formatting.
func (s *SugaredLogger) Warnf(template string, args ...any) {
	s.sugar.Warnf(template, args...)
}
