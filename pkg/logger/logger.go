// Package logger provides the process-wide leveled logger.
// It keeps a printf-style API on top of zap so call sites stay short,
// and can tee every record into a rotating session file.
package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger defines a simple interface for logging.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})
}

// FileOptions configures the rotating log file. An empty Path disables file output.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	mu     sync.RWMutex
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	std    = newSugar(level)
	closer func() error
)

// parseLevel maps "debug", "info", "warn", "error", "fatal" to a zap level; unknown values mean info.
func parseLevel(logLevel string) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(logLevel)); err != nil {
		return zapcore.InfoLevel
	}
	return l
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

func newSugar(lvl zap.AtomicLevel) *zap.SugaredLogger {
	l, _ := build(lvl, FileOptions{})
	return l.Sugar()
}

func build(lvl zap.AtomicLevel, file FileOptions) (*zap.Logger, func() error) {
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), zapcore.Lock(os.Stdout), lvl),
	}
	closeFn := func() error { return nil }
	if file.Path != "" {
		rotator := &lumberjack.Logger{
			Filename:   file.Path,
			MaxSize:    file.MaxSizeMB,
			MaxBackups: file.MaxBackups,
			MaxAge:     file.MaxAgeDays,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(rotator), lvl))
		closeFn = rotator.Close
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1)), closeFn
}

// NewLogger creates a standalone Logger at the given level writing to stdout.
// logLevel could be "debug", "info", "warn", "error", "fatal".
func NewLogger(logLevel string) Logger {
	l, _ := build(zap.NewAtomicLevelAt(parseLevel(logLevel)), FileOptions{})
	return l.WithOptions(zap.AddCallerSkip(-1)).Sugar()
}

// Setup reconfigures the global logger with a level and optional rotating file.
func Setup(logLevel string, file FileOptions) {
	mu.Lock()
	defer mu.Unlock()
	if closer != nil {
		_ = closer()
	}
	level = zap.NewAtomicLevelAt(parseLevel(logLevel))
	l, closeFn := build(level, file)
	std = l.Sugar()
	closer = closeFn
}

// SetGlobalLogLevel reconfigures the global logger's level.
func SetGlobalLogLevel(logLevel string) {
	mu.RLock()
	defer mu.RUnlock()
	level.SetLevel(parseLevel(logLevel))
}

// Zap returns a named *zap.Logger sharing the global cores, for components that take structured loggers.
func Zap(name string) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return std.Desugar().WithOptions(zap.AddCallerSkip(-1)).Named(name)
}

// Sync flushes buffered entries and closes the log file, if any.
func Sync() {
	mu.Lock()
	defer mu.Unlock()
	_ = std.Sync()
	if closer != nil {
		_ = closer()
		closer = nil
	}
}

func global() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return std
}

// Debug logs a debug message using the global logger.
func Debug(args ...interface{}) {
	global().Debug(args...)
}

// Debugf logs a debug message with formatting.
func Debugf(format string, args ...interface{}) {
	global().Debugf(format, args...)
}

// Info logs an informational message using the global logger.
func Info(args ...interface{}) {
	global().Info(args...)
}

// Infof logs an informational message with formatting.
func Infof(format string, args ...interface{}) {
	global().Infof(format, args...)
}

// Warn logs a warning.
func Warn(args ...interface{}) {
	global().Warn(args...)
}

// Warnf logs a warning with formatting.
func Warnf(format string, args ...interface{}) {
	global().Warnf(format, args...)
}

// Error logs an error message.
func Error(args ...interface{}) {
	global().Error(args...)
}

// Errorf logs an error message with formatting.
func Errorf(format string, args ...interface{}) {
	global().Errorf(format, args...)
}

// Fatal logs a fatal error message and exits.
func Fatal(args ...interface{}) {
	global().Fatal(args...)
}

// Fatalf logs a fatal error message with formatting and exits.
func Fatalf(format string, args ...interface{}) {
	global().Fatalf(format, args...)
}
