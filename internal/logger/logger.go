package logger

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the logging surface used across storm-composite.
// Key/value pairs follow the zap sugared convention.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
}

// Level controls how much output the default logger emits
type Level int

const (
	LevelSilent Level = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
)

type zapLogger struct {
	sugar *zap.SugaredLogger
}

var (
	mu      sync.RWMutex
	current Logger = &zapLogger{sugar: zap.NewNop().Sugar()}
)

// New builds a Logger from an existing zap logger
func New(z *zap.Logger) Logger {
	return &zapLogger{sugar: z.Sugar()}
}

// Configure replaces the package logger with a zap logger at the given level.
// Debug level uses zap's development encoder.
func Configure(level Level) error {
	if level == LevelSilent {
		SetLogger(New(zap.NewNop()))
		return nil
	}

	cfg := zap.NewProductionConfig()
	if level == LevelDebug {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel(level))
	cfg.OutputPaths = []string{"stderr"}

	z, err := cfg.Build()
	if err != nil {
		return err
	}

	SetLogger(New(z))
	return nil
}

// ParseLevel reads a level name: silent, error, warn, info or debug
func ParseLevel(name string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "silent", "off", "none":
		return LevelSilent, nil
	case "error":
		return LevelError, nil
	case "warn", "warning", "":
		return LevelWarn, nil
	case "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	}
	return LevelWarn, fmt.Errorf("unknown log level %q", name)
}

func zapLevel(level Level) zapcore.Level {
	switch level {
	case LevelError:
		return zapcore.ErrorLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelDebug:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

// SetLogger swaps the package logger
func SetLogger(l Logger) {
	mu.Lock()
	defer mu.Unlock()
	current = l
}

// Get returns the package logger
func Get() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

func (l *zapLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l *zapLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, keysAndValues...)
}

func (l *zapLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.sugar.Warnw(msg, keysAndValues...)
}

func (l *zapLogger) Error(msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, keysAndValues...)
}

func (l *zapLogger) WithField(key string, value interface{}) Logger {
	return &zapLogger{sugar: l.sugar.With(key, value)}
}

func (l *zapLogger) WithFields(fields map[string]interface{}) Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &zapLogger{sugar: l.sugar.With(args...)}
}

func Debug(msg string, keysAndValues ...interface{}) {
	Get().Debug(msg, keysAndValues...)
}

func Info(msg string, keysAndValues ...interface{}) {
	Get().Info(msg, keysAndValues...)
}

func Warn(msg string, keysAndValues ...interface{}) {
	Get().Warn(msg, keysAndValues...)
}

func Error(msg string, keysAndValues ...interface{}) {
	Get().Error(msg, keysAndValues...)
}

// WithField returns the package logger with one extra field
func WithField(key string, value interface{}) Logger {
	return Get().WithField(key, value)
}

// WithFields returns the package logger with extra fields
func WithFields(fields map[string]interface{}) Logger {
	return Get().WithFields(fields)
}
