package logger

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the logging level
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

// String returns the string representation of the log level
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

// ParseLevel converts a level name (case-sensitive, as printed by String) to a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	for l := DEBUG; l <= FATAL; l++ {
		if l.String() == s {
			return l, nil
		}
	}
	return INFO, fmt.Errorf("unknown log level %q", s)
}

var (
	sharedOnce sync.Once
	shared     *zap.Logger

	defaultLevel = atomic.NewInt32(int32(INFO))
)

// SetDefaultLevel sets the level of every logger that has not had SetLevel called,
// including loggers created before the call.
func SetDefaultLevel(level LogLevel) {
	defaultLevel.Store(int32(level))
}

// DefaultLevel returns the process-wide default level.
func DefaultLevel() LogLevel {
	return LogLevel(defaultLevel.Load())
}

// encoderConfig follows zap's development encoder without caller info.
func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeCaller = nil
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	return cfg
}

func newZap(w zapcore.WriteSyncer) *zap.Logger {
	// Level filtering is done by Logger itself, so the core accepts everything.
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), w, zapcore.DebugLevel)
	return zap.New(core)
}

func sharedZap() *zap.Logger {
	sharedOnce.Do(func() {
		shared = newZap(zapcore.Lock(os.Stdout))
	})
	return shared
}

// Logger represents a logger with configurable log level.
// All loggers created by NewLogger share one zap core writing to stdout.
type Logger struct {
	mu       sync.RWMutex
	level    LogLevel
	levelSet bool
	prefix   string
	zl       *zap.Logger
}

// NewLogger creates a new Logger following the process default level
func NewLogger(prefix string) *Logger {
	return &Logger{
		prefix: prefix,
		zl:     sharedZap(),
	}
}

// SetOutput redirects this logger to w. Mostly useful in tests.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.zl = newZap(zapcore.AddSync(w))
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
	l.levelSet = true
}

// GetLevel returns the current logging level
func (l *Logger) GetLevel() LogLevel {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.levelSet {
		return DefaultLevel()
	}
	return l.level
}

// SetPrefix sets the component prefix
func (l *Logger) SetPrefix(prefix string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prefix = prefix
}

// GetPrefix returns the component prefix
func (l *Logger) GetPrefix() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.prefix
}

// Sync flushes buffered log entries.
func (l *Logger) Sync() error {
	l.mu.RLock()
	zl := l.zl
	l.mu.RUnlock()
	return zl.Sync()
}

// log is the internal logging method
func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	l.mu.RLock()
	minLevel, levelSet, prefix, zl := l.level, l.levelSet, l.prefix, l.zl
	l.mu.RUnlock()
	if !levelSet {
		minLevel = DefaultLevel()
	}

	if level < minLevel {
		return
	}

	if prefix != "" {
		zl = zl.Named(prefix)
	}
	message := fmt.Sprintf(format, args...)

	switch level {
	case DEBUG:
		zl.Debug(message)
	case INFO:
		zl.Info(message)
	case WARN:
		zl.Warn(message)
	case ERROR:
		zl.Error(message)
	case FATAL:
		zl.Error(message, zap.String("stack", string(debug.Stack())))
		_ = zl.Sync()
		os.Exit(1)
	}
}

// Debugf logs a debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(DEBUG, format, args...)
}

// Infof logs an info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(INFO, format, args...)
}

// Warnf logs a warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(WARN, format, args...)
}

// Errorf logs an error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(ERROR, format, args...)
}

// Fatalf logs a fatal message with a stack trace and exits the program
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.log(FATAL, format, args...)
}
