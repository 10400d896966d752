package utils

import (
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the severity of a log message.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	case FATAL:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// Field is a structured logging key/value pair, grounded directly on zap's
// Field type so call sites compose with *zap.Logger without adaptation.
type Field = zap.Field

func String(key, value string) Field          { return zap.String(key, value) }
func Int(key string, value int) Field         { return zap.Int(key, value) }
func Int64(key string, value int64) Field     { return zap.Int64(key, value) }
func Uint64(key string, value uint64) Field   { return zap.Uint64(key, value) }
func Float64(key string, value float64) Field { return zap.Float64(key, value) }
func Bool(key string, value bool) Field       { return zap.Bool(key, value) }
func Err(err error) Field                     { return zap.Error(err) }
func Duration(key string, value time.Duration) Field {
	return zap.Duration(key, value)
}
func Any(key string, value interface{}) Field { return zap.Any(key, value) }

// Logger wraps *zap.Logger with the component-scoped construction this
// codebase expects (NewLogger/DefaultLogger/With).
type Logger struct {
	*zap.Logger
}

// LoggerConfig configures a logger instance.
type LoggerConfig struct {
	Level      LogLevel
	Component  string
	Colorize   bool
	ShowCaller bool
	TimeFormat string
}

// NewLogger creates a new logger with the given configuration, backed by a
// zap console encoder so output stays readable on a terminal.
func NewLogger(config LoggerConfig) *Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	if config.TimeFormat != "" {
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout(config.TimeFormat)
	}
	if config.Colorize {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	if !config.ShowCaller {
		encCfg.CallerKey = zapcore.OmitKey
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stdout),
		zap.NewAtomicLevelAt(config.Level.zapLevel()),
	)

	opts := []zap.Option{}
	if config.ShowCaller {
		opts = append(opts, zap.AddCaller())
	}

	z := zap.New(core, opts...)
	if config.Component != "" {
		z = z.With(zap.String("component", config.Component))
	}
	return &Logger{z}
}

// DefaultLogger creates a logger with sensible defaults for the given
// component.
func DefaultLogger(component string) *Logger {
	return NewLogger(LoggerConfig{
		Level:      INFO,
		Component:  component,
		Colorize:   true,
		ShowCaller: false,
		TimeFormat: "15:04:05.000",
	})
}

// With returns a new logger with the given fields appended.
func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{l.Logger.With(fields...)}
}

// Fatal logs at fatal level and terminates the process, matching
// *zap.Logger's own Fatal semantics.
func (l *Logger) Fatal(msg string, fields ...Field) {
	l.Logger.Fatal(msg, fields...)
}

var (
	globalMu     sync.RWMutex
	globalLogger = DefaultLogger("inos")
)

// SetGlobalLogger replaces the package-level default logger.
func SetGlobalLogger(logger *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = logger
}

func global() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

func Debug(msg string, fields ...Field) { global().Debug(msg, fields...) }
func Info(msg string, fields ...Field)  { global().Info(msg, fields...) }
func Warn(msg string, fields ...Field)  { global().Warn(msg, fields...) }
func Error(msg string, fields ...Field) { global().Error(msg, fields...) }
func Fatal(msg string, fields ...Field) { global().Fatal(msg, fields...) }
