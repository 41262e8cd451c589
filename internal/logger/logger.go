package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps the zap logger used by every engine component.
type Logger struct {
	*zap.Logger
}

// Config selects the level, encoding and sinks of a logger.
type Config struct {
	Level zapcore.Level
	// Encoding is "json" or "console".
	Encoding    string
	OutputPaths []string
}

// DefaultConfig logs JSON at info level to stdout.
func DefaultConfig() Config {
	return Config{
		Level:       zapcore.InfoLevel,
		Encoding:    "json",
		OutputPaths: []string{"stdout"},
	}
}

// CLIConfig keeps stdout free for command output.
func CLIConfig(level zapcore.Level) Config {
	return Config{
		Level:       level,
		Encoding:    "console",
		OutputPaths: []string{"stderr"},
	}
}

// New builds a production logger from config.
func New(config Config) (*Logger, error) {
	zapConfig := zap.NewProductionConfig()

	zapConfig.Level = zap.NewAtomicLevelAt(config.Level)
	zapConfig.OutputPaths = config.OutputPaths
	zapConfig.ErrorOutputPaths = []string{"stderr"}

	if config.Encoding != "" {
		zapConfig.Encoding = config.Encoding
	}

	if zapConfig.Encoding == "console" {
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	zapLogger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{
		Logger: zapLogger,
	}, nil
}

// NewLogger creates a logger with the default configuration.
func NewLogger() (*Logger, error) {
	return New(DefaultConfig())
}

// NewLoggerWithLevel is NewLogger at the given level.
func NewLoggerWithLevel(level zapcore.Level) (*Logger, error) {
	config := DefaultConfig()
	config.Level = level

	return New(config)
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *Logger {
	return &Logger{
		Logger: zap.NewNop(),
	}
}

// Named returns a child logger with the given name segment appended.
func (l *Logger) Named(name string) *Logger {
	if l == nil || l.Logger == nil {
		return NewNopLogger()
	}

	return &Logger{
		Logger: l.Logger.Named(name),
	}
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	if l.Logger != nil {
		return l.Logger.Sync()
	}

	return nil
}
