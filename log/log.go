package log

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// The library is silent by default; callers inject their own zap instance.
var logger atomic.Pointer[zap.Logger]

func init() {
	logger.Store(zap.NewNop())
}

// SetLogger replaces the package logger. Passing nil is a no-op.
func SetLogger(l *zap.Logger) {
	if l != nil {
		logger.Store(l)
	}
}

// NewDefault builds a production zap logger and installs it.
func NewDefault(debug bool) (l *zap.Logger, err error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.DisableStacktrace = true
	if l, err = cfg.Build(); err != nil {
		return
	}
	SetLogger(l)
	return
}

func L() *zap.Logger {
	return logger.Load()
}

func Debug(msg string, fields ...zap.Field) {
	logger.Load().Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	logger.Load().Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	logger.Load().Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	logger.Load().Error(msg, fields...)
}

func Sync() {
	logger.Load().Sync()
}
