// Package zaplog backs the go-logger contracts with zap.
package zaplog

import (
	"context"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Options struct {
	// Level is one of debug, info, warn or error. Defaults to info.
	Level string
	// Console switches from JSON to the human readable encoder.
	Console bool
}

// Logger satisfies glog.Logger and glog.LoggerProvider. Key/value args are
// passed to zap's sugared "w" methods.
type Logger struct {
	sugar *zap.SugaredLogger
}

func New(opts Options) (*Logger, error) {
	level, err := zapcore.ParseLevel(strings.TrimSpace(strings.ToLower(opts.Level)))
	if err != nil || strings.TrimSpace(opts.Level) == "" {
		level = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	if opts.Console {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	base, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return Wrap(base), nil
}

func Wrap(base *zap.Logger) *Logger {
	if base == nil {
		base = zap.NewNop()
	}
	return &Logger{sugar: base.Sugar()}
}

func (l *Logger) Trace(msg string, args ...any) { l.sugar.Debugw(msg, args...) }
func (l *Logger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.sugar.Infow(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.sugar.Warnw(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }
func (l *Logger) Fatal(msg string, args ...any) { l.sugar.Fatalw(msg, args...) }

func (l *Logger) WithContext(context.Context) glog.Logger {
	return l
}

// GetLogger returns a child logger named after the component.
func (l *Logger) GetLogger(name string) glog.Logger {
	name = strings.TrimSpace(name)
	if name == "" {
		return l
	}
	return &Logger{sugar: l.sugar.Named(name)}
}

func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

var (
	_ glog.Logger         = (*Logger)(nil)
	_ glog.LoggerProvider = (*Logger)(nil)
)
