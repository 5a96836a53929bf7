package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Log struct {
	Base   *zap.Logger
	Closer func()
}

// Init builds the process logger. production selects JSON output.
func Init(level string, production bool) (*Log, error) {
	lvl := zap.NewAtomicLevel()
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		lvl = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	var cfg zap.Config
	if production {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = lvl
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	base, err := cfg.Build(zap.AddStacktrace(zap.ErrorLevel))
	if err != nil {
		return nil, err
	}
	return New(base), nil
}

// New wraps an existing logger, tagging every entry with the service name.
func New(base *zap.Logger) *Log {
	base = base.With(zap.String("service", "aanmelden"))
	return &Log{
		Base:   base,
		Closer: func() { _ = base.Sync() },
	}
}

// Component returns a child logger for one part of the portal (api, worker, notify, ...).
func (l *Log) Component(name string) *zap.Logger {
	return l.Base.Named(name).With(zap.String("component", name))
}
