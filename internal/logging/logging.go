// Package logging bootstraps the process-wide zap logger.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production logger at the given level. Invalid or empty
// levels fall back to info.
func New(level string) *zap.SugaredLogger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build()
	if err != nil {
		// Production config only fails on a bad output path; keep a
		// working logger either way.
		logger = zap.NewNop()
	}
	return logger.Sugar()
}

// NewNop returns a logger that discards everything. Used by tests and as
// the default when a component is constructed without one.
func NewNop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
