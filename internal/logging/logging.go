// Package logging configures the structured logger shared by the
// transport and query engine.
package logging

import "go.uber.org/zap"

// New builds a production zap logger at the given level ("debug",
// "info", "warn", "error"; defaults to "info" for an unrecognized
// value). Passing a nil *zap.Logger anywhere in this module is always
// equivalent to zap.NewNop(), so callers that don't care about logs can
// ignore this package entirely.
func New(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		cfg.Level = lvl
	}
	return cfg.Build()
}
