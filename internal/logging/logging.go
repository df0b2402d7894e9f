// Package logging builds the zap logger the rest of the service takes at
// construction, switched between a human-readable development encoder and
// a JSON production encoder.
package logging

import (
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

// Build returns a *zap.Logger at the given level. jsonOutput selects the
// production JSON encoder; otherwise the console development encoder is
// used. level is one of debug, info, warn, error — anything else falls
// back to info.
func Build(level string, jsonOutput bool) (*zap.Logger, error) {
	var cfg zap.Config
	if jsonOutput {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

// GormLevel maps the application log level string to a GORM logger
// verbosity — GORM is considerably noisier than the application logger at
// the same nominal level, so debug maps down one notch.
func GormLevel(level string) gormlogger.LogLevel {
	switch level {
	case "debug":
		return gormlogger.Info
	case "info":
		return gormlogger.Warn
	default:
		return gormlogger.Error
	}
}
