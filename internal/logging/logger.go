// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type options struct {
	verbose   bool
	debugFile string
}

// Option customizes New.
type Option func(*options)

// WithVerbose lowers the console level to debug.
func WithVerbose(verbose bool) Option {
	return func(o *options) { o.verbose = verbose }
}

// WithDebugFile additionally writes every debug-level entry as JSON to path.
func WithDebugFile(path string) Option {
	return func(o *options) { o.debugFile = path }
}

// New builds a zap.Logger configured for development or production. The
// returned cleanup flushes the logger and releases the debug file, if any.
func New(development bool, opts ...Option) (*zap.Logger, func(), error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if o.verbose {
		level.SetLevel(zapcore.DebugLevel)
	}

	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.DisableStacktrace = false
	}
	cfg.Level = level
	cfg.EncoderConfig.TimeKey = "ts"

	var buildOpts []zap.Option
	closeSink := func() {}
	if o.debugFile != "" {
		sink, closeFile, err := zap.Open(o.debugFile)
		if err != nil {
			return nil, nil, fmt.Errorf("open debug file %s: %w", o.debugFile, err)
		}
		closeSink = closeFile
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.TimeKey = "ts"
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), sink, zapcore.DebugLevel)
		buildOpts = append(buildOpts, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, fileCore)
		}))
	}

	logger, err := cfg.Build(buildOpts...)
	if err != nil {
		closeSink()
		if development {
			return nil, nil, fmt.Errorf("build dev logger: %w", err)
		}
		return nil, nil, fmt.Errorf("build prod logger: %w", err)
	}
	cleanup := func() {
		_ = logger.Sync()
		closeSink()
	}
	return logger, cleanup, nil
}
