package main

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/wippyai/wasm-hostbridge/errors"
	"github.com/wippyai/wasm-hostbridge/manifest"
)

type logConfig = manifest.Log

const (
	defaultMaxSizeMB  = 10
	defaultMaxBackups = 3
)

func newLogger(cfg logConfig) (*zap.Logger, error) {
	level := zapcore.WarnLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "log level")
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	switch cfg.Format {
	case "", "console":
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		if cfg.File != "" {
			encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		}
		enc = zapcore.NewConsoleEncoder(encCfg)
	case "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, errors.InvalidInput(errors.PhaseConfig, "unknown log format "+cfg.Format)
	}

	sink := zapcore.Lock(os.Stderr)
	if cfg.File != "" {
		maxSize, maxBackups := cfg.MaxSizeMB, cfg.MaxBackups
		if maxSize == 0 {
			maxSize = defaultMaxSizeMB
		}
		if maxBackups == 0 {
			maxBackups = defaultMaxBackups
		}
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    maxSize, // megabytes
			MaxBackups: maxBackups,
		})
	}

	return zap.New(zapcore.NewCore(enc, sink, level)), nil
}
