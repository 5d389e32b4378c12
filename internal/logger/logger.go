// Package logger builds the process logger from the logging configuration.
package logger

import (
	"fmt"

	"github.com/devrev/pairdb/txcoordinator/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New builds a zap logger. Output is "stdout", "stderr" or a file path; a
// file is rotated with lumberjack. The returned function releases the file.
func New(cfg config.LoggingConfig) (*zap.Logger, func() error, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level: %w", err)
	}

	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	switch cfg.Output {
	case "", "stdout", "stderr":
		out := cfg.Output
		if out == "" {
			out = "stdout"
		}
		zc.OutputPaths = []string{out}
		zc.ErrorOutputPaths = []string{"stderr"}

		logger, err := zc.Build()
		if err != nil {
			return nil, nil, err
		}
		return logger, func() error { return nil }, nil
	}

	sink := &lumberjack.Logger{
		Filename:   cfg.Output,
		MaxSize:    cfg.Rotation.MaxSizeMB,
		MaxBackups: cfg.Rotation.MaxBackups,
		MaxAge:     cfg.Rotation.MaxAgeDays,
		Compress:   cfg.Rotation.Compress,
	}

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(zc.EncoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(zc.EncoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(sink), zc.Level)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, sink.Close, nil
}
