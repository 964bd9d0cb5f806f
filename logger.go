/*
Copyright © 2025 Japonism Festival <dev@japonism.live>
*/

package main

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// newLogger builds the process logger. With --log-file set, output goes to
// a rotated file (10MB per file, 3 backups, 7 days); otherwise to stderr.
// The returned func flushes buffered entries and is safe to defer.
func newLogger(cfg *Config) (*zap.SugaredLogger, func()) {
	var ws zapcore.WriteSyncer
	if cfg.logFile != "" {
		ws = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.logFile,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     7, // days
		})
	} else {
		ws = zapcore.AddSync(os.Stderr)
	}

	level := zapcore.InfoLevel
	if cfg.verbose {
		level = zapcore.DebugLevel
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:       "ts",
		LevelKey:      "level",
		NameKey:       "logger",
		CallerKey:     "caller",
		MessageKey:    "msg",
		StacktraceKey: "stack",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeLevel:   zapcore.CapitalLevelEncoder,
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeCaller:  zapcore.ShortCallerEncoder,
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), ws, level)
	logger := zap.New(core, zap.AddCaller())

	return logger.Sugar(), func() { _ = logger.Sync() }
}
