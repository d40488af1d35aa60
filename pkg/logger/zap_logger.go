// Copyright (c) 2025 cocowh. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package logger

import (
	"errors"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

func NewZapLoggerWithConfig(cfg *Config) (*ZapLogger, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	level := zap.NewAtomicLevelAt(cfg.Level.toZapLevel())
	cores := []zapcore.Core{}
	closers := []io.Closer{}

	if cfg.writesConsole() {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level))
	}

	if cfg.writesFile() {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, err
		}
		mainWriter := NewRollingWriter(cfg)
		closers = append(closers, mainWriter)
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(mainWriter), level))

		if cfg.EnableErrorFile {
			errorCfg := cfg.Clone()
			errorCfg.BaseName += "-error"
			errorWriter := NewRollingWriter(errorCfg)
			closers = append(closers, errorWriter)
			cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(errorWriter), zap.LevelEnablerFunc(func(l zapcore.Level) bool {
				return l >= zapcore.ErrorLevel
			})))
		}
	}

	if len(cores) == 0 {
		return nil, errors.New("no log output configured")
	}
	zapLogger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(2)).Sugar()

	return &ZapLogger{logger: zapLogger, closers: closers}, nil
}

// NewRollingWriter returns a size-rotated log file writer for cfg.
func NewRollingWriter(cfg *Config) *lumberjack.Logger {
	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	return &lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogDir, cfg.BaseName+".log"),
		MaxSize:    maxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
		LocalTime:  true,
	}
}

type ZapLogger struct {
	logger  *zap.SugaredLogger
	closers []io.Closer
}

// Sync flushes buffered entries and closes rotated files.
func (z *ZapLogger) Sync() error {
	err := z.logger.Sync()
	for _, c := range z.closers {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func (z *ZapLogger) Debugf(format string, args ...any) {
	z.logger.Debugf(format, args...)
}

func (z *ZapLogger) Debug(args ...any) {
	z.logger.Debug(args...)
}

func (z *ZapLogger) Infof(format string, args ...any) {
	z.logger.Infof(format, args...)
}

func (z *ZapLogger) Info(args ...any) {
	z.logger.Info(args...)
}

func (z *ZapLogger) Warnf(format string, args ...any) {
	z.logger.Warnf(format, args...)
}

func (z *ZapLogger) Warn(args ...any) {
	z.logger.Warn(args...)
}

func (z *ZapLogger) Errorf(format string, args ...any) {
	z.logger.Errorf(format, args...)
}

func (z *ZapLogger) Error(args ...any) {
	z.logger.Error(args...)
}

func (z *ZapLogger) Fatalf(format string, args ...any) {
	z.logger.Fatalf(format, args...)
}

func (z *ZapLogger) Fatal(args ...any) {
	z.logger.Fatal(args...)
}
