// Copyright (c) 2025 cocowh. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package logger

import (
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	loggers      atomic.Pointer[[]Logger]
	fallback     Logger
	fallbackOnce sync.Once
	logEventPool = sync.Pool{New: func() any {
		return &LogEvent{}
	}}
)

type Logger interface {
	Debugf(format string, args ...any)
	Debug(args ...any)
	Infof(format string, args ...any)
	Info(args ...any)
	Warnf(format string, args ...any)
	Warn(args ...any)
	Errorf(format string, args ...any)
	Error(args ...any)
	Fatalf(format string, args ...any)
	Fatal(args ...any)
}

type LogEvent struct {
	Level   Level
	Format  string
	Args    []any
	IsFatal bool
}

func acquireLogEvent(level Level, format string, args ...any) *LogEvent {
	logEvent := logEventPool.Get().(*LogEvent)
	logEvent.Level = level
	logEvent.Format = format
	logEvent.Args = args
	logEvent.IsFatal = level == FatalLevel
	return logEvent
}

func releaseLogEvent(event *LogEvent) {
	event.Level = TraceLevel
	event.Format = ""
	event.Args = nil
	event.IsFatal = false
	logEventPool.Put(event)
}

// InitDefaultLogger builds the zap backed logger described by config and
// installs it as the process logger. The returned stop func flushes an async
// logger and syncs file outputs; it is safe to call when async is off.
func InitDefaultLogger(config *Config) (func(), error) {
	if config == nil {
		config = DefaultConfig()
	}

	baseLogger, err := NewZapLoggerWithConfig(config)
	if err != nil {
		return nil, err
	}

	var logger Logger = baseLogger
	stop := func() { baseLogger.Sync() }
	if config.Async {
		asyncLogger := NewAsyncLogger(baseLogger, config.AsyncChannelSize)
		logger = asyncLogger
		stop = func() {
			asyncLogger.Stop()
			baseLogger.Sync()
		}
	}

	SetLoggers(logger)
	return stop, nil
}

type AsyncLogger struct {
	backend  Logger
	channel  chan *LogEvent
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

func NewAsyncLogger(backend Logger, bufferSize int) *AsyncLogger {
	if bufferSize <= 0 {
		bufferSize = 1000
	}

	logger := &AsyncLogger{
		backend:  backend,
		channel:  make(chan *LogEvent, bufferSize),
		stopChan: make(chan struct{}),
	}

	logger.wg.Add(1)
	go logger.processEvents()

	return logger
}

func (l *AsyncLogger) processEvents() {
	defer l.wg.Done()
	for {
		select {
		case event := <-l.channel:
			l.handleEvent(event)
		case <-l.stopChan:
			l.flushEvents()
			return
		}
	}
}

func (l *AsyncLogger) handleEvent(event *LogEvent) {
	if event == nil {
		return
	}

	defer releaseLogEvent(event)

	switch event.Level {
	case TraceLevel, DebugLevel:
		if event.Format != "" {
			l.backend.Debugf(event.Format, event.Args...)
		} else {
			l.backend.Debug(event.Args...)
		}
	case InfoLevel:
		if event.Format != "" {
			l.backend.Infof(event.Format, event.Args...)
		} else {
			l.backend.Info(event.Args...)
		}
	case WarnLevel:
		if event.Format != "" {
			l.backend.Warnf(event.Format, event.Args...)
		} else {
			l.backend.Warn(event.Args...)
		}
	case ErrorLevel:
		if event.Format != "" {
			l.backend.Errorf(event.Format, event.Args...)
		} else {
			l.backend.Error(event.Args...)
		}
	case FatalLevel:
		if event.Format != "" {
			l.backend.Fatalf(event.Format, event.Args...)
		} else {
			l.backend.Fatal(event.Args...)
		}
	}
}

func (l *AsyncLogger) flushEvents() {
	for {
		select {
		case event := <-l.channel:
			l.handleEvent(event)
		default:
			return
		}
	}
}

func (l *AsyncLogger) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopChan)
		l.wg.Wait()
	})
}

func (l *AsyncLogger) enqueue(level Level, format string, args ...any) {
	select {
	case l.channel <- acquireLogEvent(level, format, args...):
	case <-l.stopChan:
	}
}

func (l *AsyncLogger) Debugf(format string, args ...any) { l.enqueue(DebugLevel, format, args...) }
func (l *AsyncLogger) Debug(args ...any)                 { l.enqueue(DebugLevel, "", args...) }
func (l *AsyncLogger) Infof(format string, args ...any)  { l.enqueue(InfoLevel, format, args...) }
func (l *AsyncLogger) Info(args ...any)                  { l.enqueue(InfoLevel, "", args...) }
func (l *AsyncLogger) Warnf(format string, args ...any)  { l.enqueue(WarnLevel, format, args...) }
func (l *AsyncLogger) Warn(args ...any)                  { l.enqueue(WarnLevel, "", args...) }
func (l *AsyncLogger) Errorf(format string, args ...any) { l.enqueue(ErrorLevel, format, args...) }
func (l *AsyncLogger) Error(args ...any)                 { l.enqueue(ErrorLevel, "", args...) }

func (l *AsyncLogger) Fatalf(format string, args ...any) {
	l.enqueue(FatalLevel, format, args...)
	l.Stop()
}

func (l *AsyncLogger) Fatal(args ...any) {
	l.enqueue(FatalLevel, "", args...)
	l.Stop()
}

// current returns the registered loggers, or a stderr console logger when
// none has been installed yet.
func current() []Logger {
	if ls := loggers.Load(); ls != nil && len(*ls) > 0 {
		return *ls
	}
	fallbackOnce.Do(func() {
		encoderCfg := zap.NewDevelopmentEncoderConfig()
		core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.Lock(os.Stderr), zap.InfoLevel)
		fallback = &ZapLogger{logger: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2)).Sugar()}
	})
	return []Logger{fallback}
}

func Debugf(msg string, fields ...any) {
	for _, logger := range current() {
		logger.Debugf(msg, fields...)
	}
}

func Debug(fields ...any) {
	for _, logger := range current() {
		logger.Debug(fields...)
	}
}

func Infof(msg string, fields ...any) {
	for _, logger := range current() {
		logger.Infof(msg, fields...)
	}
}

func Info(fields ...any) {
	for _, logger := range current() {
		logger.Info(fields...)
	}
}

func Warnf(msg string, fields ...any) {
	for _, logger := range current() {
		logger.Warnf(msg, fields...)
	}
}

func Warn(fields ...any) {
	for _, logger := range current() {
		logger.Warn(fields...)
	}
}

func Errorf(msg string, fields ...any) {
	for _, logger := range current() {
		logger.Errorf(msg, fields...)
	}
}

func Error(fields ...any) {
	for _, logger := range current() {
		logger.Error(fields...)
	}
}

func Fatalf(msg string, fields ...any) {
	for _, logger := range current() {
		logger.Fatalf(msg, fields...)
	}
	os.Exit(1)
}

func Fatal(fields ...any) {
	for _, logger := range current() {
		logger.Fatal(fields...)
	}
	os.Exit(1)
}

// AddLogger appends loggers to the process-wide fan-out list.
func AddLogger(logger ...Logger) {
	if len(logger) == 0 {
		return
	}
	var next []Logger
	if ls := loggers.Load(); ls != nil {
		next = append(next, *ls...)
	}
	next = append(next, logger...)
	loggers.Store(&next)
}

// SetLoggers replaces the fan-out list.
func SetLoggers(logger ...Logger) {
	next := append([]Logger(nil), logger...)
	loggers.Store(&next)
}
