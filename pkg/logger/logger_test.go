// Copyright (c) 2025 cocowh. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (r *recordingLogger) record(level string, msg string) {
	r.mu.Lock()
	r.lines = append(r.lines, level+" "+msg)
	r.mu.Unlock()
}

func (r *recordingLogger) Debugf(f string, a ...any) { r.record("debug", fmt.Sprintf(f, a...)) }
func (r *recordingLogger) Debug(a ...any)            { r.record("debug", fmt.Sprint(a...)) }
func (r *recordingLogger) Infof(f string, a ...any)  { r.record("info", fmt.Sprintf(f, a...)) }
func (r *recordingLogger) Info(a ...any)             { r.record("info", fmt.Sprint(a...)) }
func (r *recordingLogger) Warnf(f string, a ...any)  { r.record("warn", fmt.Sprintf(f, a...)) }
func (r *recordingLogger) Warn(a ...any)             { r.record("warn", fmt.Sprint(a...)) }
func (r *recordingLogger) Errorf(f string, a ...any) { r.record("error", fmt.Sprintf(f, a...)) }
func (r *recordingLogger) Error(a ...any)            { r.record("error", fmt.Sprint(a...)) }
func (r *recordingLogger) Fatalf(f string, a ...any) { r.record("fatal", fmt.Sprintf(f, a...)) }
func (r *recordingLogger) Fatal(a ...any)            { r.record("fatal", fmt.Sprint(a...)) }

func (r *recordingLogger) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"trace":   TraceLevel,
		"DEBUG":   DebugLevel,
		" info ":  InfoLevel,
		"warning": WarnLevel,
		"error":   ErrorLevel,
		"fatal":   FatalLevel,
		"bogus":   InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestFileOutputWithErrorFile(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.LogDir = dir
	cfg.BaseName = "gw"
	cfg.Format = "json"
	cfg.Output = OutputFile
	cfg.EnableErrorFile = true

	z, err := NewZapLoggerWithConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	z.Infof("listening on %d", 10056)
	z.Errorf("backend down")
	z.Sync()

	main, err := os.ReadFile(filepath.Join(dir, "gw.log"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(main), "listening on 10056") || !strings.Contains(string(main), "backend down") {
		t.Fatalf("main log = %s", main)
	}

	errs, err := os.ReadFile(filepath.Join(dir, "gw-error.log"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(errs), "listening") || !strings.Contains(string(errs), "backend down") {
		t.Fatalf("error log = %s", errs)
	}
}

func TestNoOutputIsAnError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Output = "nowhere"
	if _, err := NewZapLoggerWithConfig(cfg); err == nil {
		t.Fatal("logger without outputs was accepted")
	}
}

func TestAsyncLoggerFlushesOnStop(t *testing.T) {
	backend := &recordingLogger{}
	async := NewAsyncLogger(backend, 4)
	for i := 0; i < 20; i++ {
		async.Infof("event %d", i)
	}
	async.Warn("last")
	async.Stop()

	lines := backend.Lines()
	if len(lines) != 21 {
		t.Fatalf("backend saw %d lines, want 21", len(lines))
	}
	if lines[20] != "warn last" {
		t.Fatalf("last line = %q", lines[20])
	}
}

func TestPackageHelpersFanOut(t *testing.T) {
	prev := loggers.Load()
	defer loggers.Store(prev)

	a, b := &recordingLogger{}, &recordingLogger{}
	SetLoggers(a)
	AddLogger(b)
	Warnf("blacklisting %s", "10.0.0.1")

	for _, r := range []*recordingLogger{a, b} {
		if lines := r.Lines(); len(lines) != 1 || lines[0] != "warn blacklisting 10.0.0.1" {
			t.Fatalf("lines = %v", lines)
		}
	}
}
