// Copyright (c) 2025 cocowh. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitRunsTasks(t *testing.T) {
	p := NewGoroutinePool(2)
	defer p.Shutdown()

	var n atomic.Int32
	for i := 0; i < 50; i++ {
		p.Submit(func() { n.Add(1) })
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Wait(ctx); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
	if n.Load() != 50 {
		t.Fatalf("ran %d tasks, want 50", n.Load())
	}
}

func TestSubmitNeverBlocks(t *testing.T) {
	p := NewGoroutinePool(1)
	defer p.Shutdown()

	release := make(chan struct{})
	for i := 0; i < 10; i++ {
		p.Submit(func() { <-release })
	}

	submitted := make(chan struct{})
	go func() {
		p.Submit(func() {})
		close(submitted)
	}()
	select {
	case <-submitted:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked with every worker busy")
	}
	if p.Overflow() == 0 {
		t.Fatal("expected overflow goroutines")
	}
	close(release)
}

func TestPanicIsRecovered(t *testing.T) {
	p := NewGoroutinePool(1)
	defer p.Shutdown()

	done := make(chan struct{})
	p.Submit(func() { panic("boom") })
	p.Submit(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool stopped working after a panic")
	}
}

func TestSubmitAfterShutdownStillRuns(t *testing.T) {
	p := NewGoroutinePool(1)
	p.Shutdown()

	done := make(chan struct{})
	p.Submit(func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task submitted after shutdown was dropped")
	}
}

func TestWaitHonoursContext(t *testing.T) {
	p := NewGoroutinePool(1)
	defer p.Shutdown()

	release := make(chan struct{})
	defer close(release)
	p.Submit(func() { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Wait(ctx); err == nil {
		t.Fatal("Wait returned nil while a task was still running")
	}
}

// Long-running tasks occupying every worker must not delay the next one.
func TestBusyWorkersDoNotDelayNewTasks(t *testing.T) {
	p := NewGoroutinePool(2)
	defer p.Shutdown()

	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		p.Submit(func() {
			started <- struct{}{}
			<-release
		})
	}
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("long-running task never started")
		}
	}

	done := make(chan struct{})
	p.Submit(func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task waited behind busy workers")
	}
}
