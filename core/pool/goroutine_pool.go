// Copyright (c) 2025 cocowh. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pool

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/cocowh/portshift/core/utils"
	"github.com/cocowh/portshift/pkg/logger"
)

// GoroutinePool runs connection handlers. A task goes to a worker only when
// one is idle; otherwise it gets its own goroutine at once. Submit never
// blocks and no task ever waits behind a long-lived one, so a handler that
// relays for hours cannot delay the next accepted connection.
type GoroutinePool struct {
	tasks    chan func()
	workers  int
	workerWg sync.WaitGroup
	taskWg   sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	mutex    sync.RWMutex
	closed   bool
	running  atomic.Int64
	overflow atomic.Uint64
}

// NewGoroutinePool creates a pool keeping workers goroutines warm.
func NewGoroutinePool(workers int) *GoroutinePool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	ctx, cancel := context.WithCancel(context.Background())
	pool := &GoroutinePool{
		// unbuffered: a send succeeds only while a worker is parked on it
		tasks:   make(chan func()),
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
	}

	pool.workerWg.Add(workers)
	for i := 0; i < workers; i++ {
		go pool.worker()
	}

	logger.Debugf("Created goroutine pool with %d workers", workers)
	return pool
}

// worker is a worker goroutine that processes tasks from the channel
func (p *GoroutinePool) worker() {
	defer p.workerWg.Done()
	for {
		select {
		case task := <-p.tasks:
			p.run(task)
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *GoroutinePool) run(task func()) {
	defer p.taskWg.Done()
	defer p.running.Add(-1)
	defer utils.PanicHandler(nil)

	p.running.Add(1)
	task()
}

// Submit hands task to an idle worker or starts a goroutine for it.
func (p *GoroutinePool) Submit(task func()) {
	p.taskWg.Add(1)

	p.mutex.RLock()
	defer p.mutex.RUnlock()
	if p.closed {
		go p.run(task)
		return
	}

	select {
	case p.tasks <- task:
	default:
		p.overflow.Add(1)
		go p.run(task)
	}
}

// Shutdown stops the idle workers. Tasks already running are not
// interrupted; use Wait to block on them.
func (p *GoroutinePool) Shutdown() {
	p.mutex.Lock()
	p.closed = true
	p.mutex.Unlock()

	p.cancel()
	p.workerWg.Wait()
	logger.Debug("Goroutine pool workers stopped")
}

// Wait blocks until every submitted task has returned or ctx is done.
func (p *GoroutinePool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.taskWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running returns the number of tasks currently executing.
func (p *GoroutinePool) Running() int64 {
	return p.running.Load()
}

// Overflow returns how many tasks ran outside the worker set.
func (p *GoroutinePool) Overflow() uint64 {
	return p.overflow.Load()
}
