// Copyright (c) 2025 cocowh. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package control

import (
	"context"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/cocowh/portshift/core/api"
	"github.com/cocowh/portshift/core/blacklist"
	"github.com/cocowh/portshift/core/config"
	"github.com/cocowh/portshift/core/observability"
	"github.com/cocowh/portshift/core/pool"
	"github.com/cocowh/portshift/core/rotation"
	"github.com/cocowh/portshift/core/utils"
	"github.com/cocowh/portshift/pkg/errors"
	"github.com/cocowh/portshift/pkg/logger"
)

// Plane 控制平面: owns the rotation manager and the resources it shares
// with connection handlers.
type Plane struct {
	configManager   *config.ConfigManager
	goroutinePool   *pool.GoroutinePool
	blacklist       *blacklist.Store
	manager         *rotation.Manager
	recorder        *observability.Recorder
	admin           *api.AdminAPI
	sweepInterval   time.Duration
	shutdownTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	state  string
	err    error
	done   chan struct{}
}

// Start 启动控制平面. The rotation loop runs in the background; Done is
// closed if it stops on its own.
func (cp *Plane) Start() error {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if cp.state != "created" {
		return errors.New(errors.ErrCodeSystemInternalError, errors.CategorySystem, errors.LevelError,
			"control plane already started")
	}

	cp.ctx, cp.cancel = context.WithCancel(context.Background())
	cp.state = "starting"
	logger.Infof("Starting control plane...")

	if cp.admin != nil {
		if err := cp.admin.Start(); err != nil {
			cp.cancel()
			cp.state = "stopped"
			return err
		}
	}

	cp.wg.Add(2)
	go func() {
		defer cp.wg.Done()
		defer utils.PanicHandler(nil)
		cp.blacklist.Run(cp.ctx, cp.sweepInterval)
	}()
	go cp.runRotation()

	cp.state = "running"
	logger.Infof("Control plane started successfully")
	return nil
}

// runRotation runs the manager and records why it stopped.
func (cp *Plane) runRotation() {
	defer cp.wg.Done()
	defer close(cp.done)

	err := cp.manager.Run(cp.ctx)
	switch {
	case errors.IsFatal(err):
		logger.Errorf("Port rotation gave up: %v", err)
	case err != nil:
		logger.Warnf("Port rotation stopped: %v", err)
	}

	cp.mu.Lock()
	cp.err = err
	cp.mu.Unlock()
}

// Done is closed once the rotation loop has exited.
func (cp *Plane) Done() <-chan struct{} {
	return cp.done
}

// Err returns the error that ended the rotation loop, if any.
func (cp *Plane) Err() error {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	return cp.err
}

// Status returns the rotation snapshot.
func (cp *Plane) Status() rotation.Status {
	return cp.manager.Status()
}

// Recorder returns the event sink shared by every component.
func (cp *Plane) Recorder() *observability.Recorder {
	return cp.recorder
}

// AdminAddr returns the admin API address, or "" when disabled.
func (cp *Plane) AdminAddr() string {
	if cp.admin == nil {
		return ""
	}
	return cp.admin.Addr()
}

// Stop closes every listener, then gives in-flight sessions up to the
// shutdown timeout to finish. Sessions still running after that are left
// to end with the process.
func (cp *Plane) Stop() error {
	cp.mu.Lock()
	if cp.state != "running" {
		cp.mu.Unlock()
		return errors.New(errors.ErrCodeSystemInternalError, errors.CategorySystem, errors.LevelError,
			"control plane is not running")
	}
	cp.state = "stopping"
	cp.mu.Unlock()

	logger.Infof("Stopping control plane...")
	cp.cancel()
	cp.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), cp.shutdownTimeout)
	defer cancel()

	var err error
	if cp.admin != nil {
		err = multierr.Append(err, cp.admin.Stop(ctx))
	}

	cp.goroutinePool.Shutdown()
	if werr := cp.goroutinePool.Wait(ctx); werr != nil {
		logger.Warnf("Shutdown timeout reached with %d sessions still open", cp.goroutinePool.Running())
	}

	cp.mu.Lock()
	cp.state = "stopped"
	cp.mu.Unlock()

	logger.Infof("Control plane stopped successfully")
	return err
}

// GetState gets the control plane state
func (cp *Plane) GetState() string {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	return cp.state
}
