// Copyright (c) 2025 cocowh. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package control

import (
	"io"
	"time"

	"github.com/cocowh/portshift/core/api"
	"github.com/cocowh/portshift/core/blacklist"
	"github.com/cocowh/portshift/core/config"
	"github.com/cocowh/portshift/core/observability"
	"github.com/cocowh/portshift/core/pool"
	"github.com/cocowh/portshift/core/portset"
	"github.com/cocowh/portshift/core/proxy"
	"github.com/cocowh/portshift/core/rotation"
	"github.com/cocowh/portshift/core/router"
	"github.com/cocowh/portshift/pkg/buffer"
	"github.com/cocowh/portshift/pkg/errors"
	"github.com/cocowh/portshift/pkg/logger"
)

const defaultShutdownTimeout = 10 * time.Second

// ControlPlaneBuilder 控制平面构建器
type ControlPlaneBuilder struct {
	configManager *config.ConfigManager
	random        io.Reader
	clock         func() time.Time
	listen        rotation.ListenFunc
}

// NewControlPlaneBuilder 创建控制平面构建器
func NewControlPlaneBuilder(configManager *config.ConfigManager) *ControlPlaneBuilder {
	return &ControlPlaneBuilder{configManager: configManager}
}

// WithRandom replaces crypto/rand as the decoy source.
func (b *ControlPlaneBuilder) WithRandom(r io.Reader) *ControlPlaneBuilder {
	b.random = r
	return b
}

// WithClock replaces time.Now for epoch computation and blacklist expiry.
func (b *ControlPlaneBuilder) WithClock(now func() time.Time) *ControlPlaneBuilder {
	b.clock = now
	return b
}

// WithListenFunc replaces the socket binder of the rotation manager.
func (b *ControlPlaneBuilder) WithListenFunc(fn rotation.ListenFunc) *ControlPlaneBuilder {
	b.listen = fn
	return b
}

// InitLogger 初始化日志系统，支持命令行参数覆盖. The returned func flushes
// the logger and must be called before exit.
func InitLogger(configManager *config.ConfigManager, logLevel string, verbose bool) (func(), error) {
	loggerConfig := configManager.GetLoggerConfig()
	if logLevel != "" {
		loggerConfig.Level = logLevel
	}
	if verbose {
		loggerConfig.Level = "debug"
	}
	return logger.InitDefaultLogger(loggerConfig.ToLoggerConfig())
}

// Build validates the configuration and wires every component. Nothing is
// bound or started until Plane.Start.
func (b *ControlPlaneBuilder) Build() (*Plane, error) {
	if err := b.configManager.Validate(); err != nil {
		return nil, err
	}

	gwConfig := b.configManager.GetGatewayConfig()
	backendConfig := b.configManager.GetBackendConfig()
	rotationConfig := b.configManager.GetRotationConfig()
	blacklistConfig := b.configManager.GetBlacklistConfig()
	poolConfig := b.configManager.GetPoolConfig()
	adminConfig := b.configManager.GetAdminConfig()

	hasher, err := portset.LookupHasher(gwConfig.Hash)
	if err != nil {
		return nil, err
	}
	genOpts := []portset.Option{portset.WithHasher(hasher)}
	if b.random != nil {
		genOpts = append(genOpts, portset.WithRandom(b.random))
	}
	generator, err := portset.NewGenerator(gwConfig.SharedSecret, gwConfig.PortSetSize, genOpts...)
	if err != nil {
		return nil, err
	}

	// 创建可观测性组件
	metrics := observability.NewMetrics()
	recorder := observability.NewRecorder(metrics)

	// 创建黑名单
	var blOpts []blacklist.Option
	if b.clock != nil {
		blOpts = append(blOpts, blacklist.WithClock(b.clock))
	}
	store := blacklist.New(blacklistConfig.Expiry, blOpts...)

	// 创建协程池与缓冲池
	goroutinePool := pool.NewGoroutinePool(poolConfig.Goroutine.Workers)
	bufferPool := buffer.NewPool(poolConfig.Buffer.Size)

	relay := proxy.New(backendConfig.Host, backendConfig.Port,
		proxy.WithDialTimeout(backendConfig.DialTimeout),
		proxy.WithHalfCloseTimeout(backendConfig.HalfCloseTimeout),
		proxy.WithBufferPool(bufferPool))
	connRouter := router.New(store, relay, recorder)

	mgrOpts := []rotation.Option{rotation.WithEvents(recorder)}
	if b.clock != nil {
		mgrOpts = append(mgrOpts, rotation.WithClock(b.clock))
	}
	if b.listen != nil {
		mgrOpts = append(mgrOpts, rotation.WithListenFunc(b.listen))
	}
	manager := rotation.NewManager(rotation.Config{
		ListenHost:         gwConfig.ListenHost,
		BasePort:           gwConfig.BasePort,
		Period:             rotationConfig.Period,
		AlignToEpoch:       rotationConfig.AlignToEpoch,
		GracePeriod:        rotationConfig.GracePeriod,
		MaxBindRetries:     rotationConfig.MaxBindRetries,
		RetryDelay:         rotationConfig.RetryDelay,
		MaxSessionsPerPort: gwConfig.MaxSessionsPerPort,
	}, generator, connRouter, goroutinePool, mgrOpts...)

	gauges := []struct {
		name, help string
		fn         func() float64
	}{
		{"portshift_blacklist_size", "Number of addresses currently blacklisted", func() float64 { return float64(store.Len()) }},
		{"portshift_handler_tasks_running", "Number of connection handlers executing", func() float64 { return float64(goroutinePool.Running()) }},
		{"portshift_handler_overflow_total", "Handlers that ran outside the worker set", func() float64 { return float64(goroutinePool.Overflow()) }},
		{"portshift_buffers_in_use", "Relay buffers currently checked out", func() float64 { return float64(bufferPool.InUse()) }},
		{"portshift_events_dropped_total", "Events dropped for slow stream subscribers", func() float64 { return float64(recorder.Dropped()) }},
	}
	for _, g := range gauges {
		if err := metrics.RegisterGaugeFunc(g.name, g.help, g.fn); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeSystemInternalError, errors.CategorySystem, errors.LevelError,
				"failed to register metric").WithContext("metric", g.name)
		}
	}

	shutdownTimeout := gwConfig.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}

	plane := &Plane{
		configManager:   b.configManager,
		goroutinePool:   goroutinePool,
		blacklist:       store,
		manager:         manager,
		recorder:        recorder,
		sweepInterval:   blacklistConfig.SweepInterval,
		shutdownTimeout: shutdownTimeout,
		state:           "created",
		done:            make(chan struct{}),
	}
	if adminConfig.Enabled {
		plane.admin = api.NewAdminAPI(adminConfig.Address, relay.Backend(), manager, store, recorder, metrics.Handler())
	}

	logger.Infof("Gateway configured: base_port=%d size=%d hash=%s period=%s backend=%s",
		gwConfig.BasePort, gwConfig.PortSetSize, hasher.Name(), rotationConfig.Period, relay.Backend())
	return plane, nil
}
