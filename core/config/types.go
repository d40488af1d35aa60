// Copyright (c) 2025 cocowh. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"time"

	"github.com/cocowh/portshift/pkg/logger"
)

// GatewayConfig 网关监听配置
type GatewayConfig struct {
	BasePort           int
	ListenHost         string
	PortSetSize        int
	SharedSecret       string
	Hash               string
	MaxSessionsPerPort int
	ShutdownTimeout    time.Duration
}

// BackendConfig 后端服务配置
type BackendConfig struct {
	Host             string
	Port             int
	DialTimeout      time.Duration
	HalfCloseTimeout time.Duration
}

// RotationConfig 端口轮换配置
type RotationConfig struct {
	Period         time.Duration
	AlignToEpoch   bool
	GracePeriod    time.Duration
	MaxBindRetries int
	RetryDelay     time.Duration
}

// BlacklistConfig 黑名单配置
type BlacklistConfig struct {
	Expiry        time.Duration
	SweepInterval time.Duration
}

// PoolConfig 池配置
type PoolConfig struct {
	Goroutine GoroutinePoolConfig
	Buffer    BufferPoolConfig
}

// GoroutinePoolConfig 协程池配置
type GoroutinePoolConfig struct {
	Workers int
}

// BufferPoolConfig 缓冲区池配置
type BufferPoolConfig struct {
	Size int
}

// AdminConfig 管理接口配置
type AdminConfig struct {
	Enabled bool
	Address string
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level            string
	Format           string
	Output           string
	LogDir           string
	BaseName         string
	MaxSizeMB        int
	MaxAgeDays       int
	MaxBackups       int
	Compress         bool
	EnableErrorFile  bool
	Async            bool
	AsyncChannelSize int
}

// ToLoggerConfig converts to the pkg/logger configuration.
func (c LoggerConfig) ToLoggerConfig() *logger.Config {
	return &logger.Config{
		LogDir:           c.LogDir,
		BaseName:         c.BaseName,
		Format:           c.Format,
		Level:            logger.ParseLevel(c.Level),
		Output:           c.Output,
		Compress:         c.Compress,
		MaxSizeMB:        c.MaxSizeMB,
		MaxBackups:       c.MaxBackups,
		MaxAgeDays:       c.MaxAgeDays,
		EnableErrorFile:  c.EnableErrorFile,
		Async:            c.Async,
		AsyncChannelSize: c.AsyncChannelSize,
	}
}
