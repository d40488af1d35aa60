// Copyright (c) 2025 cocowh. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"net"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/cocowh/portshift/core/config/parser"
	"github.com/cocowh/portshift/core/portset"
	"github.com/cocowh/portshift/pkg/errors"
)

// EnvPrefix prefixes every environment override, e.g.
// PORTSHIFT_GATEWAY_SHARED_SECRET for gateway.shared_secret.
const EnvPrefix = "PORTSHIFT"

const redacted = "******"

// minRotationPeriod keeps epochs long enough for clients to connect.
const minRotationPeriod = time.Second

var defaults = map[string]any{
	"gateway.base_port":             10000,
	"gateway.listen_host":           "",
	"gateway.port_set_size":         portset.DefaultSize,
	"gateway.shared_secret":         "",
	"gateway.hash":                  "sha256",
	"gateway.max_sessions_per_port": 0,
	"gateway.shutdown_timeout":      "10s",

	"backend.host":               "localhost",
	"backend.port":               8080,
	"backend.dial_timeout":       "5s",
	"backend.half_close_timeout": "30s",

	"rotation.period":           "60s",
	"rotation.align_to_epoch":   true,
	"rotation.grace_period":     "0s",
	"rotation.max_bind_retries": 5,
	"rotation.retry_delay":      "1s",

	"blacklist.expiry":         "10s",
	"blacklist.sweep_interval": "1m",

	"pools.goroutine.workers": 0, // 0 means use CPU count
	"pools.buffer.size":       32 * 1024,

	"admin.enabled": false,
	"admin.address": "127.0.0.1:9090",

	"logger.level":              "info",
	"logger.format":             "text",
	"logger.output":             "console",
	"logger.log_dir":            "./logs",
	"logger.base_name":          "portshift",
	"logger.max_size_mb":        100,
	"logger.max_age_days":       7,
	"logger.max_backups":        3,
	"logger.compress":           false,
	"logger.enable_error_file":  false,
	"logger.async":              false,
	"logger.async_channel_size": 1024,
}

// ConfigManager 配置管理器
type ConfigManager struct {
	viper *viper.Viper
	path  string
	mutex sync.RWMutex
}

// NewConfigManager 创建配置管理器. An empty path runs on defaults and
// environment overrides only; a path that cannot be read is an error.
func NewConfigManager(configPath string) (*ConfigManager, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cm := &ConfigManager{viper: v, path: configPath}
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.ConfigError(errors.ErrCodeConfigNotFound, "failed to read config file").
				WithCause(err).
				WithContext("config_path", configPath)
		}
	}
	return cm, nil
}

// Path returns the file the configuration was read from, if any.
func (cm *ConfigManager) Path() string {
	return cm.path
}

// Set overrides key with the highest precedence; used for CLI flags.
func (cm *ConfigManager) Set(key string, value any) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.viper.Set(key, value)
}

// Validate rejects configurations the gateway cannot start with. Every
// problem is reported, not just the first.
func (cm *ConfigManager) Validate() error {
	gw := cm.GetGatewayConfig()
	backend := cm.GetBackendConfig()
	rot := cm.GetRotationConfig()
	bl := cm.GetBlacklistConfig()
	admin := cm.GetAdminConfig()

	var err error
	invalid := func(key, format string, args ...any) {
		err = multierr.Append(err, errors.ConfigErrorf(errors.ErrCodeConfigInvalid, format, args...).WithContext("key", key))
	}

	if gw.SharedSecret == "" {
		invalid("gateway.shared_secret", "gateway.shared_secret is required")
	}
	if gw.PortSetSize < 1 || gw.PortSetSize > portset.MaxSize {
		invalid("gateway.port_set_size", "gateway.port_set_size %d outside [1, %d]", gw.PortSetSize, portset.MaxSize)
	}
	if gw.BasePort < 1 || gw.BasePort+portset.MaxSize-1 > 65535 {
		invalid("gateway.base_port", "gateway.base_port %d leaves no room for %d offsets", gw.BasePort, portset.MaxSize)
	}
	if _, herr := portset.LookupHasher(gw.Hash); herr != nil {
		invalid("gateway.hash", "unknown gateway.hash %q (want one of %s)", gw.Hash, strings.Join(portset.HasherNames(), ", "))
	}
	if gw.MaxSessionsPerPort < 0 {
		invalid("gateway.max_sessions_per_port", "gateway.max_sessions_per_port must not be negative")
	}
	if backend.Host == "" {
		invalid("backend.host", "backend.host is required")
	}
	if backend.Port < 1 || backend.Port > 65535 {
		invalid("backend.port", "backend.port %d is not a valid port", backend.Port)
	}
	if backend.HalfCloseTimeout <= 0 {
		invalid("backend.half_close_timeout", "backend.half_close_timeout must be positive")
	}
	if rot.Period < minRotationPeriod {
		invalid("rotation.period", "rotation.period %s is shorter than %s", rot.Period, minRotationPeriod)
	}
	if rot.GracePeriod < 0 {
		invalid("rotation.grace_period", "rotation.grace_period must not be negative")
	}
	if rot.MaxBindRetries < 0 {
		invalid("rotation.max_bind_retries", "rotation.max_bind_retries must not be negative")
	}
	if bl.Expiry <= 0 {
		invalid("blacklist.expiry", "blacklist.expiry must be positive")
	}
	if admin.Enabled {
		if _, _, aerr := net.SplitHostPort(admin.Address); aerr != nil {
			invalid("admin.address", "admin.address %q: %v", admin.Address, aerr)
		}
	}
	return err
}

// AllSettings returns the effective configuration as a nested map with the
// shared secret redacted.
func (cm *ConfigManager) AllSettings() map[string]interface{} {
	cm.mutex.RLock()
	settings := cm.viper.AllSettings()
	cm.mutex.RUnlock()

	if gw, ok := settings["gateway"].(map[string]interface{}); ok {
		if s, _ := gw["shared_secret"].(string); s != "" {
			gw["shared_secret"] = redacted
		}
	}
	return settings
}

// Render serialises the effective configuration as yaml, toml or json.
func (cm *ConfigManager) Render(format string) ([]byte, error) {
	p, err := parser.ForFormat(format)
	if err != nil {
		return nil, err
	}
	out, err := p.Marshal(cm.AllSettings())
	if err != nil {
		return nil, errors.ConfigError(errors.ErrCodeConfigParseError, "failed to render config").
			WithCause(err).
			WithContext("format", format)
	}
	return out, nil
}

// GetGatewayConfig 获取网关配置
func (cm *ConfigManager) GetGatewayConfig() GatewayConfig {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	return GatewayConfig{
		BasePort:           cm.viper.GetInt("gateway.base_port"),
		ListenHost:         cm.viper.GetString("gateway.listen_host"),
		PortSetSize:        cm.viper.GetInt("gateway.port_set_size"),
		SharedSecret:       cm.viper.GetString("gateway.shared_secret"),
		Hash:               cm.viper.GetString("gateway.hash"),
		MaxSessionsPerPort: cm.viper.GetInt("gateway.max_sessions_per_port"),
		ShutdownTimeout:    cm.viper.GetDuration("gateway.shutdown_timeout"),
	}
}

// GetBackendConfig 获取后端配置
func (cm *ConfigManager) GetBackendConfig() BackendConfig {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	return BackendConfig{
		Host:        cm.viper.GetString("backend.host"),
		Port:        cm.viper.GetInt("backend.port"),
		DialTimeout:      cm.viper.GetDuration("backend.dial_timeout"),
		HalfCloseTimeout: cm.viper.GetDuration("backend.half_close_timeout"),
	}
}

// GetRotationConfig 获取轮换配置
func (cm *ConfigManager) GetRotationConfig() RotationConfig {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	return RotationConfig{
		Period:         cm.viper.GetDuration("rotation.period"),
		AlignToEpoch:   cm.viper.GetBool("rotation.align_to_epoch"),
		GracePeriod:    cm.viper.GetDuration("rotation.grace_period"),
		MaxBindRetries: cm.viper.GetInt("rotation.max_bind_retries"),
		RetryDelay:     cm.viper.GetDuration("rotation.retry_delay"),
	}
}

// GetBlacklistConfig 获取黑名单配置
func (cm *ConfigManager) GetBlacklistConfig() BlacklistConfig {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	return BlacklistConfig{
		Expiry:        cm.viper.GetDuration("blacklist.expiry"),
		SweepInterval: cm.viper.GetDuration("blacklist.sweep_interval"),
	}
}

// GetPoolConfig 获取池配置
func (cm *ConfigManager) GetPoolConfig() PoolConfig {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	return PoolConfig{
		Goroutine: GoroutinePoolConfig{
			Workers: cm.viper.GetInt("pools.goroutine.workers"),
		},
		Buffer: BufferPoolConfig{
			Size: cm.viper.GetInt("pools.buffer.size"),
		},
	}
}

// GetAdminConfig 获取管理接口配置
func (cm *ConfigManager) GetAdminConfig() AdminConfig {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	return AdminConfig{
		Enabled: cm.viper.GetBool("admin.enabled"),
		Address: cm.viper.GetString("admin.address"),
	}
}

// GetLoggerConfig 获取日志配置
func (cm *ConfigManager) GetLoggerConfig() LoggerConfig {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	return LoggerConfig{
		Level:            cm.viper.GetString("logger.level"),
		Format:           cm.viper.GetString("logger.format"),
		Output:           cm.viper.GetString("logger.output"),
		LogDir:           cm.viper.GetString("logger.log_dir"),
		BaseName:         cm.viper.GetString("logger.base_name"),
		MaxSizeMB:        cm.viper.GetInt("logger.max_size_mb"),
		MaxAgeDays:       cm.viper.GetInt("logger.max_age_days"),
		MaxBackups:       cm.viper.GetInt("logger.max_backups"),
		Compress:         cm.viper.GetBool("logger.compress"),
		EnableErrorFile:  cm.viper.GetBool("logger.enable_error_file"),
		Async:            cm.viper.GetBool("logger.async"),
		AsyncChannelSize: cm.viper.GetInt("logger.async_channel_size"),
	}
}
