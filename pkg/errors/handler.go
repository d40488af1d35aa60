// Copyright (c) 2025 cocowh. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package errors

import (
	"context"
	"sync"
	"time"

	"github.com/cocowh/portshift/pkg/logger"
)

// ErrorMetrics 错误指标
type ErrorMetrics struct {
	TotalErrors      int64                   `json:"total_errors"`
	ErrorsByCode     map[ErrorCode]int64     `json:"errors_by_code"`
	ErrorsByCategory map[ErrorCategory]int64 `json:"errors_by_category"`
	LastErrorTime    time.Time               `json:"last_error_time"`
}

// ErrorManager converts, counts and logs errors that have no caller left to
// return to (accept loops, relay goroutines).
type ErrorManager struct {
	mutex   sync.Mutex
	metrics ErrorMetrics
}

// NewErrorManager 创建错误管理器
func NewErrorManager() *ErrorManager {
	return &ErrorManager{
		metrics: ErrorMetrics{
			ErrorsByCode:     make(map[ErrorCode]int64),
			ErrorsByCategory: make(map[ErrorCategory]int64),
		},
	}
}

// Handle converts err, records it and logs it at its own level.
func (em *ErrorManager) Handle(ctx context.Context, err error) *GatewayError {
	if err == nil {
		return nil
	}
	gwErr := Convert(err)

	em.mutex.Lock()
	em.metrics.TotalErrors++
	em.metrics.ErrorsByCode[gwErr.Code]++
	em.metrics.ErrorsByCategory[gwErr.Category]++
	em.metrics.LastErrorTime = time.Now()
	em.mutex.Unlock()

	logError(gwErr)
	return gwErr
}

// GetMetrics returns a copy of the counters.
func (em *ErrorManager) GetMetrics() ErrorMetrics {
	em.mutex.Lock()
	defer em.mutex.Unlock()

	m := ErrorMetrics{
		TotalErrors:      em.metrics.TotalErrors,
		ErrorsByCode:     make(map[ErrorCode]int64, len(em.metrics.ErrorsByCode)),
		ErrorsByCategory: make(map[ErrorCategory]int64, len(em.metrics.ErrorsByCategory)),
		LastErrorTime:    em.metrics.LastErrorTime,
	}
	for k, v := range em.metrics.ErrorsByCode {
		m.ErrorsByCode[k] = v
	}
	for k, v := range em.metrics.ErrorsByCategory {
		m.ErrorsByCategory[k] = v
	}
	return m
}

func logError(err *GatewayError) {
	switch err.Level {
	case LevelTrace, LevelDebug:
		logger.Debugf("[%s:%d] %s: %v", err.Category, err.Code, err.Message, err.Cause)
	case LevelInfo:
		logger.Infof("[%s:%d] %s: %v", err.Category, err.Code, err.Message, err.Cause)
	case LevelWarn:
		logger.Warnf("[%s:%d] %s: %v", err.Category, err.Code, err.Message, err.Cause)
	default:
		// fatal errors are logged, never exited on, here: the caller owns process shutdown
		logger.Errorf("[%s:%d] %s: %v", err.Category, err.Code, err.Message, err.Cause)
	}
}

// 全局错误管理器实例
var globalErrorManager = NewErrorManager()

// Handle 全局错误处理函数
func Handle(ctx context.Context, err error) *GatewayError {
	return globalErrorManager.Handle(ctx, err)
}

// GetMetrics 获取全局错误指标
func GetMetrics() ErrorMetrics {
	return globalErrorManager.GetMetrics()
}
