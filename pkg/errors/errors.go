// Copyright (c) 2025 cocowh. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode error code
type ErrorCode int

// ErrorLevel error level
type ErrorLevel int

// ErrorCategory error category
type ErrorCategory string

const (
	LevelTrace ErrorLevel = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (l ErrorLevel) String() string {
	switch l {
	case LevelTrace:
		return "trace"
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

const (
	CategorySystem   ErrorCategory = "system"   // 系统错误
	CategoryNetwork  ErrorCategory = "network"  // 网络错误
	CategoryConfig   ErrorCategory = "config"   // 配置错误
	CategoryRotation ErrorCategory = "rotation" // 端口轮换错误
	CategoryProxy    ErrorCategory = "proxy"    // 转发错误
)

// system error code (1000-1999)
const (
	ErrCodeSystemUnknown       ErrorCode = 1000
	ErrCodeSystemResourceLimit ErrorCode = 1002
	ErrCodeSystemInternalError ErrorCode = 1003
	ErrCodeSystemShutdown      ErrorCode = 1004
)

// network error code (2000-2999)
const (
	ErrCodeNetworkUnknown        ErrorCode = 2000
	ErrCodeNetworkTimeout        ErrorCode = 2001
	ErrCodeNetworkConnectionLost ErrorCode = 2002
	ErrCodeNetworkRefused        ErrorCode = 2003
	ErrCodeNetworkUnreachable    ErrorCode = 2004
	ErrCodeNetworkClosed         ErrorCode = 2005
)

// config error code (5000-5999)
const (
	ErrCodeConfigUnknown    ErrorCode = 5000
	ErrCodeConfigNotFound   ErrorCode = 5001
	ErrCodeConfigInvalid    ErrorCode = 5002
	ErrCodeConfigParseError ErrorCode = 5003
)

// rotation error code (11000-11999)
const (
	ErrCodeGenerationFailure ErrorCode = 11000
	ErrCodeBindFailure       ErrorCode = 11001
)

// proxy error code (12000-12999)
const (
	ErrCodeBackendUnavailable ErrorCode = 12000
	ErrCodeProxyStream        ErrorCode = 12001
)

// GatewayError is the coded error carried across every gateway boundary.
type GatewayError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Category  ErrorCategory          `json:"category"`
	Level     ErrorLevel             `json:"level"`
	Timestamp time.Time              `json:"timestamp"`
	Cause     error                  `json:"cause,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// Error implements error interface
func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%d] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%d] %s", e.Category, e.Code, e.Message)
}

// Unwrap 实现errors.Unwrap接口
func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// Is matches another *GatewayError with the same code.
func (e *GatewayError) Is(target error) bool {
	var t *GatewayError
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// WithContext with context
func (e *GatewayError) WithContext(key string, value interface{}) *GatewayError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCause with cause
func (e *GatewayError) WithCause(cause error) *GatewayError {
	e.Cause = cause
	return e
}

// New create error
func New(code ErrorCode, category ErrorCategory, level ErrorLevel, message string) *GatewayError {
	return &GatewayError{
		Code:      code,
		Message:   message,
		Category:  category,
		Level:     level,
		Timestamp: time.Now(),
	}
}

// Newf create error with format message
func Newf(code ErrorCode, category ErrorCategory, level ErrorLevel, format string, args ...interface{}) *GatewayError {
	return New(code, category, level, fmt.Sprintf(format, args...))
}

// Wrap existing error with code, category, level and message
func Wrap(err error, code ErrorCode, category ErrorCategory, level ErrorLevel, message string) *GatewayError {
	return New(code, category, level, message).WithCause(err)
}

// HasCode reports whether any error in err's chain is a *GatewayError with code.
func HasCode(err error, code ErrorCode) bool {
	var gwErr *GatewayError
	for err != nil {
		if errors.As(err, &gwErr) {
			if gwErr.Code == code {
				return true
			}
			err = gwErr.Cause
			continue
		}
		return false
	}
	return false
}

// GetErrorMessage get error message by error code
func GetErrorMessage(code ErrorCode) string {
	switch code {
	case ErrCodeSystemUnknown:
		return "Unknown system error"
	case ErrCodeSystemResourceLimit:
		return "System resource limit exceeded"
	case ErrCodeSystemInternalError:
		return "Internal system error"
	case ErrCodeSystemShutdown:
		return "System is shutting down"

	case ErrCodeNetworkUnknown:
		return "Unknown network error"
	case ErrCodeNetworkTimeout:
		return "Network operation timeout"
	case ErrCodeNetworkConnectionLost:
		return "Network connection lost"
	case ErrCodeNetworkRefused:
		return "Network connection refused"
	case ErrCodeNetworkUnreachable:
		return "Network unreachable"
	case ErrCodeNetworkClosed:
		return "Network connection closed"

	case ErrCodeConfigUnknown:
		return "Unknown config error"
	case ErrCodeConfigNotFound:
		return "Config not found"
	case ErrCodeConfigInvalid:
		return "Invalid config"
	case ErrCodeConfigParseError:
		return "Config parse error"

	case ErrCodeGenerationFailure:
		return "Port set generation failed"
	case ErrCodeBindFailure:
		return "Listener bind failed"

	case ErrCodeBackendUnavailable:
		return "Backend unavailable"
	case ErrCodeProxyStream:
		return "Proxy stream error"

	default:
		return "Unknown error"
	}
}
