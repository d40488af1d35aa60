// Copyright (c) 2025 cocowh. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package errors

import (
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
)

// Convert maps an arbitrary error onto a *GatewayError. Errors that already
// are gateway errors are returned unchanged.
func Convert(err error) *GatewayError {
	if err == nil {
		return nil
	}

	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr
	}

	return convertBuiltin(err)
}

// convertBuiltin 内置错误转换逻辑
func convertBuiltin(err error) *GatewayError {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return Wrap(err, ErrCodeNetworkClosed, CategoryNetwork, LevelDebug, "Connection closed")
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Wrap(err, ErrCodeNetworkTimeout, CategoryNetwork, LevelWarn, "Network timeout")
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch {
		case errors.Is(errno, syscall.ECONNREFUSED):
			return Wrap(err, ErrCodeNetworkRefused, CategoryNetwork, LevelWarn, "Connection refused")
		case errors.Is(errno, syscall.ENETUNREACH), errors.Is(errno, syscall.EHOSTUNREACH):
			return Wrap(err, ErrCodeNetworkUnreachable, CategoryNetwork, LevelWarn, "Network unreachable")
		case errors.Is(errno, syscall.ETIMEDOUT):
			return Wrap(err, ErrCodeNetworkTimeout, CategoryNetwork, LevelWarn, "Connection timeout")
		case errors.Is(errno, syscall.ECONNRESET), errors.Is(errno, syscall.EPIPE):
			return Wrap(err, ErrCodeNetworkConnectionLost, CategoryNetwork, LevelWarn, "Connection lost")
		case errors.Is(errno, syscall.EMFILE), errors.Is(errno, syscall.ENFILE):
			return Wrap(err, ErrCodeSystemResourceLimit, CategorySystem, LevelError, "Too many open files")
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "use of closed network connection"):
		return Wrap(err, ErrCodeNetworkClosed, CategoryNetwork, LevelDebug, "Connection closed")
	case strings.Contains(msg, "connection refused"):
		return Wrap(err, ErrCodeNetworkRefused, CategoryNetwork, LevelWarn, "Connection refused")
	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "broken pipe"):
		return Wrap(err, ErrCodeNetworkConnectionLost, CategoryNetwork, LevelWarn, "Connection lost")
	}

	return Wrap(err, ErrCodeSystemUnknown, CategorySystem, LevelError, "Unknown error")
}

// SystemError create system error
func SystemError(code ErrorCode, message string) *GatewayError {
	return New(code, CategorySystem, LevelError, message)
}

// NetworkError create network error
func NetworkError(code ErrorCode, message string) *GatewayError {
	return New(code, CategoryNetwork, LevelError, message)
}

// ConfigError create config error
func ConfigError(code ErrorCode, message string) *GatewayError {
	return New(code, CategoryConfig, LevelFatal, message)
}

// ConfigErrorf create config error with format message
func ConfigErrorf(code ErrorCode, format string, args ...interface{}) *GatewayError {
	return Newf(code, CategoryConfig, LevelFatal, format, args...)
}

// GenerationFailure reports an unusable port set configuration.
func GenerationFailure(format string, args ...interface{}) *GatewayError {
	return Newf(ErrCodeGenerationFailure, CategoryRotation, LevelFatal, format, args...)
}

// BindFailure reports a listener that could not be bound.
func BindFailure(port int, cause error) *GatewayError {
	return Wrap(cause, ErrCodeBindFailure, CategoryRotation, LevelWarn, "failed to bind listener").
		WithContext("port", port)
}

// BackendUnavailable reports a failed backend dial for one client.
func BackendUnavailable(addr string, cause error) *GatewayError {
	return Wrap(cause, ErrCodeBackendUnavailable, CategoryProxy, LevelWarn, "backend unavailable").
		WithContext("backend", addr)
}

// ProxyStreamError reports an I/O failure in the middle of a relay.
func ProxyStreamError(direction string, cause error) *GatewayError {
	return Wrap(cause, ErrCodeProxyStream, CategoryProxy, LevelWarn, "proxy stream error").
		WithContext("direction", direction)
}

// IsNetworkError 检查是否为网络错误
func IsNetworkError(err error) bool {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Category == CategoryNetwork
	}
	return false
}

// IsClosed reports whether err only signals an orderly close.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	return Convert(err).Code == ErrCodeNetworkClosed
}

// IsTimeout reports whether err is a deadline or timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	return Convert(err).Code == ErrCodeNetworkTimeout
}

// IsFatal 检查是否为致命错误
func IsFatal(err error) bool {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Level == LevelFatal
	}
	return false
}
