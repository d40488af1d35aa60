// Copyright (c) 2025 cocowh. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"
)

// HTTPErrorResponse HTTP错误响应结构
type HTTPErrorResponse struct {
	Error     string                 `json:"error"`
	Code      int                    `json:"code"`
	Category  ErrorCategory          `json:"category"`
	Message   string                 `json:"message"`
	Summary   string                 `json:"summary"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// HTTPErrorMiddleware HTTP错误处理中间件
type HTTPErrorMiddleware struct {
	manager      *ErrorManager
	includeStack bool
	debugMode    bool
}

// HTTPMiddlewareOption HTTP中间件选项
type HTTPMiddlewareOption func(*HTTPErrorMiddleware)

// WithStackTrace 包含堆栈跟踪
func WithStackTrace(include bool) HTTPMiddlewareOption {
	return func(m *HTTPErrorMiddleware) {
		m.includeStack = include
	}
}

// WithDebugMode 启用调试模式
func WithDebugMode(debug bool) HTTPMiddlewareOption {
	return func(m *HTTPErrorMiddleware) {
		m.debugMode = debug
	}
}

// NewHTTPErrorMiddleware 创建HTTP错误中间件. A nil manager reports to the
// process-wide one.
func NewHTTPErrorMiddleware(manager *ErrorManager, options ...HTTPMiddlewareOption) *HTTPErrorMiddleware {
	if manager == nil {
		manager = globalErrorManager
	}
	m := &HTTPErrorMiddleware{manager: manager}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// Middleware turns a handler panic into a logged system error and a JSON
// 500 response. The ResponseWriter is passed through untouched so that
// hijacking handlers such as websockets keep working.
func (m *HTTPErrorMiddleware) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					panicErr := SystemError(ErrCodeSystemInternalError, fmt.Sprintf("panic: %v", rec)).
						WithContext("path", r.URL.Path)
					if m.includeStack {
						panicErr = panicErr.WithContext("stack", string(debug.Stack()))
					}
					m.manager.Handle(r.Context(), panicErr)
					m.WriteError(w, panicErr)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// WriteError writes err as a JSON error document.
func (m *HTTPErrorMiddleware) WriteError(w http.ResponseWriter, err error) {
	gwErr := Convert(err)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", fmt.Sprintf("%d", gwErr.Code))
	w.WriteHeader(HTTPStatus(gwErr))

	resp := HTTPErrorResponse{
		Error:     gwErr.Error(),
		Code:      int(gwErr.Code),
		Category:  gwErr.Category,
		Message:   gwErr.Message,
		Summary:   GetErrorMessage(gwErr.Code),
		Timestamp: time.Now(),
	}
	if m.debugMode {
		resp.Details = map[string]interface{}{"level": gwErr.Level.String()}
		for k, v := range gwErr.Context {
			resp.Details[k] = v
		}
		if gwErr.Cause != nil {
			resp.Details["cause"] = gwErr.Cause.Error()
		}
	}
	json.NewEncoder(w).Encode(resp)
}

// HTTPStatus 获取HTTP状态码
func HTTPStatus(err *GatewayError) int {
	switch err.Code {
	case ErrCodeConfigNotFound:
		return http.StatusNotFound
	case ErrCodeConfigInvalid:
		return http.StatusBadRequest
	case ErrCodeNetworkTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeNetworkRefused, ErrCodeNetworkUnreachable, ErrCodeBackendUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeSystemShutdown:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
