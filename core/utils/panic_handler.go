// Copyright (c) 2025 cocowh. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package utils

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/cocowh/portshift/pkg/errors"
)

// PanicHandlerFunc must be invoked directly by a deferred call so that
// recover sees the panic.
type PanicHandlerFunc func(onPanic func())

// PanicHandler is deferred at the top of every goroutine the gateway starts.
// A panic is reported through the error manager with its stack, then
// onPanic runs if set. The goroutine ends; the process does not.
var PanicHandler PanicHandlerFunc = reportPanic

func reportPanic(onPanic func()) {
	if r := recover(); r != nil {
		errors.Handle(context.Background(), errors.SystemError(errors.ErrCodeSystemInternalError,
			fmt.Sprintf("recovered panic: %v\n%s", r, debug.Stack())))
		if onPanic != nil {
			onPanic()
		}
	}
}
