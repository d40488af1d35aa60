// Copyright (c) 2025 cocowh. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package rotation

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/cocowh/portshift/core/portset"
	"github.com/cocowh/portshift/core/utils"
	"github.com/cocowh/portshift/pkg/errors"
	"github.com/cocowh/portshift/pkg/logger"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Handler receives every connection accepted by a generation's listeners.
type Handler interface {
	Handle(ctx context.Context, role portset.Role, conn net.Conn)
}

// Submitter runs a connection handler off the accept goroutine.
type Submitter interface {
	Submit(task func())
}

// ListenFunc binds a TCP listener, net.ListenConfig.Listen by default.
type ListenFunc func(ctx context.Context, network, address string) (net.Listener, error)

// listener owns one bound port of a generation.
type listener struct {
	port     int
	role     portset.Role
	ln       net.Listener
	handler  Handler
	submit   Submitter
	sessions *semaphore.Weighted // nil means unlimited
	wg       sync.WaitGroup
	closed   atomic.Bool
	closeErr error
	once     sync.Once
	cancel   context.CancelFunc
}

// newListener wraps ln. maxSessions > 0 caps how many handlers of this
// listener run at once; further connections wait in the kernel backlog.
func newListener(port int, role portset.Role, ln net.Listener, handler Handler, submit Submitter, maxSessions int) *listener {
	l := &listener{
		port:    port,
		role:    role,
		ln:      ln,
		handler: handler,
		submit:  submit,
	}
	if maxSessions > 0 {
		l.sessions = semaphore.NewWeighted(int64(maxSessions))
	}
	return l
}

// start launches the accept loop. Handlers get a context carrying ctx's
// values but not its cancellation: a connection accepted before shutdown
// still gets its backend dial.
func (l *listener) start(ctx context.Context) {
	acceptCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.wg.Add(1)
	go l.acceptLoop(acceptCtx, context.WithoutCancel(ctx))
}

// stop closes the socket and waits for the accept loop. Connections already
// handed off are not touched. Safe to call more than once.
func (l *listener) stop() error {
	l.once.Do(func() {
		l.closed.Store(true)
		if l.cancel != nil {
			l.cancel()
		}
		l.closeErr = l.ln.Close()
		l.wg.Wait()
		if errors.IsClosed(l.closeErr) {
			l.closeErr = nil
		}
	})
	return l.closeErr
}

func (l *listener) acceptLoop(ctx, handlerCtx context.Context) {
	defer l.wg.Done()
	defer utils.PanicHandler(nil)

	var backoff time.Duration
	for {
		if l.sessions != nil {
			if err := l.sessions.Acquire(ctx, 1); err != nil {
				return
			}
		}

		conn, err := l.ln.Accept()
		if err != nil {
			l.release()
			if l.closed.Load() || errors.IsClosed(err) {
				return
			}
			gwErr := errors.Convert(err).
				WithContext("operation", "accept_connection").
				WithContext("port", l.port)
			// resource exhaustion (EMFILE and friends) needs descriptors to
			// be freed, so it waits the longest; network hiccups retry fast
			switch {
			case !errors.IsNetworkError(gwErr):
				backoff = maxAcceptBackoff
			case backoff == 0:
				backoff = minAcceptBackoff
			default:
				if backoff *= 2; backoff > maxAcceptBackoff {
					backoff = maxAcceptBackoff
				}
			}
			errors.Handle(ctx, gwErr)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		logger.Debugf("Accepted connection from %s on %s port %d", conn.RemoteAddr(), l.role, l.port)
		l.submit.Submit(func() {
			defer l.release()
			l.handler.Handle(handlerCtx, l.role, conn)
		})
	}
}

func (l *listener) release() {
	if l.sessions != nil {
		l.sessions.Release(1)
	}
}
