// Copyright (c) 2025 cocowh. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package proxy

import (
	"context"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cocowh/portshift/pkg/buffer"
	"github.com/cocowh/portshift/pkg/errors"
)

const (
	DefaultDialTimeout      = 5 * time.Second
	DefaultHalfCloseTimeout = 30 * time.Second
)

// Stats describes a finished relay.
type Stats struct {
	BytesIn  int64 // client -> backend
	BytesOut int64 // backend -> client
	Duration time.Duration
}

// Dialer opens backend connections.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Proxy relays accepted connections to one fixed backend.
type Proxy struct {
	backend          string
	dialTimeout      time.Duration
	halfCloseTimeout time.Duration
	dialer           Dialer
	buffers          *buffer.Pool
}

type Option func(*Proxy)

// WithDialTimeout bounds the backend connect.
func WithDialTimeout(d time.Duration) Option {
	return func(p *Proxy) {
		if d > 0 {
			p.dialTimeout = d
		}
	}
}

// WithHalfCloseTimeout bounds how long the remaining direction may stay
// idle once the other one has finished.
func WithHalfCloseTimeout(d time.Duration) Option {
	return func(p *Proxy) {
		if d > 0 {
			p.halfCloseTimeout = d
		}
	}
}

// WithDialer replaces net.Dialer.
func WithDialer(d Dialer) Option {
	return func(p *Proxy) {
		if d != nil {
			p.dialer = d
		}
	}
}

// WithBufferPool shares copy buffers with other components.
func WithBufferPool(pool *buffer.Pool) Option {
	return func(p *Proxy) {
		if pool != nil {
			p.buffers = pool
		}
	}
}

// New 创建转发器
func New(host string, port int, opts ...Option) *Proxy {
	p := &Proxy{
		backend:          net.JoinHostPort(host, strconv.Itoa(port)),
		dialTimeout:      DefaultDialTimeout,
		halfCloseTimeout: DefaultHalfCloseTimeout,
		dialer:           &net.Dialer{},
		buffers:          buffer.NewPool(buffer.DefaultSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Backend returns the host:port relayed to.
func (p *Proxy) Backend() string {
	return p.backend
}

// Relay dials the backend and pipes bytes both ways until both directions
// have finished. client is always closed on return. ctx bounds only the
// dial; an established relay ends when its endpoints close, or when one
// direction has finished and the other stays idle past the half-close
// timeout.
func (p *Proxy) Relay(ctx context.Context, client net.Conn) (Stats, error) {
	start := time.Now()

	dialCtx, cancel := context.WithTimeout(ctx, p.dialTimeout)
	backend, err := p.dialer.DialContext(dialCtx, "tcp", p.backend)
	cancel()
	if err != nil {
		client.Close()
		return Stats{Duration: time.Since(start)}, errors.BackendUnavailable(p.backend, err)
	}

	var (
		wg                sync.WaitGroup
		inErr, outErr     error
		bytesIn, bytesOut int64
	)
	fromClient := &idleConn{Conn: client}
	fromBackend := &idleConn{Conn: backend}

	wg.Add(2)
	go func() {
		defer wg.Done()
		bytesIn, inErr = p.pipe(backend, fromClient)
		fromBackend.arm(p.halfCloseTimeout)
	}()
	go func() {
		defer wg.Done()
		bytesOut, outErr = p.pipe(client, fromBackend)
		fromClient.arm(p.halfCloseTimeout)
	}()
	wg.Wait()

	client.Close()
	backend.Close()

	stats := Stats{BytesIn: bytesIn, BytesOut: bytesOut, Duration: time.Since(start)}
	if err := streamError("upstream", inErr); err != nil {
		return stats, err
	}
	if err := streamError("downstream", outErr); err != nil {
		return stats, err
	}
	return stats, nil
}

// pipe copies src to dst, then half-closes dst so the peer sees EOF while
// the opposite direction keeps flowing. On a copy error both sides are
// closed so the other goroutine unblocks.
func (p *Proxy) pipe(dst net.Conn, src *idleConn) (int64, error) {
	buf := p.buffers.Get()
	defer p.buffers.Put(buf)

	n, err := io.CopyBuffer(writerOnly{dst}, src, *buf)
	if err != nil {
		dst.Close()
		src.Close()
		return n, err
	}

	if cw, ok := dst.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite()
	} else {
		dst.Close()
	}
	if cr, ok := src.Conn.(interface{ CloseRead() error }); ok {
		cr.CloseRead()
	}
	return n, nil
}

// writerOnly hides ReadFrom so CopyBuffer reads through idleConn and uses
// the pooled buffer.
type writerOnly struct {
	io.Writer
}

// idleConn reads with a sliding deadline once armed. A peer that stays
// silent past the deadline after the opposite direction finished is
// treated as done: the read reports EOF and the relay winds down.
type idleConn struct {
	net.Conn
	idle atomic.Int64
}

func (c *idleConn) arm(d time.Duration) {
	if d <= 0 {
		return
	}
	c.idle.Store(int64(d))
	c.Conn.SetReadDeadline(time.Now().Add(d))
}

func (c *idleConn) Read(b []byte) (int, error) {
	d := time.Duration(c.idle.Load())
	if d > 0 {
		c.Conn.SetReadDeadline(time.Now().Add(d))
	}
	n, err := c.Conn.Read(b)
	if err != nil && c.idle.Load() > 0 && errors.IsTimeout(err) {
		return n, io.EOF
	}
	return n, err
}

func streamError(direction string, err error) error {
	if err == nil || errors.IsClosed(err) {
		return nil
	}
	return errors.ProxyStreamError(direction, err)
}
