// Copyright (c) 2025 cocowh. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package router

import (
	"context"
	"net"

	"github.com/cocowh/portshift/core/observability"
	"github.com/cocowh/portshift/core/portset"
	"github.com/cocowh/portshift/core/proxy"
	"github.com/cocowh/portshift/pkg/errors"
)

// Blacklist is the subset of the blacklist store the router needs.
type Blacklist interface {
	IsBlacklisted(addr string) bool
	Add(addr string)
}

// Relayer pipes a genuine connection to the backend.
type Relayer interface {
	Relay(ctx context.Context, client net.Conn) (proxy.Stats, error)
}

// Router decides what happens to a connection accepted on a listener of a
// given role.
type Router struct {
	blacklist Blacklist
	relayer   Relayer
	events    observability.Sink
}

// New 创建连接路由器
func New(blacklist Blacklist, relayer Relayer, events observability.Sink) *Router {
	if events == nil {
		events = observability.Discard
	}
	return &Router{
		blacklist: blacklist,
		relayer:   relayer,
		events:    events,
	}
}

// Handle routes conn according to role and always leaves conn closed when
// it returns. ctx bounds only the backend dial.
func (r *Router) Handle(ctx context.Context, role portset.Role, conn net.Conn) {
	switch role {
	case portset.RoleGenuine:
		r.handleGenuine(ctx, conn)
	default:
		r.handleDecoy(conn)
	}
}

func (r *Router) handleGenuine(ctx context.Context, conn net.Conn) {
	addr := SourceAddr(conn)
	port := localPort(conn)
	role := portset.RoleGenuine.String()

	if r.blacklist.IsBlacklisted(addr) {
		conn.Close()
		r.events.Emit(observability.Event{Kind: observability.EventConnectionRejected, Addr: addr, Port: port, Role: role})
		return
	}

	r.events.Emit(observability.Event{Kind: observability.EventConnectionAccepted, Addr: addr, Port: port, Role: role})
	stats, err := r.relayer.Relay(ctx, conn)
	switch {
	case errors.HasCode(err, errors.ErrCodeBackendUnavailable):
		r.events.Emit(observability.Event{Kind: observability.EventBackendUnavailable, Addr: addr, Port: port, Role: role, Err: err})
	case err != nil:
		r.events.Emit(observability.Event{Kind: observability.EventProxyStreamError, Addr: addr, Port: port, Role: role, Err: err})
	}
	r.events.Emit(observability.Event{
		Kind:     observability.EventSessionClosed,
		Addr:     addr,
		Port:     port,
		Role:     role,
		Duration: stats.Duration,
		BytesIn:  stats.BytesIn,
		BytesOut: stats.BytesOut,
	})
}

// handleDecoy traps the source: no legitimate client is ever told a decoy
// port, so any contact is a scan.
func (r *Router) handleDecoy(conn net.Conn) {
	addr := SourceAddr(conn)
	port := localPort(conn)
	role := portset.RoleDecoy.String()

	r.events.Emit(observability.Event{Kind: observability.EventConnectionAccepted, Addr: addr, Port: port, Role: role})
	r.blacklist.Add(addr)
	conn.Close()
	r.events.Emit(observability.Event{Kind: observability.EventAddressBlacklisted, Addr: addr, Port: port, Role: role})
}

// SourceAddr returns the remote host of conn without its port, so that
// every connection from one host shares a blacklist entry.
func SourceAddr(conn net.Conn) string {
	remote := conn.RemoteAddr()
	if remote == nil {
		return ""
	}
	if tcp, ok := remote.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(remote.String())
	if err != nil {
		return remote.String()
	}
	return host
}

func localPort(conn net.Conn) int {
	if tcp, ok := conn.LocalAddr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}
