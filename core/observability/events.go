// Copyright (c) 2025 cocowh. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package observability

import (
	"time"
)

// EventKind names a gateway lifecycle event.
type EventKind string

const (
	EventGenerationStarted  EventKind = "generation_started"
	EventGenerationEnded    EventKind = "generation_ended"
	EventListenerBound      EventKind = "listener_bound"
	EventBindFailed         EventKind = "bind_failed"
	EventConnectionAccepted EventKind = "connection_accepted"
	EventConnectionRejected EventKind = "connection_rejected"
	EventAddressBlacklisted EventKind = "address_blacklisted"
	EventBackendUnavailable EventKind = "backend_unavailable"
	EventProxyStreamError   EventKind = "proxy_stream_error"
	EventSessionClosed      EventKind = "session_closed"
)

// Event is emitted by the rotation manager and the connection router. Fields
// that do not apply to a kind are left zero.
type Event struct {
	Kind       EventKind     `json:"kind"`
	Time       time.Time     `json:"time"`
	Generation string        `json:"generation,omitempty"`
	Epoch      int64         `json:"epoch,omitempty"`
	Port       int           `json:"port,omitempty"`
	Role       string        `json:"role,omitempty"`
	Addr       string        `json:"addr,omitempty"`
	Listeners  int           `json:"listeners,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	BytesIn    int64         `json:"bytes_in,omitempty"`
	BytesOut   int64         `json:"bytes_out,omitempty"`
	Err        error         `json:"-"`
	Error      string        `json:"error,omitempty"`
}

// Sink receives events. Implementations must not block.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) {
	f(e)
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Multi fans an event out to several sinks in order.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(e Event) {
		for _, s := range sinks {
			if s != nil {
				s.Emit(e)
			}
		}
	})
}
