// Copyright (c) 2025 cocowh. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package observability

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cocowh/portshift/pkg/logger"
)

// Recorder is the gateway's event sink: it logs every event, feeds the
// prometheus collectors and republishes events to live subscribers.
type Recorder struct {
	metrics *Metrics

	mutex       sync.RWMutex
	subscribers map[uint64]chan Event
	nextID      uint64
	dropped     atomic.Uint64
}

// NewRecorder 创建事件记录器
func NewRecorder(metrics *Metrics) *Recorder {
	return &Recorder{
		metrics:     metrics,
		subscribers: make(map[uint64]chan Event),
	}
}

// Metrics returns the collectors fed by this recorder, possibly nil.
func (r *Recorder) Metrics() *Metrics {
	return r.metrics
}

// Emit implements Sink.
func (r *Recorder) Emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	if e.Err != nil && e.Error == "" {
		e.Error = e.Err.Error()
	}

	logEvent(e)
	if r.metrics != nil {
		r.metrics.Emit(e)
	}
	r.publish(e)
}

// Subscribe returns a channel receiving every subsequent event and a func
// that detaches it. Slow subscribers lose events instead of blocking the
// gateway.
func (r *Recorder) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	r.mutex.Lock()
	id := r.nextID
	r.nextID++
	r.subscribers[id] = ch
	r.mutex.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mutex.Lock()
			delete(r.subscribers, id)
			r.mutex.Unlock()
			close(ch)
		})
	}
}

// Dropped returns how many events were discarded for slow subscribers.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

func (r *Recorder) publish(e Event) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, ch := range r.subscribers {
		select {
		case ch <- e:
		default:
			r.dropped.Add(1)
		}
	}
}

func logEvent(e Event) {
	switch e.Kind {
	case EventGenerationStarted:
		logger.Infof("Generation %s started: epoch=%d listeners=%d", e.Generation, e.Epoch, e.Listeners)
	case EventGenerationEnded:
		logger.Infof("Generation %s ended after %s", e.Generation, e.Duration)
	case EventListenerBound:
		logger.Debugf("Listening on port %d (generation %s)", e.Port, e.Generation)
	case EventBindFailed:
		logger.Warnf("Failed to bind %s port %d (generation %s): %s", e.Role, e.Port, e.Generation, e.Error)
	case EventConnectionAccepted:
		logger.Infof("Connection accepted from %s on %s port %d", e.Addr, e.Role, e.Port)
	case EventConnectionRejected:
		logger.Warnf("Connection refused from blacklisted %s on port %d", e.Addr, e.Port)
	case EventAddressBlacklisted:
		logger.Warnf("Blacklisting address %s (decoy port %d)", e.Addr, e.Port)
	case EventBackendUnavailable:
		logger.Errorf("Backend unavailable for %s: %s", e.Addr, e.Error)
	case EventProxyStreamError:
		logger.Warnf("Proxy stream error for %s: %s", e.Addr, e.Error)
	case EventSessionClosed:
		logger.Debugf("Session from %s closed after %s (in=%d out=%d)", e.Addr, e.Duration, e.BytesIn, e.BytesOut)
	default:
		logger.Debugf("Event %s", e.Kind)
	}
}
