// Copyright (c) 2025 cocowh. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package observability

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsFollowEvents(t *testing.T) {
	m := NewMetrics()
	r := NewRecorder(m)

	r.Emit(Event{Kind: EventGenerationStarted, Listeners: 16})
	r.Emit(Event{Kind: EventBindFailed, Role: "decoy"})
	r.Emit(Event{Kind: EventConnectionAccepted, Role: "genuine"})
	r.Emit(Event{Kind: EventConnectionRejected, Role: "genuine"})
	r.Emit(Event{Kind: EventConnectionAccepted, Role: "decoy"})
	r.Emit(Event{Kind: EventAddressBlacklisted, Role: "decoy"})
	r.Emit(Event{Kind: EventSessionClosed, Role: "genuine", Duration: time.Second, BytesIn: 10, BytesOut: 20})

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"generations", testutil.ToFloat64(m.generationsTotal), 1},
		{"listeners", testutil.ToFloat64(m.listenersBound), 16},
		{"bind failures", testutil.ToFloat64(m.bindFailures.WithLabelValues("decoy")), 1},
		{"accepted", testutil.ToFloat64(m.connectionsTotal.WithLabelValues("genuine", "accepted")), 1},
		{"decoy accepted", testutil.ToFloat64(m.connectionsTotal.WithLabelValues("decoy", "accepted")), 1},
		{"rejected", testutil.ToFloat64(m.connectionsTotal.WithLabelValues("genuine", "rejected")), 1},
		{"blacklisted", testutil.ToFloat64(m.blacklistedTotal), 1},
		{"active sessions", testutil.ToFloat64(m.activeSessions), 0},
		{"bytes upstream", testutil.ToFloat64(m.bytesRelayed.WithLabelValues("upstream")), 10},
		{"bytes downstream", testutil.ToFloat64(m.bytesRelayed.WithLabelValues("downstream")), 20},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestSubscribeReceivesEvents(t *testing.T) {
	r := NewRecorder(nil)
	ch, unsubscribe := r.Subscribe(4)
	defer unsubscribe()

	r.Emit(Event{Kind: EventBackendUnavailable, Addr: "10.0.0.1", Err: stderrors.New("refused")})

	select {
	case e := <-ch:
		if e.Kind != EventBackendUnavailable || e.Error != "refused" {
			t.Fatalf("event = %+v", e)
		}
		if e.Time.IsZero() {
			t.Fatal("event time not stamped")
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	r := NewRecorder(nil)
	_, unsubscribe := r.Subscribe(1)

	for i := 0; i < 5; i++ {
		r.Emit(Event{Kind: EventListenerBound, Port: 10000 + i})
	}
	if got := r.Dropped(); got != 4 {
		t.Fatalf("Dropped() = %d, want 4", got)
	}

	unsubscribe()
	unsubscribe()
	r.Emit(Event{Kind: EventListenerBound})
	if got := r.Dropped(); got != 4 {
		t.Fatalf("Dropped() = %d after unsubscribe, want 4", got)
	}
}

func TestMultiAndDiscard(t *testing.T) {
	var n int
	count := SinkFunc(func(Event) { n++ })
	Multi(count, nil, Discard, count).Emit(Event{Kind: EventSessionClosed})
	if n != 2 {
		t.Fatalf("Multi delivered %d times, want 2", n)
	}
}
