// Copyright (c) 2025 cocowh. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's prometheus collectors on a private registry so
// several gateways (and tests) can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	generationsTotal   prometheus.Counter
	listenersBound     prometheus.Gauge
	bindFailures       *prometheus.CounterVec
	connectionsTotal   *prometheus.CounterVec
	blacklistedTotal   prometheus.Counter
	backendUnavailable prometheus.Counter
	streamErrors       prometheus.Counter
	activeSessions     prometheus.Gauge
	sessionDuration    prometheus.Histogram
	bytesRelayed       *prometheus.CounterVec
}

// NewMetrics 初始化指标
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		generationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portshift_generations_total",
			Help: "Total number of port set generations activated",
		}),
		listenersBound: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "portshift_listeners_bound",
			Help: "Number of listeners bound by the active generation",
		}),
		bindFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portshift_bind_failures_total",
			Help: "Total number of listener bind failures",
		}, []string{"role"}),
		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portshift_connections_total",
			Help: "Total number of accepted connections by role and outcome",
		}, []string{"role", "result"}),
		blacklistedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portshift_blacklisted_total",
			Help: "Total number of decoy hits that flagged an address",
		}),
		backendUnavailable: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portshift_backend_unavailable_total",
			Help: "Total number of failed backend dials",
		}),
		streamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portshift_proxy_stream_errors_total",
			Help: "Total number of relays ended by an I/O error",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "portshift_active_sessions",
			Help: "Number of proxy sessions currently relaying",
		}),
		sessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "portshift_session_duration_seconds",
			Help:    "Proxy session duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		bytesRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portshift_bytes_relayed_total",
			Help: "Total bytes relayed by direction",
		}, []string{"direction"}),
	}

	m.registry.MustRegister(
		m.generationsTotal,
		m.listenersBound,
		m.bindFailures,
		m.connectionsTotal,
		m.blacklistedTotal,
		m.backendUnavailable,
		m.streamErrors,
		m.activeSessions,
		m.sessionDuration,
		m.bytesRelayed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RegisterGaugeFunc exposes a value computed on scrape, e.g. the blacklist size.
func (m *Metrics) RegisterGaugeFunc(name, help string, fn func() float64) error {
	return m.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn))
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Emit updates collectors for e. Metrics is itself a Sink.
func (m *Metrics) Emit(e Event) {
	switch e.Kind {
	case EventGenerationStarted:
		m.generationsTotal.Inc()
		m.listenersBound.Set(float64(e.Listeners))
	case EventBindFailed:
		m.bindFailures.WithLabelValues(e.Role).Inc()
	case EventConnectionAccepted:
		m.connectionsTotal.WithLabelValues(e.Role, "accepted").Inc()
		// only genuine connections become sessions; decoys close at once
		if e.Role == "genuine" {
			m.activeSessions.Inc()
		}
	case EventConnectionRejected:
		m.connectionsTotal.WithLabelValues(e.Role, "rejected").Inc()
	case EventAddressBlacklisted:
		m.connectionsTotal.WithLabelValues(e.Role, "trapped").Inc()
		m.blacklistedTotal.Inc()
	case EventBackendUnavailable:
		m.backendUnavailable.Inc()
	case EventProxyStreamError:
		m.streamErrors.Inc()
	case EventSessionClosed:
		m.activeSessions.Dec()
		m.sessionDuration.Observe(e.Duration.Seconds())
		m.bytesRelayed.WithLabelValues("upstream").Add(float64(e.BytesIn))
		m.bytesRelayed.WithLabelValues("downstream").Add(float64(e.BytesOut))
	}
}
