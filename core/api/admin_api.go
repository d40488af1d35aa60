// Copyright (c) 2025 cocowh. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/cocowh/portshift/core/observability"
	"github.com/cocowh/portshift/core/rotation"
	"github.com/cocowh/portshift/pkg/errors"
	"github.com/cocowh/portshift/pkg/logger"
)

// StatusSource reports the rotation state.
type StatusSource interface {
	Status() rotation.Status
}

// Counter reports a size, e.g. the blacklist.
type Counter interface {
	Len() int
}

// EventSource publishes gateway events to live subscribers.
type EventSource interface {
	Subscribe(buffer int) (<-chan observability.Event, func())
}

// StatusResponse is the /status document. It deliberately carries no port
// numbers: the admin surface must not reveal which port forwards.
type StatusResponse struct {
	rotation.Status
	Blacklisted int    `json:"blacklisted"`
	Backend     string `json:"backend"`
	Uptime      string `json:"uptime"`
}

// AdminAPI 运维接口: status, prometheus metrics and a live event stream.
type AdminAPI struct {
	addr      string
	status    StatusSource
	blacklist Counter
	events    EventSource
	metrics   http.Handler
	backend   string
	startedAt time.Time

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

// NewAdminAPI 创建运维接口实例. metrics and events may be nil.
func NewAdminAPI(addr, backend string, status StatusSource, blacklist Counter, events EventSource, metrics http.Handler) *AdminAPI {
	return &AdminAPI{
		addr:      addr,
		status:    status,
		blacklist: blacklist,
		events:    events,
		metrics:   metrics,
		backend:   backend,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// Handler returns the routed handler without starting a server.
func (api *AdminAPI) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", api.getStatus)
	mux.HandleFunc("/healthz", api.getHealth)
	if api.metrics != nil {
		mux.Handle("/metrics", api.metrics)
	}
	if api.events != nil {
		mux.Handle("/events", websocket.Handler(api.streamEvents))
	}
	return errors.NewHTTPErrorMiddleware(nil).Middleware()(mux)
}

// Start binds the admin address and serves in the background. Bind errors
// are returned synchronously.
func (api *AdminAPI) Start() error {
	ln, err := net.Listen("tcp", api.addr)
	if err != nil {
		return errors.NetworkError(errors.ErrCodeNetworkRefused, "failed to start admin api").
			WithCause(err).
			WithContext("address", api.addr)
	}

	srv := &http.Server{
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	api.mu.Lock()
	api.server = srv
	api.listener = ln
	api.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Errorf("Admin API server error: %v", err)
		}
	}()

	logger.Infof("Admin API listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (api *AdminAPI) Addr() string {
	api.mu.Lock()
	defer api.mu.Unlock()
	if api.listener != nil {
		return api.listener.Addr().String()
	}
	return api.addr
}

// Stop ends event streams and shuts the server down within ctx.
func (api *AdminAPI) Stop(ctx context.Context) error {
	api.mu.Lock()
	srv := api.server
	select {
	case <-api.done:
	default:
		close(api.done)
	}
	api.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (api *AdminAPI) snapshot() StatusResponse {
	resp := StatusResponse{
		Backend: api.backend,
		Uptime:  time.Since(api.startedAt).Round(time.Second).String(),
	}
	if api.status != nil {
		resp.Status = api.status.Status()
	}
	if api.blacklist != nil {
		resp.Blacklisted = api.blacklist.Len()
	}
	return resp
}

func (api *AdminAPI) getStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(api.snapshot())
}

// getHealth is 200 while a generation is serving.
func (api *AdminAPI) getHealth(w http.ResponseWriter, r *http.Request) {
	state := rotation.StateIdle
	if api.status != nil {
		state = api.status.Status().State
	}
	if state != rotation.StateActive {
		http.Error(w, string(state), http.StatusServiceUnavailable)
		return
	}
	w.Write([]byte("ok\n"))
}

// streamEvents pushes every gateway event to the client as JSON until the
// client goes away or the API stops.
func (api *AdminAPI) streamEvents(ws *websocket.Conn) {
	logger.Infof("Event stream client connected from %s", ws.Request().RemoteAddr)

	events, unsubscribe := api.events.Subscribe(256)
	defer func() {
		unsubscribe()
		ws.Close()
		logger.Infof("Event stream client disconnected")
	}()

	// the client never sends; a read returning means it hung up
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		var discard []byte
		for websocket.Message.Receive(ws, &discard) == nil {
		}
	}()

	for {
		select {
		case <-api.done:
			return
		case <-gone:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := websocket.JSON.Send(ws, e); err != nil {
				logger.Debugf("Failed to send event: %v", err)
				return
			}
		}
	}
}
