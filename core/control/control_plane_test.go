// Copyright (c) 2025 cocowh. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package control

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/cocowh/portshift/core/config"
	"github.com/cocowh/portshift/core/rotation"
	"github.com/cocowh/portshift/pkg/errors"
)

func epoch100() time.Time {
	return time.UnixMilli(100*time.Minute.Milliseconds() + 500)
}

// portMap binds every requested gateway port on an ephemeral loopback port.
type portMap struct {
	mu    sync.Mutex
	addrs map[int]string
}

func (p *portMap) listen(ctx context.Context, network, address string) (net.Listener, error) {
	_, portStr, _ := net.SplitHostPort(address)
	port, _ := strconv.Atoi(portStr)

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, network, "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.addrs[port] = ln.Addr().String()
	p.mu.Unlock()
	return ln, nil
}

func (p *portMap) addr(port int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addrs[port]
}

func startBackend(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				io.Copy(c, c)
			}()
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func newConfig(t *testing.T, backendPort int) *config.ConfigManager {
	t.Helper()
	cm, err := config.NewConfigManager("")
	if err != nil {
		t.Fatal(err)
	}
	cm.Set("gateway.shared_secret", "s")
	cm.Set("gateway.port_set_size", 4)
	cm.Set("backend.host", "127.0.0.1")
	cm.Set("backend.port", backendPort)
	cm.Set("gateway.shutdown_timeout", "2s")
	return cm
}

func waitActive(t *testing.T, plane *Plane) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for plane.Status().State != rotation.StateActive {
		if time.Now().After(deadline) {
			t.Fatalf("gateway never became active, state %s", plane.Status().State)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cm, _ := config.NewConfigManager("")
	_, err := NewControlPlaneBuilder(cm).Build()
	if !errors.HasCode(err, errors.ErrCodeConfigInvalid) {
		t.Fatalf("Build() = %v, want config invalid", err)
	}
}

func TestPlaneRelaysOnGenuinePort(t *testing.T) {
	ports := &portMap{addrs: make(map[int]string)}
	cm := newConfig(t, startBackend(t))
	cm.Set("admin.enabled", true)
	cm.Set("admin.address", "127.0.0.1:0")

	plane, err := NewControlPlaneBuilder(cm).
		WithClock(epoch100).
		WithListenFunc(ports.listen).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	if err := plane.Start(); err != nil {
		t.Fatal(err)
	}
	waitActive(t, plane)

	conn, err := net.Dial("tcp", ports.addr(10000+0x38))
	if err != nil {
		t.Fatal(err)
	}
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	conn.Write([]byte("ping"))
	conn.(*net.TCPConn).CloseWrite()
	reply, _ := io.ReadAll(conn)
	conn.Close()
	if string(reply) != "ping" {
		t.Fatalf("reply = %q, want ping", reply)
	}

	resp, err := http.Get("http://" + plane.AdminAddr() + "/status")
	if err != nil {
		t.Fatal(err)
	}
	var status map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&status)
	resp.Body.Close()
	if status["epoch"] != float64(100) || status["listeners"] != float64(4) {
		t.Fatalf("status = %v", status)
	}

	if err := plane.Stop(); err != nil {
		t.Fatalf("Stop() = %v", err)
	}
	select {
	case <-plane.Done():
	default:
		t.Fatal("rotation loop still running after Stop")
	}
	if plane.Err() != nil {
		t.Fatalf("Err() = %v after a clean stop", plane.Err())
	}
	if plane.GetState() != "stopped" {
		t.Fatalf("state = %s", plane.GetState())
	}
}

func TestPlaneReportsFatalBindFailure(t *testing.T) {
	cm := newConfig(t, startBackend(t))
	cm.Set("gateway.port_set_size", 1)
	cm.Set("rotation.max_bind_retries", 1)
	cm.Set("rotation.retry_delay", "1ms")

	failing := func(ctx context.Context, network, address string) (net.Listener, error) {
		return nil, &net.OpError{Op: "listen", Net: network, Err: errors.New(errors.ErrCodeNetworkRefused, errors.CategoryNetwork, errors.LevelWarn, "address in use")}
	}
	plane, err := NewControlPlaneBuilder(cm).WithListenFunc(failing).Build()
	if err != nil {
		t.Fatal(err)
	}
	if err := plane.Start(); err != nil {
		t.Fatal(err)
	}

	select {
	case <-plane.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("rotation loop did not give up")
	}
	if !errors.HasCode(plane.Err(), errors.ErrCodeBindFailure) {
		t.Fatalf("Err() = %v, want bind failure", plane.Err())
	}
	plane.Stop()
}

func TestStartTwice(t *testing.T) {
	ports := &portMap{addrs: make(map[int]string)}
	plane, err := NewControlPlaneBuilder(newConfig(t, startBackend(t))).WithListenFunc(ports.listen).Build()
	if err != nil {
		t.Fatal(err)
	}
	if err := plane.Start(); err != nil {
		t.Fatal(err)
	}
	defer plane.Stop()
	if err := plane.Start(); err == nil {
		t.Fatal("second Start succeeded")
	}
}
