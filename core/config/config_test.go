// Copyright (c) 2025 cocowh. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/multierr"

	"github.com/cocowh/portshift/core/config/parser"
	"github.com/cocowh/portshift/pkg/errors"
)

func TestDefaults(t *testing.T) {
	cm, err := NewConfigManager("")
	if err != nil {
		t.Fatal(err)
	}

	gw := cm.GetGatewayConfig()
	if gw.BasePort != 10000 || gw.PortSetSize != 16 || gw.Hash != "sha256" {
		t.Fatalf("gateway defaults = %+v", gw)
	}
	if gw.ShutdownTimeout != 10*time.Second {
		t.Fatalf("ShutdownTimeout = %s", gw.ShutdownTimeout)
	}

	rot := cm.GetRotationConfig()
	if rot.Period != time.Minute || !rot.AlignToEpoch || rot.GracePeriod != 0 || rot.MaxBindRetries != 5 {
		t.Fatalf("rotation defaults = %+v", rot)
	}
	if bl := cm.GetBlacklistConfig(); bl.Expiry != 10*time.Second || bl.SweepInterval != time.Minute {
		t.Fatalf("blacklist defaults = %+v", bl)
	}
	if b := cm.GetBackendConfig(); b.Host != "localhost" || b.Port != 8080 || b.DialTimeout != 5*time.Second || b.HalfCloseTimeout != 30*time.Second {
		t.Fatalf("backend defaults = %+v", b)
	}
	if a := cm.GetAdminConfig(); a.Enabled || a.Address != "127.0.0.1:9090" {
		t.Fatalf("admin defaults = %+v", a)
	}
	if p := cm.GetPoolConfig(); p.Buffer.Size != 32*1024 || p.Goroutine.Workers != 0 {
		t.Fatalf("pool defaults = %+v", p)
	}
}

func TestFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portshift.yaml")
	doc := `
gateway:
  base_port: 20000
  shared_secret: from-file
rotation:
  period: 30s
backend:
  port: 9000
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORTSHIFT_BACKEND_PORT", "9100")

	cm, err := NewConfigManager(path)
	if err != nil {
		t.Fatal(err)
	}
	gw := cm.GetGatewayConfig()
	if gw.BasePort != 20000 || gw.SharedSecret != "from-file" {
		t.Fatalf("gateway = %+v", gw)
	}
	if got := cm.GetRotationConfig().Period; got != 30*time.Second {
		t.Fatalf("period = %s", got)
	}
	if got := cm.GetBackendConfig().Port; got != 9100 {
		t.Fatalf("backend.port = %d, want env override 9100", got)
	}

	cm.Set("backend.port", 9200)
	if got := cm.GetBackendConfig().Port; got != 9200 {
		t.Fatalf("backend.port = %d, want flag override 9200", got)
	}
}

func TestMissingFile(t *testing.T) {
	_, err := NewConfigManager(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.HasCode(err, errors.ErrCodeConfigNotFound) {
		t.Fatalf("err = %v, want config not found", err)
	}
}

func TestValidate(t *testing.T) {
	cm, _ := NewConfigManager("")
	cm.Set("gateway.shared_secret", "s")
	if err := cm.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}

	cm.Set("gateway.shared_secret", "")
	cm.Set("gateway.port_set_size", 300)
	cm.Set("gateway.hash", "md5")
	cm.Set("rotation.period", "10ms")
	err := cm.Validate()
	if err == nil {
		t.Fatal("Validate() accepted an invalid config")
	}
	if n := len(multierr.Errors(err)); n != 4 {
		t.Fatalf("Validate() reported %d problems, want 4: %v", n, err)
	}
	for _, e := range multierr.Errors(err) {
		if !errors.HasCode(e, errors.ErrCodeConfigInvalid) {
			t.Errorf("unexpected error %v", e)
		}
	}
}

func TestValidateBasePortRange(t *testing.T) {
	cm, _ := NewConfigManager("")
	cm.Set("gateway.shared_secret", "s")
	cm.Set("gateway.base_port", 65400)
	if err := cm.Validate(); err == nil {
		t.Fatal("base port without room for 256 offsets accepted")
	}
}

func TestRenderRedactsSecret(t *testing.T) {
	cm, _ := NewConfigManager("")
	cm.Set("gateway.shared_secret", "topsecret")

	for _, format := range parser.Formats {
		out, err := cm.Render(format)
		if err != nil {
			t.Fatalf("Render(%s) = %v", format, err)
		}
		if strings.Contains(string(out), "topsecret") {
			t.Fatalf("Render(%s) leaked the shared secret", format)
		}

		p, _ := parser.ForFormat(format)
		m, err := p.Parse(out)
		if err != nil {
			t.Fatalf("%s output does not parse: %v", format, err)
		}
		if _, ok := m["rotation"]; !ok {
			t.Fatalf("%s output misses the rotation section", format)
		}
	}

	if cm.GetGatewayConfig().SharedSecret != "topsecret" {
		t.Fatal("rendering modified the live secret")
	}
}

func TestLoggerConfigConversion(t *testing.T) {
	cm, _ := NewConfigManager("")
	cm.Set("logger.level", "debug")
	lc := cm.GetLoggerConfig().ToLoggerConfig()
	if lc.Level.String() != "debug" || lc.BaseName != "portshift" {
		t.Fatalf("logger config = %+v", lc)
	}
}
