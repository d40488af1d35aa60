// Copyright (c) 2025 cocowh. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package parser

import (
	"testing"

	"github.com/cocowh/portshift/pkg/errors"
)

func TestForFormat(t *testing.T) {
	for _, name := range []string{"yaml", "yml", ".YAML", "toml", "json"} {
		if _, err := ForFormat(name); err != nil {
			t.Errorf("ForFormat(%q) = %v", name, err)
		}
	}
	_, err := ForFormat("ini")
	if !errors.HasCode(err, errors.ErrCodeConfigInvalid) {
		t.Fatalf("ForFormat(ini) = %v, want config invalid", err)
	}
}

func TestParseNestedDocument(t *testing.T) {
	docs := map[string]string{
		"yaml": "gateway:\n  base_port: 12000\n",
		"toml": "[gateway]\nbase_port = 12000\n",
		"json": `{"gateway": {"base_port": 12000}}`,
	}
	for format, doc := range docs {
		p, err := ForFormat(format)
		if err != nil {
			t.Fatal(err)
		}
		m, err := p.Parse([]byte(doc))
		if err != nil {
			t.Fatalf("%s: Parse() = %v", format, err)
		}
		gw, ok := m["gateway"].(map[string]interface{})
		if !ok {
			t.Fatalf("%s: gateway section has type %T", format, m["gateway"])
		}
		if _, ok := gw["base_port"]; !ok {
			t.Fatalf("%s: base_port missing", format)
		}
	}
}
