// Copyright (c) 2025 cocowh. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package parser

import (
	"strings"

	"github.com/cocowh/portshift/pkg/errors"
)

// Parser converts between a configuration document and a nested map.
type Parser interface {
	Parse(b []byte) (map[string]interface{}, error)
	Marshal(m map[string]interface{}) ([]byte, error)
}

// Formats lists the names accepted by ForFormat.
var Formats = []string{"yaml", "toml", "json"}

// ForFormat returns the parser for a format name or file extension.
func ForFormat(format string) (Parser, error) {
	switch strings.TrimPrefix(strings.ToLower(format), ".") {
	case "yaml", "yml":
		return NewYAMLParser(), nil
	case "toml":
		return NewTOMLParser(), nil
	case "json":
		return NewJSONParser(), nil
	default:
		return nil, errors.ConfigErrorf(errors.ErrCodeConfigInvalid, "unsupported config format %q", format)
	}
}
