// Copyright (c) 2025 cocowh. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package portset

import (
	"crypto/sha256"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"

	"github.com/cocowh/portshift/pkg/errors"
)

// Hasher is the one-way digest used by the deterministic step.
type Hasher interface {
	Name() string
	Sum(data []byte) []byte
}

type hashFunc struct {
	name string
	sum  func([]byte) []byte
}

func (h hashFunc) Name() string           { return h.name }
func (h hashFunc) Sum(data []byte) []byte { return h.sum(data) }

var hashers = map[string]Hasher{
	"sha256": hashFunc{name: "sha256", sum: func(b []byte) []byte {
		d := sha256.Sum256(b)
		return d[:]
	}},
	"blake2b": hashFunc{name: "blake2b", sum: func(b []byte) []byte {
		d := blake2b.Sum256(b)
		return d[:]
	}},
	"sha3-256": hashFunc{name: "sha3-256", sum: func(b []byte) []byte {
		d := sha3.Sum256(b)
		return d[:]
	}},
}

// SHA256 is the default hasher.
func SHA256() Hasher {
	return hashers["sha256"]
}

// LookupHasher returns the built-in hasher registered under name.
func LookupHasher(name string) (Hasher, error) {
	h, ok := hashers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, errors.ConfigErrorf(errors.ErrCodeConfigInvalid, "unknown hash %q (supported: %s)", name, strings.Join(HasherNames(), ", "))
	}
	return h, nil
}

// HasherNames lists the built-in hashers.
func HasherNames() []string {
	names := make([]string, 0, len(hashers))
	for name := range hashers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
