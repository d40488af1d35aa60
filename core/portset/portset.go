// Copyright (c) 2025 cocowh. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package portset derives the per-epoch set of listening port offsets: one
// genuine offset computed from a shared secret and the epoch, padded with
// unique random decoy offsets.
package portset

import (
	"crypto/rand"
	"io"
	"strconv"
	"time"

	"github.com/cocowh/portshift/pkg/errors"
)

const (
	// MaxSize is the number of distinct offsets a single byte can express.
	MaxSize     = 256
	DefaultSize = 16
)

// Offset is added to the base port to obtain a listening port.
type Offset uint8

// Role tells a listener whether it forwards or traps.
type Role int

const (
	RoleDecoy Role = iota
	RoleGenuine
)

func (r Role) String() string {
	switch r {
	case RoleGenuine:
		return "genuine"
	case RoleDecoy:
		return "decoy"
	default:
		return "unknown"
	}
}

// Entry is one offset of a PortSet together with its role.
type Entry struct {
	Offset Offset
	Role   Role
}

// PortSet is the ordered result of one generation.
type PortSet struct {
	Epoch   int64
	Entries []Entry
}

// Genuine returns the single genuine entry.
func (ps *PortSet) Genuine() (Entry, bool) {
	for _, e := range ps.Entries {
		if e.Role == RoleGenuine {
			return e, true
		}
	}
	return Entry{}, false
}

// Decoys returns every decoy entry in generation order.
func (ps *PortSet) Decoys() []Entry {
	decoys := make([]Entry, 0, len(ps.Entries))
	for _, e := range ps.Entries {
		if e.Role == RoleDecoy {
			decoys = append(decoys, e)
		}
	}
	return decoys
}

// Len returns the number of entries.
func (ps *PortSet) Len() int {
	return len(ps.Entries)
}

// Generator produces PortSets. It is safe for concurrent use when its random
// source is.
type Generator struct {
	secret string
	size   int
	hasher Hasher
	random io.Reader
}

type Option func(*Generator)

// WithHasher replaces the default SHA-256 hasher.
func WithHasher(h Hasher) Option {
	return func(g *Generator) {
		if h != nil {
			g.hasher = h
		}
	}
}

// WithRandom replaces crypto/rand as the decoy source.
func WithRandom(r io.Reader) Option {
	return func(g *Generator) {
		if r != nil {
			g.random = r
		}
	}
}

// NewGenerator validates the configuration up front so that an impossible
// set size fails at startup instead of inside the rotation loop.
func NewGenerator(secret string, size int, opts ...Option) (*Generator, error) {
	if secret == "" {
		return nil, errors.GenerationFailure("shared secret must not be empty")
	}
	if size < 1 || size > MaxSize {
		return nil, errors.GenerationFailure("port set size %d outside [1, %d]", size, MaxSize).
			WithContext("size", size)
	}

	g := &Generator{
		secret: secret,
		size:   size,
		hasher: SHA256(),
		random: rand.Reader,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Size returns the configured number of offsets per set.
func (g *Generator) Size() int {
	return g.size
}

// GenuineOffset is the deterministic step on its own; clients that know the
// secret call it to find the forwarding port.
func (g *Generator) GenuineOffset(epoch int64) Offset {
	return DeriveOffset(g.hasher, g.secret, epoch)
}

// GenuinePort returns the forwarding port of epoch for a range starting at
// base.
func (g *Generator) GenuinePort(base int, epoch int64) int {
	return base + int(g.GenuineOffset(epoch))
}

// Generate builds the set for epoch.
func (g *Generator) Generate(epoch int64) (*PortSet, error) {
	genuine := g.GenuineOffset(epoch)

	ps := &PortSet{
		Epoch:   epoch,
		Entries: make([]Entry, 0, g.size),
	}
	ps.Entries = append(ps.Entries, Entry{Offset: genuine, Role: RoleGenuine})

	var used [MaxSize]bool
	used[genuine] = true

	buf := make([]byte, g.size)
	for len(ps.Entries) < g.size {
		need := g.size - len(ps.Entries)
		if _, err := io.ReadFull(g.random, buf[:need]); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeGenerationFailure, errors.CategoryRotation, errors.LevelError,
				"failed to read random decoy offsets").WithContext("epoch", epoch)
		}
		for _, b := range buf[:need] {
			if used[b] {
				continue
			}
			used[b] = true
			ps.Entries = append(ps.Entries, Entry{Offset: Offset(b), Role: RoleDecoy})
		}
	}

	return ps, nil
}

// DeriveOffset returns the first digest byte of "<secret> <epoch>".
func DeriveOffset(h Hasher, secret string, epoch int64) Offset {
	sum := h.Sum([]byte(secret + " " + strconv.FormatInt(epoch, 10)))
	return Offset(sum[0])
}

// EpochAt returns the epoch id containing t for the given period.
func EpochAt(t time.Time, period time.Duration) int64 {
	ms := period.Milliseconds()
	if ms <= 0 {
		ms = time.Minute.Milliseconds()
	}
	return t.UnixMilli() / ms
}

// EpochStart returns the wall-clock start of epoch.
func EpochStart(epoch int64, period time.Duration) time.Time {
	ms := period.Milliseconds()
	if ms <= 0 {
		ms = time.Minute.Milliseconds()
	}
	return time.UnixMilli(epoch * ms)
}
