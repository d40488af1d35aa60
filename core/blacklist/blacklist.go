// Copyright (c) 2025 cocowh. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package blacklist

import (
	"context"
	"sync"
	"time"

	"github.com/cocowh/portshift/pkg/logger"
)

const DefaultExpiry = 10 * time.Second

// Store is a sliding-window flag set keyed by source address. An address
// stays flagged for Expiry after its most recent offending contact.
type Store struct {
	mutex   sync.Mutex
	entries map[string]time.Time
	expiry  time.Duration
	now     func() time.Time
}

type Option func(*Store)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New 创建黑名单
func New(expiry time.Duration, opts ...Option) *Store {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	s := &Store{
		entries: make(map[string]time.Time),
		expiry:  expiry,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsBlacklisted reports whether addr is flagged. A hit refreshes the entry,
// so it must only be called once per connection attempt on the accept path.
func (s *Store) IsBlacklisted(addr string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	last, ok := s.entries[addr]
	if !ok {
		return false
	}

	now := s.now()
	if now.Sub(last) > s.expiry {
		delete(s.entries, addr)
		logger.Debugf("Removing %s from blacklist", addr)
		return false
	}

	s.entries[addr] = now
	return true
}

// Add flags addr, overwriting any previous timestamp.
func (s *Store) Add(addr string) {
	s.mutex.Lock()
	s.entries[addr] = s.now()
	s.mutex.Unlock()
}

// Len returns the number of stored entries, expired ones included until a
// lookup or sweep removes them.
func (s *Store) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.entries)
}

// Sweep drops expired entries without refreshing live ones and returns how
// many were removed.
func (s *Store) Sweep() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.now()
	removed := 0
	for addr, last := range s.entries {
		if now.Sub(last) > s.expiry {
			delete(s.entries, addr)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				logger.Debugf("Blacklist sweep removed %d expired entries", n)
			}
		}
	}
}
