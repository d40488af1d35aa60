// Copyright (c) 2025 cocowh. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package rotation

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/cocowh/portshift/core/observability"
	"github.com/cocowh/portshift/core/portset"
	"github.com/cocowh/portshift/pkg/errors"
	"github.com/cocowh/portshift/pkg/logger"
)

// State is the lifecycle phase of the current generation.
type State string

const (
	StateIdle       State = "idle"
	StateGenerating State = "generating"
	StateBinding    State = "binding"
	StateActive     State = "active"
	StateDraining   State = "draining"
	StateClosed     State = "closed"
)

// Generator produces the port set of an epoch.
type Generator interface {
	Generate(epoch int64) (*portset.PortSet, error)
}

// Config controls binding and the rotation schedule.
type Config struct {
	ListenHost string
	BasePort   int
	Period     time.Duration
	// AlignToEpoch ends each generation at the next epoch boundary instead
	// of a full Period after it became active.
	AlignToEpoch       bool
	GracePeriod        time.Duration
	MaxBindRetries     int
	RetryDelay         time.Duration
	MaxSessionsPerPort int
}

// Status is a point-in-time view of the manager. It never carries port
// numbers or roles.
type Status struct {
	Generation string    `json:"generation"`
	Epoch      int64     `json:"epoch"`
	State      State     `json:"state"`
	Listeners  int       `json:"listeners"`
	Draining   int       `json:"draining"`
	StartedAt  time.Time `json:"started_at"`
	Rotations  uint64    `json:"rotations"`
}

// Manager rotates the listening surface, one generation per epoch.
type Manager struct {
	cfg       Config
	generator Generator
	handler   Handler
	submit    Submitter
	events    observability.Sink
	listen    ListenFunc
	now       func() time.Time

	mutex     sync.RWMutex
	status    Status
	current   *generation
	previous  *generation
	runCalled bool
}

type generation struct {
	id        string
	epoch     int64
	startedAt time.Time
	listeners map[int]*listener
}

type Option func(*Manager)

// WithClock replaces time.Now for epoch computation.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithListenFunc replaces the socket binder.
func WithListenFunc(fn ListenFunc) Option {
	return func(m *Manager) {
		if fn != nil {
			m.listen = fn
		}
	}
}

// WithEvents sets the sink receiving lifecycle events.
func WithEvents(sink observability.Sink) Option {
	return func(m *Manager) {
		if sink != nil {
			m.events = sink
		}
	}
}

// NewManager 创建轮换管理器
func NewManager(cfg Config, generator Generator, handler Handler, submit Submitter, opts ...Option) *Manager {
	if cfg.Period <= 0 {
		cfg.Period = time.Minute
	}
	if cfg.MaxBindRetries < 0 {
		cfg.MaxBindRetries = 0
	}

	var lc net.ListenConfig
	m := &Manager{
		cfg:       cfg,
		generator: generator,
		handler:   handler,
		submit:    submit,
		events:    observability.Discard,
		listen:    lc.Listen,
		now:       time.Now,
		status:    Status{State: StateIdle},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Status returns a snapshot safe to expose to operators.
func (m *Manager) Status() Status {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.status
}

// Run drives the state machine until ctx is cancelled or the genuine port
// cannot be secured after every retry. Cancellation closes all listeners and
// returns nil; sessions already handed to the handler finish on their own.
func (m *Manager) Run(ctx context.Context) error {
	m.mutex.Lock()
	if m.runCalled {
		m.mutex.Unlock()
		return errors.New(errors.ErrCodeSystemInternalError, errors.CategorySystem, errors.LevelError, "rotation manager already running")
	}
	m.runCalled = true
	m.mutex.Unlock()

	defer m.closeAll()

	for {
		if cur := m.getCurrent(); cur != nil && m.cfg.GracePeriod <= 0 {
			m.drain(cur)
			m.setCurrent(nil)
		}

		next, err := m.activate(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		// the generation that was current becomes the draining one
		m.mutex.Lock()
		m.previous = m.current
		m.current = next
		m.status = Status{
			Generation: next.id,
			Epoch:      next.epoch,
			State:      StateActive,
			Listeners:  len(next.listeners),
			Draining:   m.previous.size(),
			StartedAt:  next.startedAt,
			Rotations:  m.status.Rotations + 1,
		}
		prev := m.previous
		m.mutex.Unlock()

		m.events.Emit(observability.Event{
			Kind:       observability.EventGenerationStarted,
			Generation: next.id,
			Epoch:      next.epoch,
			Listeners:  len(next.listeners),
		})

		if !m.waitActive(ctx, next, prev) {
			return nil
		}
	}
}

// waitActive blocks for the active period of gen, draining prev once the
// grace period elapses. It returns false when ctx is cancelled.
func (m *Manager) waitActive(ctx context.Context, gen, prev *generation) bool {
	active := time.NewTimer(m.activeFor(gen))
	defer active.Stop()

	var grace <-chan time.Time
	if prev != nil {
		t := time.NewTimer(m.cfg.GracePeriod)
		defer t.Stop()
		grace = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return false
		case <-grace:
			grace = nil
			m.drainPrevious()
		case <-active.C:
			m.drainPrevious()
			return true
		}
	}
}

// activeFor returns how long gen stays active.
func (m *Manager) activeFor(gen *generation) time.Duration {
	if !m.cfg.AlignToEpoch {
		return m.cfg.Period
	}
	d := portset.EpochStart(gen.epoch+1, m.cfg.Period).Sub(m.now())
	if d < 0 {
		return 0
	}
	return d
}

// activate runs Generating and Binding, retrying with a fresh set when the
// set cannot be generated or its genuine port cannot be bound.
func (m *Manager) activate(ctx context.Context) (*generation, error) {
	var lastErr error
	for attempt := 0; attempt <= m.cfg.MaxBindRetries; attempt++ {
		if attempt > 0 {
			logger.Warnf("Retrying port set generation (attempt %d/%d) in %s", attempt, m.cfg.MaxBindRetries, m.cfg.RetryDelay)
			if !sleepCtx(ctx, m.cfg.RetryDelay) {
				return nil, ctx.Err()
			}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		m.setState(StateGenerating)
		epoch := portset.EpochAt(m.now(), m.cfg.Period)
		set, err := m.generator.Generate(epoch)
		if err != nil {
			logger.Warnf("Port set generation for epoch %d failed: %v", epoch, err)
			lastErr = err
			continue
		}

		gen := &generation{
			id:        uuid.NewString(),
			epoch:     epoch,
			startedAt: m.now(),
			listeners: make(map[int]*listener, set.Len()),
		}

		m.setState(StateBinding)
		if err := m.bind(ctx, gen, set); err != nil {
			lastErr = err
			continue
		}
		return gen, nil
	}

	gwErr := errors.Convert(lastErr).WithContext("attempts", m.cfg.MaxBindRetries+1)
	gwErr.Level = errors.LevelFatal
	logger.Errorf("Giving up on securing the forwarding port: %v", gwErr)
	return nil, gwErr
}

// bind opens every listener of set. A decoy that cannot be bound is
// skipped; a genuine failure unwinds the whole generation.
func (m *Manager) bind(ctx context.Context, gen *generation, set *portset.PortSet) error {
	for _, entry := range set.Entries {
		port := m.cfg.BasePort + int(entry.Offset)
		m.releaseFromPrevious(port)

		ln, err := m.listen(ctx, "tcp", net.JoinHostPort(m.cfg.ListenHost, strconv.Itoa(port)))
		if err != nil {
			bindErr := errors.BindFailure(port, err).WithContext("role", entry.Role.String())
			m.events.Emit(observability.Event{
				Kind:       observability.EventBindFailed,
				Generation: gen.id,
				Epoch:      gen.epoch,
				Port:       port,
				Role:       entry.Role.String(),
				Err:        bindErr,
			})
			if entry.Role == portset.RoleGenuine {
				if cerr := gen.close(); cerr != nil {
					logger.Warnf("Closing partial generation %s: %v", gen.id, cerr)
				}
				return bindErr
			}
			continue
		}

		maxSessions := 0
		if entry.Role == portset.RoleGenuine {
			maxSessions = m.cfg.MaxSessionsPerPort
		}

		l := newListener(port, entry.Role, ln, m.handler, m.submit, maxSessions)
		gen.listeners[port] = l
		l.start(ctx)

		m.events.Emit(observability.Event{
			Kind:       observability.EventListenerBound,
			Generation: gen.id,
			Epoch:      gen.epoch,
			Port:       port,
			Role:       entry.Role.String(),
		})
	}
	return nil
}

// releaseFromPrevious frees port when the draining generation still holds it.
func (m *Manager) releaseFromPrevious(port int) {
	m.mutex.Lock()
	var held *listener
	for _, gen := range []*generation{m.previous, m.current} {
		if gen == nil {
			continue
		}
		if l, ok := gen.listeners[port]; ok {
			held = l
			delete(gen.listeners, port)
			break
		}
	}
	m.mutex.Unlock()

	if held != nil {
		if err := held.stop(); err != nil {
			logger.Warnf("Closing listener on port %d: %v", port, err)
		}
	}
}

func (m *Manager) drainPrevious() {
	m.mutex.Lock()
	prev := m.previous
	m.previous = nil
	m.status.Draining = 0
	m.mutex.Unlock()

	if prev != nil {
		m.drain(prev)
	}
}

// drain closes every listener of gen and reports the generation's end.
func (m *Manager) drain(gen *generation) {
	m.mutex.Lock()
	if m.current == gen {
		m.status.State = StateDraining
	}
	m.mutex.Unlock()

	if err := gen.close(); err != nil {
		logger.Warnf("Draining generation %s: %v", gen.id, err)
	}

	m.events.Emit(observability.Event{
		Kind:       observability.EventGenerationEnded,
		Generation: gen.id,
		Epoch:      gen.epoch,
		Duration:   m.now().Sub(gen.startedAt),
	})
}

func (m *Manager) closeAll() {
	m.mutex.Lock()
	gens := []*generation{m.previous, m.current}
	m.previous, m.current = nil, nil
	m.mutex.Unlock()

	for _, gen := range gens {
		if gen != nil {
			m.drain(gen)
		}
	}
	m.setState(StateClosed)
}

func (m *Manager) getCurrent() *generation {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.current
}

func (m *Manager) setCurrent(gen *generation) {
	m.mutex.Lock()
	m.current = gen
	m.mutex.Unlock()
}

func (m *Manager) setState(s State) {
	m.mutex.Lock()
	m.status.State = s
	m.mutex.Unlock()
}

// close stops every listener, collecting errors with multierr.
func (g *generation) close() error {
	var err error
	for port, l := range g.listeners {
		err = multierr.Append(err, l.stop())
		delete(g.listeners, port)
	}
	return err
}

func (g *generation) size() int {
	if g == nil {
		return 0
	}
	return len(g.listeners)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
