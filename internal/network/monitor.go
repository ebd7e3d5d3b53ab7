// Package network tracks device connectivity and triggers queue replay when
// the device comes back online.
package network

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultGraceWindow is how long WasOffline stays set after reconnecting.
const DefaultGraceWindow = 5 * time.Second

// State is a point-in-time view of connectivity.
type State struct {
	Online     bool      `json:"online"`
	WasOffline bool      `json:"was_offline"`
	ChangedAt  time.Time `json:"changed_at"`
}

// Signal delivers connectivity observations to the monitor until ctx ends.
type Signal interface {
	Watch(ctx context.Context, observe func(online bool)) error
}

// Monitor holds the current connectivity state. Transitions are serialized;
// reconnect handlers run once per offline to online transition, outside the lock.
type Monitor struct {
	mu          sync.Mutex
	online      bool
	wasOffline  bool
	changedAt   time.Time
	generation  uint64
	grace       time.Duration
	clearTimer  *time.Timer
	handlers    []func()
	subscribers []chan State
	logger      *zap.Logger
	now         func() time.Time
}

// Option customises a Monitor.
type Option func(*Monitor)

// WithGraceWindow sets how long WasOffline remains true after reconnecting.
func WithGraceWindow(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.grace = d
		}
	}
}

// WithLogger sets the monitor logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewMonitor returns a monitor starting in the given state.
func NewMonitor(online bool, opts ...Option) *Monitor {
	m := &Monitor{
		online: online,
		grace:  DefaultGraceWindow,
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	m.changedAt = m.now()
	return m
}

// Online reports current connectivity.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// WasOffline reports whether the device reconnected within the grace window.
func (m *Monitor) WasOffline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wasOffline
}

// State returns the current state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

// OnReconnect registers a handler run after each offline to online transition.
func (m *Monitor) OnReconnect(fn func()) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, fn)
}

// Subscribe returns a channel receiving every state change. Slow subscribers
// miss intermediate states rather than blocking the monitor.
func (m *Monitor) Subscribe() <-chan State {
	ch := make(chan State, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, ch)
	return ch
}

// Observe records a connectivity observation. It reports whether the
// observation was a transition.
func (m *Monitor) Observe(online bool) bool {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	m.changedAt = m.now()
	m.generation++
	var handlers []func()
	if online {
		m.wasOffline = true
		m.startGraceLocked(m.generation)
		handlers = append(handlers, m.handlers...)
	} else {
		m.wasOffline = false
		if m.clearTimer != nil {
			m.clearTimer.Stop()
			m.clearTimer = nil
		}
	}
	state := m.stateLocked()
	m.publishLocked(state)
	m.mu.Unlock()

	m.logger.Info("connectivity changed", zap.Bool("online", online))
	for _, fn := range handlers {
		fn()
	}
	return true
}

// Run feeds observations from sig into the monitor until ctx is done.
func (m *Monitor) Run(ctx context.Context, sig Signal) error {
	return sig.Watch(ctx, func(online bool) { m.Observe(online) })
}

// Stop cancels the pending grace timer.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clearTimer != nil {
		m.clearTimer.Stop()
		m.clearTimer = nil
	}
}

func (m *Monitor) startGraceLocked(gen uint64) {
	if m.clearTimer != nil {
		m.clearTimer.Stop()
	}
	m.clearTimer = time.AfterFunc(m.grace, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		// a later transition owns the flag now
		if m.generation != gen || !m.wasOffline {
			return
		}
		m.wasOffline = false
		m.clearTimer = nil
		m.publishLocked(m.stateLocked())
	})
}

func (m *Monitor) stateLocked() State {
	return State{Online: m.online, WasOffline: m.wasOffline, ChangedAt: m.changedAt}
}

func (m *Monitor) publishLocked(s State) {
	for _, ch := range m.subscribers {
		select {
		case ch <- s:
		default:
			// drop the stale value and deliver the latest
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}
