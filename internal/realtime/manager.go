// Package realtime keeps the change-feed subscription alive. The manager is a
// single-goroutine state machine: it subscribes, pings the backend on an
// interval, and on any connectivity loss retries with linear backoff until the
// attempt budget runs out, at which point it parks in the Failed state until a
// wake or a manual reset.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dubapp/dub/internal/backend"
	"github.com/dubapp/dub/internal/platform/events"
	"github.com/dubapp/dub/internal/platform/timeouts"
)

// State identifies the manager's connection state.
type State int

const (
	// StateDisconnected means no live subscription and no attempt in flight.
	StateDisconnected State = iota
	// StateConnecting means an attempt or a backoff wait is in progress.
	StateConnecting
	// StateConnected means the subscription is live and pings are running.
	StateConnected
	// StateFailed means the attempt budget ran out; only a wake or reset
	// leaves this state.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Pinger performs the minimal liveness read against the backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to the Pinger interface.
type PingerFunc func(ctx context.Context) error

// Ping calls f.
func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// Config carries the manager's timing knobs. Every field is injectable so
// tests run in milliseconds.
type Config struct {
	// ReconnectBase is the backoff unit. Delay for attempt n is
	// ReconnectBase * min(n, BackoffCapFactor).
	ReconnectBase time.Duration
	// MaxReconnectAttempts bounds consecutive failed attempts before the
	// manager parks in Failed.
	MaxReconnectAttempts int
	// BackoffCapFactor caps the backoff multiplier.
	BackoffCapFactor int
	// PingInterval spaces the liveness reads while connected.
	PingInterval time.Duration
	// StalePingThreshold declares the connection lost when the last
	// successful ping is older than this, which catches clock gaps from a
	// suspended process.
	StalePingThreshold time.Duration
	// PingTimeout bounds each liveness read.
	PingTimeout time.Duration
	// InactivityThreshold is how long without user input counts as idle. The
	// activity monitor reads it from here so the knobs live together.
	InactivityThreshold time.Duration
}

// DefaultConfig returns the production timing values.
func DefaultConfig() Config {
	return Config{
		ReconnectBase:        5 * time.Second,
		MaxReconnectAttempts: 20,
		BackoffCapFactor:     5,
		PingInterval:         2 * time.Minute,
		InactivityThreshold:  3 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = defaults.ReconnectBase
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = defaults.MaxReconnectAttempts
	}
	if c.BackoffCapFactor <= 0 {
		c.BackoffCapFactor = defaults.BackoffCapFactor
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaults.PingInterval
	}
	if c.StalePingThreshold <= 0 {
		c.StalePingThreshold = 2*c.PingInterval + 30*time.Second
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = timeouts.Query
	}
	if c.InactivityThreshold <= 0 {
		c.InactivityThreshold = defaults.InactivityThreshold
	}
	return c
}

// Manager owns the realtime subscription lifecycle.
type Manager struct {
	transport backend.Realtime
	spec      backend.ChannelSpec
	pinger    Pinger
	bus       *events.Bus
	cfg       Config
	clock     func() time.Time

	lost    chan struct{}
	wake    chan struct{}
	pingNow chan struct{}

	mu       sync.Mutex
	state    State
	attempts int
	lastPing time.Time
	started  bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewManager constructs a manager for one channel. A nil clock defaults to
// time.Now.
func NewManager(transport backend.Realtime, spec backend.ChannelSpec, pinger Pinger, bus *events.Bus, cfg Config, clock func() time.Time) *Manager {
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		transport: transport,
		spec:      spec,
		pinger:    pinger,
		bus:       bus,
		cfg:       cfg.withDefaults(),
		clock:     clock,
		lost:      make(chan struct{}, 1),
		wake:      make(chan struct{}, 1),
		pingNow:   make(chan struct{}, 1),
	}
}

// Config returns the effective timing configuration.
func (m *Manager) Config() Config { return m.cfg }

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start launches the connection loop. Calling Start on a running manager is a
// no-op.
func (m *Manager) Start(ctx context.Context) error {
	if m == nil || m.transport == nil {
		return errors.New("realtime transport is not configured")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.started = true
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(runCtx)
	return nil
}

// Stop cancels the loop and waits for it to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	done := m.done
	m.started = false
	m.mu.Unlock()

	cancel()
	<-done
}

// Wake interrupts a backoff wait or the Failed park and triggers an immediate
// attempt. The activity monitor calls this when user input arrives while the
// connection is down.
func (m *Manager) Wake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Reset performs the manual full recovery: the attempt counter restarts from
// zero and the loop tries again immediately. Callers clear their caches
// themselves.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.attempts = 0
	m.mu.Unlock()
	m.Wake()
}

// CheckLiveness requests an out-of-band ping on the running loop. A no-op
// unless connected.
func (m *Manager) CheckLiveness() {
	select {
	case m.pingNow <- struct{}{}:
	default:
	}
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)
	wasConnected := false
	for {
		if ctx.Err() != nil {
			m.setState(StateDisconnected)
			return
		}
		m.setState(StateConnecting)

		sub, err := m.subscribe(ctx)
		if err != nil {
			m.bus.Publish(events.TopicConnectionError, err)
			if !m.backoff(ctx) {
				if ctx.Err() != nil {
					m.setState(StateDisconnected)
					return
				}
				if !m.awaitWake(ctx) {
					return
				}
			}
			continue
		}

		m.mu.Lock()
		m.attempts = 0
		m.lastPing = m.clock()
		m.state = StateConnected
		m.mu.Unlock()
		if wasConnected {
			m.bus.Publish(events.TopicReconnected, nil)
		} else {
			wasConnected = true
			m.bus.Publish(events.TopicConnected, nil)
		}

		m.serve(ctx, sub)
		_ = sub.Close()
		if ctx.Err() != nil {
			m.setState(StateDisconnected)
			return
		}
		m.setState(StateDisconnected)
		m.bus.Publish(events.TopicDisconnected, nil)
		if !m.backoff(ctx) {
			if ctx.Err() != nil {
				return
			}
			if !m.awaitWake(ctx) {
				return
			}
		}
	}
}

func (m *Manager) subscribe(ctx context.Context) (backend.Subscription, error) {
	// Drain any loss signal left over from the previous session.
	select {
	case <-m.lost:
	default:
	}
	handler := backend.ChannelHandler{
		OnChange: func(event backend.ChangeEvent) {
			m.bus.Publish(events.TopicChange, event)
		},
		OnState: func(state backend.TransportState) {
			if state == backend.TransportDisconnected {
				select {
				case m.lost <- struct{}{}:
				default:
				}
			}
		},
	}
	return m.transport.Subscribe(ctx, m.spec, handler)
}

// serve runs the ping loop until connectivity is lost or the context ends.
func (m *Manager) serve(ctx context.Context, sub backend.Subscription) {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.lost:
			return
		case <-ticker.C:
			if !m.ping(ctx) {
				return
			}
		case <-m.pingNow:
			if !m.ping(ctx) {
				return
			}
		}
	}
}

// ping performs one bounded liveness read. Any error is treated as
// connectivity loss, never propagated.
func (m *Manager) ping(ctx context.Context) bool {
	now := m.clock()
	m.mu.Lock()
	stale := !m.lastPing.IsZero() && now.Sub(m.lastPing) > m.cfg.StalePingThreshold
	m.mu.Unlock()
	if stale {
		m.bus.Publish(events.TopicConnectionError, errors.New("liveness check overdue"))
		return false
	}

	pingCtx, cancel := context.WithTimeout(ctx, m.cfg.PingTimeout)
	err := m.pinger.Ping(pingCtx)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			m.bus.Publish(events.TopicTimeout, err)
		}
		m.bus.Publish(events.TopicConnectionError, err)
		return false
	}
	m.mu.Lock()
	m.lastPing = m.clock()
	m.mu.Unlock()
	return true
}

// backoff counts the attempt and waits out its delay. It returns false when
// the budget is exhausted (the manager parks in Failed) or the context ends.
// A wake cuts the wait short.
func (m *Manager) backoff(ctx context.Context) bool {
	m.mu.Lock()
	m.attempts++
	attempt := m.attempts
	m.mu.Unlock()
	if attempt > m.cfg.MaxReconnectAttempts {
		m.setState(StateFailed)
		m.bus.Publish(events.TopicReconnectFailed, attempt-1)
		return false
	}

	timer := time.NewTimer(m.backoffDelay(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-m.wake:
		return true
	case <-timer.C:
		return true
	}
}

// backoffDelay returns the linear delay for an attempt, capped at
// BackoffCapFactor units.
func (m *Manager) backoffDelay(attempt int) time.Duration {
	factor := attempt
	if factor > m.cfg.BackoffCapFactor {
		factor = m.cfg.BackoffCapFactor
	}
	if factor < 1 {
		factor = 1
	}
	return m.cfg.ReconnectBase * time.Duration(factor)
}

// awaitWake parks until Wake or Reset. Returns false when the context ends.
func (m *Manager) awaitWake(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		m.setState(StateDisconnected)
		return false
	case <-m.wake:
		return true
	}
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}
