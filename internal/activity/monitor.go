// Package activity tracks user input recency and nudges the connection
// manager when the app has sat idle long enough that the transport may have
// silently died underneath it.
package activity

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dubapp/dub/internal/platform/events"
	"github.com/dubapp/dub/internal/realtime"
)

// DefaultCheckInterval spaces the idle checks.
const DefaultCheckInterval = time.Minute

// Connection is the slice of the connection manager the monitor drives.
type Connection interface {
	State() realtime.State
	Wake()
	CheckLiveness()
}

// Monitor watches for user inactivity.
type Monitor struct {
	conn      Connection
	bus       *events.Bus
	threshold time.Duration
	interval  time.Duration
	clock     func() time.Time

	mu           sync.Mutex
	lastActivity time.Time
	signaled     bool
	started      bool
	cancel       context.CancelFunc
	done         chan struct{}
}

// NewMonitor constructs a monitor. Zero durations fall back to the 3m
// threshold and 1m check interval; a nil clock defaults to time.Now.
func NewMonitor(conn Connection, bus *events.Bus, threshold, checkInterval time.Duration, clock func() time.Time) *Monitor {
	if threshold <= 0 {
		threshold = realtime.DefaultConfig().InactivityThreshold
	}
	if checkInterval <= 0 {
		checkInterval = DefaultCheckInterval
	}
	if clock == nil {
		clock = time.Now
	}
	return &Monitor{
		conn:      conn,
		bus:       bus,
		threshold: threshold,
		interval:  checkInterval,
		clock:     clock,
	}
}

// Record notes a user input signal. Input while the connection is down skips
// the backoff wait and reconnects eagerly.
func (m *Monitor) Record() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.lastActivity = m.clock()
	m.signaled = false
	m.mu.Unlock()

	if m.conn == nil {
		return
	}
	switch m.conn.State() {
	case realtime.StateFailed, realtime.StateDisconnected:
		m.conn.Wake()
	}
}

// Start launches the periodic idle check. Calling Start on a running monitor
// is a no-op.
func (m *Monitor) Start(ctx context.Context) error {
	if m == nil {
		return errors.New("monitor is nil")
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
	m.lastActivity = m.clock()
	go m.run(runCtx)
	return nil
}

// Stop halts the idle check and waits for it to exit.
func (m *Monitor) Stop() {
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

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check()
		}
	}
}

// check publishes user-inactive once per idle stretch and asks the manager to
// verify the connection is still alive.
func (m *Monitor) check() {
	now := m.clock()
	m.mu.Lock()
	idle := now.Sub(m.lastActivity)
	crossed := idle >= m.threshold
	first := crossed && !m.signaled
	if first {
		m.signaled = true
	}
	m.mu.Unlock()

	if !crossed {
		return
	}
	if first {
		m.bus.Publish(events.TopicUserInactive, idle)
	}
	if m.conn != nil {
		m.conn.CheckLiveness()
	}
}
