package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dubapp/dub/internal/backend"
	"github.com/dubapp/dub/internal/platform/events"
)

type fakeSub struct {
	closed chan struct{}
	once   sync.Once
}

func (f *fakeSub) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

type fakeTransport struct {
	mu       sync.Mutex
	failures int
	calls    int
	handler  backend.ChannelHandler
	ready    chan struct{}
}

func newFakeTransport(failures int) *fakeTransport {
	return &fakeTransport{failures: failures, ready: make(chan struct{}, 16)}
}

func (f *fakeTransport) Subscribe(ctx context.Context, spec backend.ChannelSpec, handler backend.ChannelHandler) (backend.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("dial refused")
	}
	f.handler = handler
	select {
	case f.ready <- struct{}{}:
	default:
	}
	return &fakeSub{closed: make(chan struct{})}, nil
}

func (f *fakeTransport) dropConnection() {
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()
	handler.OnState(backend.TransportDisconnected)
}

func (f *fakeTransport) emitChange(event backend.ChangeEvent) {
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()
	handler.OnChange(event)
}

func (f *fakeTransport) subscribeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func watchTopic(t *testing.T, bus *events.Bus, topic events.Topic) <-chan events.Event {
	t.Helper()
	ch := make(chan events.Event, 32)
	unsubscribe := bus.Subscribe(topic, func(event events.Event) { ch <- event })
	t.Cleanup(unsubscribe)
	return ch
}

func waitEvent(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case event := <-ch:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return events.Event{}
	}
}

func fastConfig() Config {
	return Config{
		ReconnectBase:        time.Millisecond,
		MaxReconnectAttempts: 20,
		BackoffCapFactor:     5,
		PingInterval:         time.Hour,
		StalePingThreshold:   time.Hour,
		PingTimeout:          time.Second,
	}
}

func okPinger() Pinger {
	return PingerFunc(func(ctx context.Context) error { return nil })
}

func newTestManager(transport backend.Realtime, pinger Pinger, bus *events.Bus, cfg Config) *Manager {
	spec := backend.ChannelSpec{Table: "messages", RecipientID: "me"}
	return NewManager(transport, spec, pinger, bus, cfg, nil)
}

func TestManagerPublishesConnectedOnFirstSubscribe(t *testing.T) {
	t.Parallel()

	bus := events.NewBus()
	connected := watchTopic(t, bus, events.TopicConnected)
	transport := newFakeTransport(0)
	manager := newTestManager(transport, okPinger(), bus, fastConfig())

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer manager.Stop()

	waitEvent(t, connected)
	if got := manager.State(); got != StateConnected {
		t.Fatalf("expected connected state, got %s", got)
	}
}

func TestManagerStartIsIdempotent(t *testing.T) {
	t.Parallel()

	bus := events.NewBus()
	transport := newFakeTransport(0)
	manager := newTestManager(transport, okPinger(), bus, fastConfig())

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	manager.Stop()
}

func TestManagerRetriesSubscribeFailures(t *testing.T) {
	t.Parallel()

	bus := events.NewBus()
	errs := watchTopic(t, bus, events.TopicConnectionError)
	connected := watchTopic(t, bus, events.TopicConnected)
	transport := newFakeTransport(3)
	manager := newTestManager(transport, okPinger(), bus, fastConfig())

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer manager.Stop()

	for i := 0; i < 3; i++ {
		waitEvent(t, errs)
	}
	waitEvent(t, connected)
	if transport.subscribeCalls() != 4 {
		t.Fatalf("expected 4 subscribe attempts, got %d", transport.subscribeCalls())
	}
}

func TestManagerReconnectsAfterTransportLoss(t *testing.T) {
	t.Parallel()

	bus := events.NewBus()
	connected := watchTopic(t, bus, events.TopicConnected)
	disconnected := watchTopic(t, bus, events.TopicDisconnected)
	reconnected := watchTopic(t, bus, events.TopicReconnected)
	transport := newFakeTransport(0)
	manager := newTestManager(transport, okPinger(), bus, fastConfig())

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer manager.Stop()

	waitEvent(t, connected)
	transport.dropConnection()
	waitEvent(t, disconnected)
	waitEvent(t, reconnected)
	if got := manager.State(); got != StateConnected {
		t.Fatalf("expected connected after recovery, got %s", got)
	}
}

func TestManagerParksInFailedAfterAttemptBudget(t *testing.T) {
	t.Parallel()

	bus := events.NewBus()
	failed := watchTopic(t, bus, events.TopicReconnectFailed)
	connected := watchTopic(t, bus, events.TopicConnected)
	cfg := fastConfig()
	cfg.MaxReconnectAttempts = 3
	transport := newFakeTransport(1000)
	manager := newTestManager(transport, okPinger(), bus, cfg)

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer manager.Stop()

	waitEvent(t, failed)
	if got := manager.State(); got != StateFailed {
		t.Fatalf("expected failed state, got %s", got)
	}

	// Parked means parked: no further subscribe attempts and no repeat of
	// the reconnect-failed event without an external nudge.
	callsAtPark := transport.subscribeCalls()
	time.Sleep(50 * time.Millisecond)
	if got := transport.subscribeCalls(); got != callsAtPark {
		t.Fatalf("expected no attempts while parked, got %d extra", got-callsAtPark)
	}
	select {
	case <-failed:
		t.Fatal("expected reconnect-failed to fire once")
	default:
	}

	// The manual reset restarts the budget and recovers once the transport
	// cooperates again.
	transport.mu.Lock()
	transport.failures = 0
	transport.mu.Unlock()
	manager.Reset()
	waitEvent(t, connected)
}

func TestManagerWakeLeavesFailedForOneAttempt(t *testing.T) {
	t.Parallel()

	bus := events.NewBus()
	failed := watchTopic(t, bus, events.TopicReconnectFailed)
	connected := watchTopic(t, bus, events.TopicConnected)
	cfg := fastConfig()
	cfg.MaxReconnectAttempts = 2
	transport := newFakeTransport(1000)
	manager := newTestManager(transport, okPinger(), bus, cfg)

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer manager.Stop()

	waitEvent(t, failed)
	transport.mu.Lock()
	transport.failures = 0
	transport.mu.Unlock()
	manager.Wake()
	waitEvent(t, connected)
}

func TestManagerRepublishesChangeEvents(t *testing.T) {
	t.Parallel()

	bus := events.NewBus()
	connected := watchTopic(t, bus, events.TopicConnected)
	changes := watchTopic(t, bus, events.TopicChange)
	transport := newFakeTransport(0)
	manager := newTestManager(transport, okPinger(), bus, fastConfig())

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer manager.Stop()

	waitEvent(t, connected)
	transport.emitChange(backend.ChangeEvent{Type: backend.ChangeInsert, Table: "messages"})

	event := waitEvent(t, changes)
	change, ok := event.Payload.(backend.ChangeEvent)
	if !ok {
		t.Fatalf("expected ChangeEvent payload, got %T", event.Payload)
	}
	if change.Type != backend.ChangeInsert || change.Table != "messages" {
		t.Fatalf("unexpected change %+v", change)
	}
}

func TestManagerPingFailureTriggersReconnect(t *testing.T) {
	t.Parallel()

	bus := events.NewBus()
	connected := watchTopic(t, bus, events.TopicConnected)
	errs := watchTopic(t, bus, events.TopicConnectionError)
	reconnected := watchTopic(t, bus, events.TopicReconnected)

	var pingErr error
	var pingMu sync.Mutex
	pinger := PingerFunc(func(ctx context.Context) error {
		pingMu.Lock()
		defer pingMu.Unlock()
		return pingErr
	})
	transport := newFakeTransport(0)
	manager := newTestManager(transport, pinger, bus, fastConfig())

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer manager.Stop()

	waitEvent(t, connected)
	pingMu.Lock()
	pingErr = errors.New("backend unreachable")
	pingMu.Unlock()
	manager.CheckLiveness()

	waitEvent(t, errs)
	pingMu.Lock()
	pingErr = nil
	pingMu.Unlock()
	waitEvent(t, reconnected)
}

func TestManagerStopWaitsForLoopExit(t *testing.T) {
	t.Parallel()

	bus := events.NewBus()
	connected := watchTopic(t, bus, events.TopicConnected)
	transport := newFakeTransport(0)
	manager := newTestManager(transport, okPinger(), bus, fastConfig())

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitEvent(t, connected)
	manager.Stop()
	manager.Stop()

	if got := manager.State(); got != StateDisconnected {
		t.Fatalf("expected disconnected after stop, got %s", got)
	}
}

func TestBackoffDelayGrowsLinearlyThenCaps(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	manager := newTestManager(newFakeTransport(0), okPinger(), events.NewBus(), cfg)

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{5, 25 * time.Second},
		{6, 25 * time.Second},
		{20, 25 * time.Second},
	}
	for _, tc := range cases {
		if got := manager.backoffDelay(tc.attempt); got != tc.want {
			t.Fatalf("attempt %d: expected %v, got %v", tc.attempt, tc.want, got)
		}
	}
}

func TestConfigWithDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}.withDefaults()
	if cfg.ReconnectBase != 5*time.Second {
		t.Fatalf("unexpected reconnect base %v", cfg.ReconnectBase)
	}
	if cfg.MaxReconnectAttempts != 20 || cfg.BackoffCapFactor != 5 {
		t.Fatalf("unexpected attempt knobs %+v", cfg)
	}
	if cfg.PingInterval != 2*time.Minute || cfg.InactivityThreshold != 3*time.Minute {
		t.Fatalf("unexpected intervals %+v", cfg)
	}
	if cfg.StalePingThreshold <= cfg.PingInterval {
		t.Fatalf("expected stale threshold beyond one interval, got %v", cfg.StalePingThreshold)
	}
}
