// Package notify turns realtime change events and connection lifecycle
// transitions into user-facing surfaces: invitation prompts, toasts, the
// reconnecting indicator, and the blocking recovery screen.
package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/dubapp/dub/internal/backend"
	"github.com/dubapp/dub/internal/platform/events"
	"github.com/dubapp/dub/internal/services/messaging/cache"
	messaging "github.com/dubapp/dub/internal/services/messaging/domain"
)

const (
	toastConnectionRestored = "接続が復旧しました"
	toastInviteDeclined     = "相手の予定が埋まってしまいました"
)

// Presenter is the display surface the coordinator drives. Implementations
// must be safe for concurrent calls.
type Presenter interface {
	// PromptInvitation shows the accept/decline modal for an incoming invite.
	// The respond callback is invoked with the user's decision.
	PromptInvitation(message messaging.Message, respond func(accepted bool))
	// ShowAppointmentCompleted routes to the post-acceptance surface.
	ShowAppointmentCompleted(message messaging.Message)
	// ShowToast displays a transient notice.
	ShowToast(text string)
	// SetReconnecting toggles the reconnecting indicator.
	SetReconnecting(active bool)
	// ShowRecovery displays the blocking recovery surface; retry performs the
	// full connection reset.
	ShowRecovery(retry func())
}

// Messaging is the slice of the messaging service the coordinator needs.
type Messaging interface {
	Notification(ctx context.Context, messageID string) (messaging.Message, error)
	Respond(ctx context.Context, messageID, invitationID string, decision backend.InvitationStatus) error
	InvalidateCache(views ...cache.View)
}

// Connection is the slice of the connection manager the coordinator drives:
// the recovery surface resets it, and stalled queries probe it.
type Connection interface {
	Reset()
	CheckLiveness()
}

// Auth resolves the acting user.
type Auth interface {
	CurrentUser(ctx context.Context) (backend.UserRecord, error)
}

// Coordinator subscribes to the bus and fans events out to the presenter.
type Coordinator struct {
	messaging Messaging
	conn      Connection
	auth      Auth
	presenter Presenter
	bus       *events.Bus

	mu       sync.Mutex
	inflight map[string]struct{}
	unsubs   []func()
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewCoordinator constructs the coordinator.
func NewCoordinator(svc Messaging, conn Connection, auth Auth, presenter Presenter, bus *events.Bus) *Coordinator {
	return &Coordinator{
		messaging: svc,
		conn:      conn,
		auth:      auth,
		presenter: presenter,
		bus:       bus,
		inflight:  make(map[string]struct{}),
	}
}

// Start subscribes to the change and lifecycle topics. Calling Start on a
// running coordinator is a no-op.
func (c *Coordinator) Start(ctx context.Context) error {
	if c == nil || c.bus == nil {
		return errors.New("event bus is not configured")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.unsubs) > 0 {
		return nil
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.unsubs = []func(){
		c.bus.Subscribe(events.TopicChange, c.onChange),
		c.bus.Subscribe(events.TopicDisconnected, c.onConnectionDown),
		c.bus.Subscribe(events.TopicConnectionError, c.onConnectionDown),
		c.bus.Subscribe(events.TopicReconnected, c.onReconnected),
		c.bus.Subscribe(events.TopicReconnectFailed, c.onReconnectFailed),
	}
	return nil
}

// Stop unsubscribes and waits for in-flight event handling to finish.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	unsubs := c.unsubs
	c.unsubs = nil
	cancel := c.cancel
	c.mu.Unlock()

	for _, unsubscribe := range unsubs {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}

// onChange handles one realtime change event. The store read behind the
// notification projection must not run on the bus publisher's goroutine.
func (c *Coordinator) onChange(event events.Event) {
	change, ok := event.Payload.(backend.ChangeEvent)
	if !ok || change.Table != "messages" || change.Type != backend.ChangeInsert {
		return
	}
	record, err := backend.DecodeMessagePayload(change.New)
	if err != nil {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.handleInsert(record)
	}()
}

func (c *Coordinator) handleInsert(record backend.MessageRecord) {
	ctx := c.runContext()
	user, err := c.auth.CurrentUser(ctx)
	if err != nil || record.RecipientID != user.ID {
		return
	}
	c.messaging.InvalidateCache(cache.ViewInbox)

	if record.Type != backend.MessageTypeInvitation {
		c.presenter.ShowToast(record.Content)
		return
	}
	if !c.claim(record.InvitationID) {
		return
	}
	notification, err := c.messaging.Notification(ctx, record.ID)
	if err != nil {
		c.release(record.InvitationID)
		c.recoverFromQueryError(err)
		return
	}
	c.presenter.PromptInvitation(notification, func(accepted bool) {
		defer c.release(record.InvitationID)
		c.respond(notification, accepted)
	})
}

func (c *Coordinator) respond(notification messaging.Message, accepted bool) {
	decision := backend.InvitationAccepted
	if !accepted {
		decision = backend.InvitationRejected
	}
	err := c.messaging.Respond(c.runContext(), notification.Message.ID, notification.Message.InvitationID, decision)
	if err != nil {
		c.recoverFromQueryError(err)
		c.presenter.ShowToast(backend.UserMessage(err))
		return
	}
	if accepted {
		c.presenter.ShowAppointmentCompleted(notification)
		return
	}
	c.presenter.ShowToast(toastInviteDeclined)
}

// recoverFromQueryError applies the timeout recovery path: a read that
// stalled past its bound means the cached views cannot be trusted and the
// connection may have died quietly, so force a refetch and probe liveness.
func (c *Coordinator) recoverFromQueryError(err error) {
	if backend.Classify(err) != backend.ClassTimeout {
		return
	}
	c.messaging.InvalidateCache()
	if c.conn != nil {
		c.conn.CheckLiveness()
	}
}

// onConnectionDown handles any detected connection error. Views cached
// before the error may already be stale, so they are dropped along with
// showing the indicator.
func (c *Coordinator) onConnectionDown(event events.Event) {
	c.messaging.InvalidateCache()
	c.presenter.SetReconnecting(true)
}

func (c *Coordinator) onReconnected(event events.Event) {
	c.presenter.SetReconnecting(false)
	c.messaging.InvalidateCache()
	c.presenter.ShowToast(toastConnectionRestored)
}

func (c *Coordinator) onReconnectFailed(event events.Event) {
	c.presenter.SetReconnecting(false)
	c.presenter.ShowRecovery(func() {
		c.messaging.InvalidateCache()
		if c.conn != nil {
			c.conn.Reset()
		}
	})
}

// claim reserves an invitation for one prompt at a time.
func (c *Coordinator) claim(invitationID string) bool {
	if invitationID == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[invitationID]; busy {
		return false
	}
	c.inflight[invitationID] = struct{}{}
	return true
}

func (c *Coordinator) release(invitationID string) {
	c.mu.Lock()
	delete(c.inflight, invitationID)
	c.mu.Unlock()
}

func (c *Coordinator) runContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx != nil {
		return c.ctx
	}
	return context.Background()
}
