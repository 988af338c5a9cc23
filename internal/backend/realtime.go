package backend

import (
	"context"
	"encoding/json"
)

// ChangeType identifies the kind of row change carried by a change event.
type ChangeType string

const (
	// ChangeInsert marks a new row.
	ChangeInsert ChangeType = "insert"
	// ChangeUpdate marks a modified row.
	ChangeUpdate ChangeType = "update"
	// ChangeDelete marks a removed row.
	ChangeDelete ChangeType = "delete"
)

// ChangeEvent carries one row change from the realtime feed. New and Old hold
// the row payloads as JSON; either may be empty depending on the change type.
type ChangeEvent struct {
	Type  ChangeType
	Table string
	New   json.RawMessage
	Old   json.RawMessage
}

// TransportState identifies a realtime transport lifecycle transition.
type TransportState string

const (
	// TransportConnected means the subscription is live.
	TransportConnected TransportState = "connected"
	// TransportDisconnected means the subscription dropped.
	TransportDisconnected TransportState = "disconnected"
)

// ChannelSpec scopes a realtime subscription to change events for one
// recipient on one table.
type ChannelSpec struct {
	Table       string
	RecipientID string
}

// ChannelHandler receives change events and transport transitions for one
// subscription. Callbacks run on the subscription's reader goroutine.
type ChannelHandler struct {
	OnChange func(ChangeEvent)
	OnState  func(TransportState)
}

// Subscription is an active realtime channel.
type Subscription interface {
	// Close tears down the channel. Closing twice is harmless.
	Close() error
}

// Realtime delivers row-change events for a recipient as they happen.
type Realtime interface {
	Subscribe(ctx context.Context, spec ChannelSpec, handler ChannelHandler) (Subscription, error)
}
