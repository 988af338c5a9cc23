// Package ws implements the realtime collaborator over websockets. A Hub
// fans row-change events out to per-recipient subscriber connections; a
// Client maintains the long-lived subscription the connection manager
// consumes.
package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/dubapp/dub/internal/backend"
)

type frame struct {
	Type  string          `json:"type"`
	Table string          `json:"table,omitempty"`
	New   json.RawMessage `json:"new,omitempty"`
	Old   json.RawMessage `json:"old,omitempty"`
}

const frameTypeConnected = "connected"

// Hub upgrades subscriber connections and delivers change events to them,
// keyed by recipient id. It implements http.Handler.
type Hub struct {
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]map[*subscriberConn]struct{}
}

type subscriberConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *subscriberConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[string]map[*subscriberConn]struct{}),
	}
}

// ServeHTTP upgrades the request and keeps the connection registered until
// the peer goes away. The recipient id arrives as a query parameter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	recipientID := r.URL.Query().Get("recipient")
	if recipientID == "" {
		http.Error(w, "recipient is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("realtime upgrade: %v", err)
		return
	}
	subscriber := &subscriberConn{conn: conn}

	h.mu.Lock()
	if h.conns[recipientID] == nil {
		h.conns[recipientID] = make(map[*subscriberConn]struct{})
	}
	h.conns[recipientID][subscriber] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.conns[recipientID], subscriber)
		if len(h.conns[recipientID]) == 0 {
			delete(h.conns, recipientID)
		}
		h.mu.Unlock()
		_ = conn.Close()
	}()

	if err := subscriber.writeJSON(frame{Type: frameTypeConnected}); err != nil {
		return
	}

	// Inbound frames are not part of the protocol; the read loop only
	// notices the peer closing.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Publish delivers one change event to every subscriber of a recipient.
// Connections that fail to accept the write are dropped.
func (h *Hub) Publish(recipientID string, evt backend.ChangeEvent) {
	h.mu.RLock()
	subscribers := make([]*subscriberConn, 0, len(h.conns[recipientID]))
	for subscriber := range h.conns[recipientID] {
		subscribers = append(subscribers, subscriber)
	}
	h.mu.RUnlock()

	out := frame{
		Type:  string(evt.Type),
		Table: evt.Table,
		New:   evt.New,
		Old:   evt.Old,
	}
	for _, subscriber := range subscribers {
		if err := subscriber.writeJSON(out); err != nil {
			_ = subscriber.conn.Close()
		}
	}
}

// Close tears down every subscriber connection.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, subscribers := range h.conns {
		for subscriber := range subscribers {
			_ = subscriber.conn.Close()
		}
	}
	h.conns = make(map[string]map[*subscriberConn]struct{})
	return nil
}
