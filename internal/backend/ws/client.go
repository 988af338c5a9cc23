package ws

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/dubapp/dub/internal/backend"
)

// Client dials the hub and implements the realtime collaborator interface.
type Client struct {
	endpoint string
	dialer   *websocket.Dialer
}

// NewClient creates a realtime client for a hub endpoint
// (e.g. ws://127.0.0.1:8090/realtime).
func NewClient(endpoint string) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("realtime endpoint is required")
	}
	return &Client{endpoint: endpoint, dialer: websocket.DefaultDialer}, nil
}

type subscription struct {
	conn *websocket.Conn
	once sync.Once
}

// Close tears down the channel. Closing twice is harmless.
func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.conn.Close()
	})
	return err
}

// Subscribe dials the hub for one recipient and forwards frames to the
// handler until the connection drops or the subscription is closed. Reader
// exit is always reported as a transport disconnect.
func (c *Client) Subscribe(ctx context.Context, spec backend.ChannelSpec, handler backend.ChannelHandler) (backend.Subscription, error) {
	if c == nil {
		return nil, errors.New("realtime client is not configured")
	}
	if strings.TrimSpace(spec.RecipientID) == "" {
		return nil, errors.New("recipient id is required")
	}

	target := c.endpoint + "?recipient=" + url.QueryEscape(spec.RecipientID)
	conn, resp, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return nil, fmt.Errorf("dial realtime hub: %w", err)
	}

	sub := &subscription{conn: conn}
	go readLoop(conn, spec, handler)
	return sub, nil
}

func readLoop(conn *websocket.Conn, spec backend.ChannelSpec, handler backend.ChannelHandler) {
	defer func() {
		if handler.OnState != nil {
			handler.OnState(backend.TransportDisconnected)
		}
	}()
	for {
		var in frame
		if err := conn.ReadJSON(&in); err != nil {
			return
		}
		if in.Type == frameTypeConnected {
			if handler.OnState != nil {
				handler.OnState(backend.TransportConnected)
			}
			continue
		}
		if spec.Table != "" && in.Table != spec.Table {
			continue
		}
		if handler.OnChange != nil {
			handler.OnChange(backend.ChangeEvent{
				Type:  backend.ChangeType(in.Type),
				Table: in.Table,
				New:   in.New,
				Old:   in.Old,
			})
		}
	}
}
