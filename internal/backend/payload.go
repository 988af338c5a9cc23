package backend

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessagePayload is the wire shape of a message row on the change feed.
type MessagePayload struct {
	ID           string      `json:"id"`
	SenderID     string      `json:"sender_id"`
	RecipientID  string      `json:"recipient_id"`
	InvitationID string      `json:"invitation_id,omitempty"`
	Type         MessageType `json:"type"`
	Content      string      `json:"content"`
	IsRead       bool        `json:"is_read"`
	CreatedAt    int64       `json:"created_at"`
}

// MessagePayloadFrom converts a stored message to its change-feed shape.
func MessagePayloadFrom(record MessageRecord) MessagePayload {
	return MessagePayload{
		ID:           record.ID,
		SenderID:     record.SenderID,
		RecipientID:  record.RecipientID,
		InvitationID: record.InvitationID,
		Type:         record.Type,
		Content:      record.Content,
		IsRead:       record.IsRead,
		CreatedAt:    record.CreatedAt.UTC().UnixMilli(),
	}
}

// Record converts the payload back to a message record.
func (p MessagePayload) Record() MessageRecord {
	return MessageRecord{
		ID:           p.ID,
		SenderID:     p.SenderID,
		RecipientID:  p.RecipientID,
		InvitationID: p.InvitationID,
		Type:         p.Type,
		Content:      p.Content,
		IsRead:       p.IsRead,
		CreatedAt:    time.UnixMilli(p.CreatedAt).UTC(),
	}
}

// DecodeMessagePayload parses a change-event payload into a message record.
func DecodeMessagePayload(raw json.RawMessage) (MessageRecord, error) {
	var payload MessagePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return MessageRecord{}, fmt.Errorf("decode message payload: %w", err)
	}
	return payload.Record(), nil
}
