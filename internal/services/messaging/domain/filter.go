package domain

import (
	"fmt"
	"time"

	"github.com/dubapp/dub/internal/backend"
	"github.com/dubapp/dub/internal/services/messaging/cache"
)

var weekdayKanji = [...]string{"日", "月", "火", "水", "木", "金", "土"}

func filterView(rows []backend.MessageRow, view cache.View, userID string) []backend.MessageRow {
	if view == cache.ViewSent {
		return filterSent(rows)
	}
	return filterInbox(rows, userID)
}

// filterInbox hides invite rows whose moment has passed. An invite the user
// already sent stays visible only once it resolved; an invite addressed to the
// user stays visible only while it is still pending. Invite rows whose
// invitation record is gone are dropped entirely.
func filterInbox(rows []backend.MessageRow, userID string) []backend.MessageRow {
	kept := make([]backend.MessageRow, 0, len(rows))
	for _, row := range rows {
		if row.Message.Type != backend.MessageTypeInvitation {
			kept = append(kept, row)
			continue
		}
		if row.Invitation == nil {
			continue
		}
		if row.Message.SenderID == userID {
			if row.Invitation.Status != backend.InvitationPending {
				kept = append(kept, row)
			}
			continue
		}
		if row.Invitation.Status == backend.InvitationPending {
			kept = append(kept, row)
		}
	}
	return kept
}

// filterSent keeps sent invites only while the recipient has not answered.
func filterSent(rows []backend.MessageRow) []backend.MessageRow {
	kept := make([]backend.MessageRow, 0, len(rows))
	for _, row := range rows {
		if row.Message.Type != backend.MessageTypeInvitation {
			kept = append(kept, row)
			continue
		}
		if row.Invitation != nil && row.Invitation.Status == backend.InvitationPending {
			kept = append(kept, row)
		}
	}
	return kept
}

func enrich(rows []backend.MessageRow) []Message {
	messages := make([]Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, enrichOne(row))
	}
	return messages
}

func enrichOne(row backend.MessageRow) Message {
	message := Message{MessageRow: row}
	if row.Availability != nil {
		message.DisplayTime = displayTime(row.Availability)
		message.Comment = row.Availability.Comment
	}
	return message
}

// displayTime renders the slot as "M/D(曜) HH:MM ~ HH:MM". An unparseable
// date yields an empty string rather than a broken label.
func displayTime(availability *backend.AvailabilityRecord) string {
	if availability == nil {
		return ""
	}
	date, err := time.Parse("2006-01-02", availability.Date)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%d/%d(%s) %s ~ %s",
		int(date.Month()), date.Day(), weekdayKanji[date.Weekday()],
		availability.StartTime, availability.EndTime)
}
