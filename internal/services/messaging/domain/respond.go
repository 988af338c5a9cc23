package domain

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/dubapp/dub/internal/backend"
)

// Display contents are fixed Japanese strings shared by every surface that
// renders invitation outcomes.
const (
	contentAccepted     = "遊びの誘いを承諾しました"
	contentRejected     = "遊びの誘いをお断りしました"
	contentAcceptedEcho = "遊びの誘いが承諾されました"
	contentRejectedEcho = "相手の予定が埋まってしまいました"

	inviteContentFormat = "「%s %s」の募集に遊びの誘いが届きました。"
)

// Respond resolves a pending invitation and writes the outcome messages. The
// conditional status transition is the idempotency gate: whichever response
// lands first wins, and any later attempt reports ErrInvitationResolved
// without writing anything.
//
// Writes after the gate are compensated on failure. The rollback is
// best-effort; when any step after the gate fails the caller gets
// ErrPartialFailure and should prompt a retry.
func (s *Service) Respond(ctx context.Context, messageID, invitationID string, decision backend.InvitationStatus) error {
	if s == nil || s.store == nil {
		return ErrStoreNotConfigured
	}
	if s.auth == nil {
		return ErrAuthNotConfigured
	}
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return ErrMessageIDRequired
	}
	invitationID = strings.TrimSpace(invitationID)
	if invitationID == "" {
		return ErrInvitationIDRequired
	}
	if decision != backend.InvitationAccepted && decision != backend.InvitationRejected {
		return fmt.Errorf("decision must be accepted or rejected, got %q", decision)
	}

	user, err := s.auth.CurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("resolve acting user: %w", err)
	}
	original, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return fmt.Errorf("load invite message: %w", err)
	}
	if original.RecipientID != user.ID || original.InvitationID != invitationID {
		return ErrUnauthorized
	}

	now := s.clock().UTC()
	resolved, err := s.store.ResolveInvitation(ctx, invitationID, decision, now)
	if err != nil {
		return fmt.Errorf("resolve invitation: %w", err)
	}
	if !resolved {
		return ErrInvitationResolved
	}

	// Every write past this point compensates back to the pre-response state
	// on failure so a retry can run the whole workflow again.
	if err := s.store.MarkMessageRead(ctx, messageID, true); err != nil {
		s.rollback(ctx, invitationID, "", "", now)
		return fmt.Errorf("%w: mark invite read: %v", ErrPartialFailure, err)
	}

	outcomeType := backend.MessageTypeAcceptance
	outcomeContent := contentAccepted
	echoContent := contentAcceptedEcho
	if decision == backend.InvitationRejected {
		outcomeType = backend.MessageTypeRejection
		outcomeContent = contentRejected
		echoContent = contentRejectedEcho
	}

	outcomeID, err := s.newID()
	if err != nil {
		s.rollback(ctx, invitationID, messageID, "", now)
		return fmt.Errorf("%w: allocate outcome id: %v", ErrPartialFailure, err)
	}
	outcome := backend.MessageRecord{
		ID:           outcomeID,
		SenderID:     user.ID,
		RecipientID:  original.SenderID,
		InvitationID: invitationID,
		Type:         outcomeType,
		Content:      outcomeContent,
		CreatedAt:    now,
	}
	if err := s.store.PutMessage(ctx, outcome); err != nil {
		s.rollback(ctx, invitationID, messageID, "", now)
		return fmt.Errorf("%w: write outcome message: %v", ErrPartialFailure, err)
	}

	// The responder keeps their own record of the outcome: a pre-read echo
	// attributed to the inviter.
	echoID, err := s.newID()
	if err != nil {
		s.rollback(ctx, invitationID, messageID, outcomeID, now)
		return fmt.Errorf("%w: allocate echo id: %v", ErrPartialFailure, err)
	}
	echo := backend.MessageRecord{
		ID:           echoID,
		SenderID:     original.SenderID,
		RecipientID:  user.ID,
		InvitationID: invitationID,
		Type:         outcomeType,
		Content:      echoContent,
		IsRead:       true,
		CreatedAt:    now,
	}
	if err := s.store.PutMessage(ctx, echo); err != nil {
		s.rollback(ctx, invitationID, messageID, outcomeID, now)
		return fmt.Errorf("%w: write echo message: %v", ErrPartialFailure, err)
	}

	s.cache.Invalidate()
	return nil
}

// rollback undoes the response writes completed so far, in reverse order.
// Failures are logged and skipped; the invitation reopen runs regardless.
func (s *Service) rollback(ctx context.Context, invitationID, readMessageID, outcomeMessageID string, at time.Time) {
	if outcomeMessageID != "" {
		if err := s.store.DeleteMessage(ctx, outcomeMessageID); err != nil {
			log.Printf("respond rollback: delete outcome message %s: %v", outcomeMessageID, err)
		}
	}
	if readMessageID != "" {
		if err := s.store.MarkMessageRead(ctx, readMessageID, false); err != nil {
			log.Printf("respond rollback: restore unread flag on %s: %v", readMessageID, err)
		}
	}
	if err := s.store.ReopenInvitation(ctx, invitationID, at); err != nil {
		log.Printf("respond rollback: reopen invitation %s: %v", invitationID, err)
	}
}

// SendInvite creates a pending invitation against someone else's slot and
// delivers the invite message to the slot owner.
func (s *Service) SendInvite(ctx context.Context, availability backend.AvailabilityRecord) (backend.InvitationRecord, error) {
	if s == nil || s.store == nil {
		return backend.InvitationRecord{}, ErrStoreNotConfigured
	}
	if s.auth == nil {
		return backend.InvitationRecord{}, ErrAuthNotConfigured
	}
	if strings.TrimSpace(availability.ID) == "" {
		return backend.InvitationRecord{}, ErrAvailabilityRequired
	}
	user, err := s.auth.CurrentUser(ctx)
	if err != nil {
		return backend.InvitationRecord{}, fmt.Errorf("resolve acting user: %w", err)
	}
	if availability.OwnerID == user.ID {
		return backend.InvitationRecord{}, ErrOwnAvailability
	}

	now := s.clock().UTC()
	invitationID, err := s.newID()
	if err != nil {
		return backend.InvitationRecord{}, fmt.Errorf("allocate invitation id: %w", err)
	}
	invitation := backend.InvitationRecord{
		ID:             invitationID,
		SenderID:       user.ID,
		RecipientID:    availability.OwnerID,
		AvailabilityID: availability.ID,
		Status:         backend.InvitationPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.PutInvitation(ctx, invitation); err != nil {
		return backend.InvitationRecord{}, fmt.Errorf("write invitation: %w", err)
	}

	messageID, err := s.newID()
	if err != nil {
		return backend.InvitationRecord{}, fmt.Errorf("%w: allocate invite message id: %v", ErrPartialFailure, err)
	}
	invite := backend.MessageRecord{
		ID:           messageID,
		SenderID:     user.ID,
		RecipientID:  availability.OwnerID,
		InvitationID: invitationID,
		Type:         backend.MessageTypeInvitation,
		Content:      fmt.Sprintf(inviteContentFormat, displayTime(&availability), availability.Comment),
		CreatedAt:    now,
	}
	if err := s.store.PutMessage(ctx, invite); err != nil {
		return backend.InvitationRecord{}, fmt.Errorf("%w: write invite message: %v", ErrPartialFailure, err)
	}

	s.cache.Invalidate()
	return invitation, nil
}
