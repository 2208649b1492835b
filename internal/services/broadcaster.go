package services

import (
	"context"
	"errors"
	"strings"

	"chat-engine/internal/apperrors"
	"chat-engine/internal/logging"
	"chat-engine/internal/models"
	"chat-engine/internal/observability"
	"chat-engine/internal/repositories"
)

// Broadcaster persists messages and fans them out to the session channel.
type Broadcaster struct {
	membership *MembershipManager
	messages   repositories.MessageRepository
	notifier   Notifier
}

func NewBroadcaster(membership *MembershipManager, messages repositories.MessageRepository, notifier Notifier) *Broadcaster {
	return &Broadcaster{membership: membership, messages: messages, notifier: notifier}
}

// PostMessage stores text from senderID and publishes it once the write has committed.
func (b *Broadcaster) PostMessage(ctx context.Context, senderID, sessionID, text string) (msg models.MessageView, err error) {
	ctx, span := startSpan(ctx, "broadcaster.PostMessage", sessionID)
	defer func() { endSpan(span, err) }()

	if _, err := b.membership.AuthorizeAccess(ctx, senderID, sessionID); err != nil {
		return models.MessageView{}, err
	}
	if strings.TrimSpace(text) == "" {
		return models.MessageView{}, apperrors.Validation("message text is required")
	}

	msg, err = b.messages.CreateMessage(ctx, sessionID, senderID, text)
	if errors.Is(err, repositories.ErrNotParticipant) {
		// Membership changed between the check and the insert.
		return models.MessageView{}, apperrors.Authorization("not a participant of this session")
	}
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Str(logging.FieldSessionID, sessionID).Msg("persist message failed")
		return models.MessageView{}, apperrors.Server(err)
	}

	observability.IncMessagesPosted()
	b.notifier.PublishToSession(sessionID, models.MessageReceived(msg))
	return msg, nil
}

// ListMessages returns the history of a session the requester belongs to.
func (b *Broadcaster) ListMessages(ctx context.Context, requesterID, sessionID string) ([]models.MessageView, error) {
	if _, err := b.membership.AuthorizeAccess(ctx, requesterID, sessionID); err != nil {
		return nil, err
	}
	msgs, err := b.messages.ListMessages(ctx, sessionID)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Str(logging.FieldSessionID, sessionID).Msg("list messages failed")
		return nil, apperrors.Server(err)
	}
	return msgs, nil
}
