package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/samber/lo"

	"chat-engine/internal/apperrors"
	"chat-engine/internal/logging"
	"chat-engine/internal/models"
	"chat-engine/internal/observability"
	"chat-engine/internal/repositories"
	"chat-engine/internal/telemetry"
)

// MembershipOptions tunes a MembershipManager. Zero values get defaults.
type MembershipOptions struct {
	MaxRetries    int
	ClientURL     string
	Audit         *telemetry.AuditEmitter
	DeleteBackOff func() backoff.BackOff
}

// MembershipManager owns every rule about who belongs to a session.
type MembershipManager struct {
	sessions   repositories.SessionRepository
	messages   repositories.MessageRepository
	notifier   Notifier
	audit      *telemetry.AuditEmitter
	maxRetries int
	clientURL  string
	newBackOff func() backoff.BackOff
}

// RemoveResult tells the caller whether the removal deleted the whole session.
type RemoveResult struct {
	Session *models.SessionView `json:"session,omitempty"`
	Deleted bool                `json:"deleted"`
}

func NewMembershipManager(sessions repositories.SessionRepository, messages repositories.MessageRepository, notifier Notifier, opts MembershipOptions) *MembershipManager {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 3
	}
	if opts.DeleteBackOff == nil {
		opts.DeleteBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 50 * time.Millisecond
			b.MaxElapsedTime = 2 * time.Second
			return b
		}
	}
	return &MembershipManager{
		sessions:   sessions,
		messages:   messages,
		notifier:   notifier,
		audit:      opts.Audit,
		maxRetries: opts.MaxRetries,
		clientURL:  strings.TrimRight(opts.ClientURL, "/"),
		newBackOff: opts.DeleteBackOff,
	}
}

// CreateSession opens a private or group session. For private sessions an existing
// session with the same pair is returned and created is false.
func (m *MembershipManager) CreateSession(ctx context.Context, requesterID string, participantIDs []string, isGroup bool, groupName string) (view models.SessionView, created bool, err error) {
	ctx, span := startSpan(ctx, "membership.CreateSession", "")
	defer func() { endSpan(span, err) }()

	if requesterID == "" {
		return models.SessionView{}, false, apperrors.Validation("requester is required")
	}
	ids := cleanIDs(participantIDs)
	if !lo.Contains(ids, requesterID) {
		ids = append(ids, requesterID)
	}

	session := models.ChatSession{
		ID:           uuid.NewString(),
		Participants: pq.StringArray(ids),
		IsGroup:      isGroup,
	}
	if isGroup {
		name := strings.TrimSpace(groupName)
		if name == "" {
			return models.SessionView{}, false, apperrors.Validation("group name is required")
		}
		session.GroupName = &name
		session.GroupAdmin = &requesterID
	} else {
		if len(ids) != 2 {
			return models.SessionView{}, false, apperrors.Validation("a private session needs exactly one other participant")
		}
		existing, err := m.sessions.FindSessionByExactParticipants(ctx, ids)
		if err == nil {
			view, err := m.resolve(ctx, existing)
			return view, false, err
		}
		if !errors.Is(err, repositories.ErrSessionNotFound) {
			return models.SessionView{}, false, m.storeErr(ctx, "find private session", err)
		}
		key := repositories.PairKey(ids)
		session.PairKey = &key
	}

	stored, created, err := m.sessions.CreateSession(ctx, session)
	if err != nil {
		return models.SessionView{}, false, m.storeErr(ctx, "create session", err)
	}
	view, err = m.resolve(ctx, stored)
	if err != nil {
		return models.SessionView{}, false, err
	}
	if !created {
		return view, false, nil
	}

	for _, id := range stored.Participants {
		m.notifier.SubscribeUser(id, stored.ID)
		if id != requesterID {
			m.notifier.PublishToUser(id, models.SessionInvite(view))
		}
	}
	m.audit.Emit(ctx, telemetry.AuditRecord{
		Action:    "session.created",
		SessionID: stored.ID,
		UserID:    requesterID,
		RequestID: logging.RequestID(ctx),
		Text:      fmt.Sprintf("session created with %d participants (group=%t)", len(stored.Participants), stored.IsGroup),
	})
	return view, true, nil
}

// AddParticipants adds new members to a group session.
func (m *MembershipManager) AddParticipants(ctx context.Context, requesterID, sessionID string, participantIDs []string) (view models.SessionView, err error) {
	ctx, span := startSpan(ctx, "membership.AddParticipants", sessionID)
	defer func() { endSpan(span, err) }()

	var added []string
	updated, err := m.withRetry(ctx, sessionID, func(session models.ChatSession) (models.ChatSession, error) {
		if err := canManage(session, requesterID); err != nil {
			return models.ChatSession{}, err
		}
		if !session.IsGroup {
			return models.ChatSession{}, apperrors.Validation("participants cannot be added to a private session")
		}
		added = lo.Filter(cleanIDs(participantIDs), func(id string, _ int) bool { return !session.HasParticipant(id) })
		if len(added) == 0 {
			return models.ChatSession{}, apperrors.Validation("all participants are already in the session")
		}
		return m.update(ctx, session, append(append([]string(nil), session.Participants...), added...))
	})
	if err != nil {
		return models.SessionView{}, err
	}

	view, err = m.resolve(ctx, updated)
	if err != nil {
		return models.SessionView{}, err
	}
	for _, id := range added {
		m.notifier.SubscribeUser(id, sessionID)
		m.notifier.PublishToUser(id, models.SessionInvite(view))
	}
	m.notifier.PublishToSession(sessionID, models.ParticipantsAdded(view))
	m.audit.Emit(ctx, telemetry.AuditRecord{
		Action:    "session.participants_added",
		SessionID: sessionID,
		UserID:    requesterID,
		RequestID: logging.RequestID(ctx),
		Text:      "added " + strings.Join(added, ","),
	})
	return view, nil
}

// RemoveParticipant removes one member. A private session left with a single member is deleted.
func (m *MembershipManager) RemoveParticipant(ctx context.Context, requesterID, sessionID, participantID string) (result RemoveResult, err error) {
	ctx, span := startSpan(ctx, "membership.RemoveParticipant", sessionID)
	defer func() { endSpan(span, err) }()

	deleted := false
	updated, err := m.withRetry(ctx, sessionID, func(session models.ChatSession) (models.ChatSession, error) {
		if err := canManage(session, requesterID); err != nil {
			return models.ChatSession{}, err
		}
		if session.IsAdmin(participantID) {
			return models.ChatSession{}, apperrors.Validation("the group admin cannot be removed")
		}
		if !session.HasParticipant(participantID) {
			return models.ChatSession{}, apperrors.Validation("user is not a participant of the session")
		}

		remaining := lo.Without([]string(session.Participants), participantID)
		if !session.IsGroup && len(remaining) < 2 {
			deleted = true
			return session, m.purge(ctx, sessionID)
		}
		return m.update(ctx, session, remaining)
	})
	if err != nil {
		return RemoveResult{}, err
	}

	if deleted {
		m.notifier.PublishToSession(sessionID, models.SessionDeleted(sessionID))
		m.notifier.DropSession(sessionID)
		m.audit.Emit(ctx, telemetry.AuditRecord{
			Action:    "session.deleted",
			SessionID: sessionID,
			UserID:    requesterID,
			RequestID: logging.RequestID(ctx),
			Text:      "private session deleted after removing " + participantID,
		})
		return RemoveResult{Deleted: true}, nil
	}

	view, err := m.resolve(ctx, updated)
	if err != nil {
		return RemoveResult{}, err
	}
	m.notifier.PublishToSession(sessionID, models.ParticipantRemoved(&view, sessionID, participantID))
	m.notifier.PublishToUser(participantID, models.ParticipantRemoved(nil, sessionID, participantID))
	m.notifier.UnsubscribeUser(participantID, sessionID)
	m.audit.Emit(ctx, telemetry.AuditRecord{
		Action:    "session.participant_removed",
		SessionID: sessionID,
		UserID:    requesterID,
		RequestID: logging.RequestID(ctx),
		Text:      "removed " + participantID,
	})
	return RemoveResult{Session: &view}, nil
}

// DeleteSession removes a session and its messages. Groups may only be deleted by their admin.
func (m *MembershipManager) DeleteSession(ctx context.Context, requesterID, sessionID string) (err error) {
	ctx, span := startSpan(ctx, "membership.DeleteSession", sessionID)
	defer func() { endSpan(span, err) }()

	session, err := m.AuthorizeAccess(ctx, requesterID, sessionID)
	if err != nil {
		return err
	}
	if session.IsGroup && !session.IsAdmin(requesterID) {
		return apperrors.Authorization("only the group admin can delete the session")
	}
	if err := m.purge(ctx, sessionID); err != nil {
		return err
	}

	m.notifier.PublishToSession(sessionID, models.SessionDeleted(sessionID))
	m.notifier.DropSession(sessionID)
	m.audit.Emit(ctx, telemetry.AuditRecord{
		Action:    "session.deleted",
		SessionID: sessionID,
		UserID:    requesterID,
		RequestID: logging.RequestID(ctx),
		Text:      "session deleted",
	})
	return nil
}

// AuthorizeAccess returns the session if userID is one of its participants.
func (m *MembershipManager) AuthorizeAccess(ctx context.Context, userID, sessionID string) (models.ChatSession, error) {
	session, err := m.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return models.ChatSession{}, m.storeErr(ctx, "get session", err)
	}
	if !session.HasParticipant(userID) {
		return models.ChatSession{}, apperrors.Authorization("not a participant of this session")
	}
	return session, nil
}

// ListSessions returns the user's sessions, most recently updated first.
func (m *MembershipManager) ListSessions(ctx context.Context, userID string) ([]models.SessionView, error) {
	sessions, err := m.sessions.FindSessionsByParticipant(ctx, userID)
	if err != nil {
		return nil, m.storeErr(ctx, "list sessions", err)
	}
	views, err := m.sessions.ResolveSessions(ctx, sessions)
	if err != nil {
		return nil, m.storeErr(ctx, "resolve sessions", err)
	}
	return views, nil
}

// SessionIDs lists the ids of the user's sessions without expanding profiles.
func (m *MembershipManager) SessionIDs(ctx context.Context, userID string) ([]string, error) {
	sessions, err := m.sessions.FindSessionsByParticipant(ctx, userID)
	if err != nil {
		return nil, m.storeErr(ctx, "list sessions", err)
	}
	return lo.Map(sessions, func(s models.ChatSession, _ int) string { return s.ID }), nil
}

func (m *MembershipManager) GetSession(ctx context.Context, userID, sessionID string) (models.SessionView, error) {
	session, err := m.AuthorizeAccess(ctx, userID, sessionID)
	if err != nil {
		return models.SessionView{}, err
	}
	return m.resolve(ctx, session)
}

// SessionLink builds the client deep link for a session.
func (m *MembershipManager) SessionLink(ctx context.Context, userID, sessionID string) (string, error) {
	if _, err := m.AuthorizeAccess(ctx, userID, sessionID); err != nil {
		return "", err
	}
	return m.clientURL + "/chat?sessionId=" + url.QueryEscape(sessionID), nil
}

// PurgeTombstoned finishes deletions whose final step failed earlier.
func (m *MembershipManager) PurgeTombstoned(ctx context.Context, limit int) (int, error) {
	ids, err := m.sessions.ListTombstoned(ctx, limit)
	if err != nil {
		return 0, m.storeErr(ctx, "list tombstoned", err)
	}

	purged := 0
	for _, id := range ids {
		if err := m.finishPurge(ctx, id); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str(logging.FieldSessionID, id).Msg("sweeper purge failed")
			continue
		}
		observability.IncSessionsPurged("sweeper")
		purged++
	}
	return purged, nil
}

// withRetry reloads the session and reruns attempt while the stored version moves underneath it.
func (m *MembershipManager) withRetry(ctx context.Context, sessionID string, attempt func(models.ChatSession) (models.ChatSession, error)) (models.ChatSession, error) {
	for i := 0; i < m.maxRetries; i++ {
		session, err := m.sessions.GetSession(ctx, sessionID)
		if err != nil {
			return models.ChatSession{}, m.storeErr(ctx, "get session", err)
		}
		updated, err := attempt(session)
		if errors.Is(err, repositories.ErrVersionConflict) {
			observability.IncMembershipConflict()
			logging.Ctx(ctx).Debug().Str(logging.FieldSessionID, sessionID).Int("attempt", i+1).Msg("membership version conflict")
			continue
		}
		return updated, err
	}
	return models.ChatSession{}, apperrors.Conflict("chat session was modified concurrently, please retry")
}

func (m *MembershipManager) update(ctx context.Context, session models.ChatSession, participants []string) (models.ChatSession, error) {
	updated, err := m.sessions.UpdateParticipants(ctx, session.ID, participants, session.Version)
	if errors.Is(err, repositories.ErrVersionConflict) {
		return models.ChatSession{}, err
	}
	if err != nil {
		return models.ChatSession{}, m.storeErr(ctx, "update participants", err)
	}
	return updated, nil
}

// purge hides the session first so no reader sees it half deleted, then removes messages
// and the row. Failures after the tombstone are left for the sweeper.
func (m *MembershipManager) purge(ctx context.Context, sessionID string) error {
	if err := m.sessions.TombstoneSession(ctx, sessionID); err != nil {
		return m.storeErr(ctx, "tombstone session", err)
	}
	if err := m.finishPurge(ctx, sessionID); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str(logging.FieldSessionID, sessionID).Msg("session purge deferred to sweeper")
		return nil
	}
	observability.IncSessionsPurged("inline")
	return nil
}

func (m *MembershipManager) finishPurge(ctx context.Context, sessionID string) error {
	if _, err := m.messages.DeleteMessages(ctx, sessionID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	op := func() error { return m.sessions.DeleteSession(ctx, sessionID) }
	if err := backoff.Retry(op, backoff.WithContext(m.newBackOff(), ctx)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (m *MembershipManager) resolve(ctx context.Context, session models.ChatSession) (models.SessionView, error) {
	views, err := m.sessions.ResolveSessions(ctx, []models.ChatSession{session})
	if err != nil {
		return models.SessionView{}, m.storeErr(ctx, "resolve session", err)
	}
	if len(views) != 1 {
		return models.SessionView{}, m.storeErr(ctx, "resolve session", fmt.Errorf("resolved %d views", len(views)))
	}
	return views[0], nil
}

// storeErr maps repository errors onto the public taxonomy. Unknown failures are logged here
// and never leave the service with their detail.
func (m *MembershipManager) storeErr(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(err, repositories.ErrSessionNotFound):
		return apperrors.NotFound("chat session not found")
	case errors.Is(err, repositories.ErrNotParticipant):
		return apperrors.Authorization("not a participant of this session")
	case errors.Is(err, repositories.ErrVersionConflict):
		return apperrors.Conflict("chat session was modified concurrently, please retry")
	}
	logging.Ctx(ctx).Error().Err(err).Str("op", op).Msg("session store failure")
	return apperrors.Server(err)
}

// canManage applies the admin rule for groups and the membership rule for private sessions.
func canManage(session models.ChatSession, requesterID string) error {
	if session.IsGroup {
		if !session.IsAdmin(requesterID) {
			return apperrors.Authorization("only the group admin can change participants")
		}
		return nil
	}
	if !session.HasParticipant(requesterID) {
		return apperrors.Authorization("not a participant of this session")
	}
	return nil
}

func cleanIDs(ids []string) []string {
	trimmed := lo.FilterMap(ids, func(id string, _ int) (string, bool) {
		id = strings.TrimSpace(id)
		return id, id != ""
	})
	return lo.Uniq(trimmed)
}
