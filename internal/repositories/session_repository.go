package repositories

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/samber/lo"

	"chat-engine/internal/models"
)

var (
	ErrSessionNotFound = errors.New("chat session not found")
	ErrVersionConflict = errors.New("chat session was modified concurrently")
)

const sessionColumns = `id, participants, is_group, group_name, group_admin, pair_key, version, created_at, updated_at`

// SessionRepository abstracts chat session persistence.
type SessionRepository interface {
	FindSessionsByParticipant(ctx context.Context, userID string) ([]models.ChatSession, error)
	FindSessionByExactParticipants(ctx context.Context, userIDs []string) (models.ChatSession, error)
	CreateSession(ctx context.Context, session models.ChatSession) (models.ChatSession, bool, error)
	GetSession(ctx context.Context, sessionID string) (models.ChatSession, error)
	UpdateParticipants(ctx context.Context, sessionID string, participants []string, version int) (models.ChatSession, error)
	TombstoneSession(ctx context.Context, sessionID string) error
	DeleteSession(ctx context.Context, sessionID string) error
	ListTombstoned(ctx context.Context, limit int) ([]string, error)
	ResolveSessions(ctx context.Context, sessions []models.ChatSession) ([]models.SessionView, error)
	Ping(ctx context.Context) error
}

// PairKey is the dedup key of a private session: both ids sorted and joined.
func PairKey(userIDs []string) string {
	ids := append([]string(nil), userIDs...)
	sort.Strings(ids)
	return strings.Join(ids, ":")
}

// SessionRepo is a sqlx implementation of SessionRepository.
type SessionRepo struct {
	db *sqlx.DB
}

// NewSessionRepo constructs a SessionRepo.
func NewSessionRepo(db *sqlx.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

// FindSessionsByParticipant returns live sessions that include the user, most recently active first.
func (r *SessionRepo) FindSessionsByParticipant(ctx context.Context, userID string) ([]models.ChatSession, error) {
	var sessions []models.ChatSession
	err := r.db.SelectContext(ctx, &sessions, `SELECT `+sessionColumns+` FROM chat_sessions
        WHERE $1 = ANY(participants) AND deleted_at IS NULL
        ORDER BY updated_at DESC`, userID)
	return sessions, err
}

// FindSessionByExactParticipants finds the private session whose member set equals userIDs.
func (r *SessionRepo) FindSessionByExactParticipants(ctx context.Context, userIDs []string) (models.ChatSession, error) {
	ids := lo.Uniq(userIDs)
	var session models.ChatSession
	err := r.db.GetContext(ctx, &session, `SELECT `+sessionColumns+` FROM chat_sessions
        WHERE is_group = FALSE AND deleted_at IS NULL
        AND participants @> $1 AND participants <@ $1 AND cardinality(participants) = $2
        LIMIT 1`, pq.Array(ids), len(ids))
	if errors.Is(err, sql.ErrNoRows) {
		return models.ChatSession{}, ErrSessionNotFound
	}
	return session, err
}

// CreateSession inserts a session. A private session whose pair key already exists is
// returned instead, with created=false.
func (r *SessionRepo) CreateSession(ctx context.Context, session models.ChatSession) (models.ChatSession, bool, error) {
	var created models.ChatSession
	err := r.db.GetContext(ctx, &created, `INSERT INTO chat_sessions (id, participants, is_group, group_name, group_admin, pair_key)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (pair_key) DO NOTHING
        RETURNING `+sessionColumns,
		session.ID, session.Participants, session.IsGroup, session.GroupName, session.GroupAdmin, session.PairKey)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) || session.PairKey == nil {
		return models.ChatSession{}, false, err
	}

	var existing models.ChatSession
	err = r.db.GetContext(ctx, &existing, `SELECT `+sessionColumns+` FROM chat_sessions WHERE pair_key=$1 AND deleted_at IS NULL`, *session.PairKey)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ChatSession{}, false, ErrVersionConflict
	}
	return existing, false, err
}

// GetSession fetches a live session by id.
func (r *SessionRepo) GetSession(ctx context.Context, sessionID string) (models.ChatSession, error) {
	var session models.ChatSession
	err := r.db.GetContext(ctx, &session, `SELECT `+sessionColumns+` FROM chat_sessions WHERE id=$1 AND deleted_at IS NULL`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ChatSession{}, ErrSessionNotFound
	}
	return session, err
}

// UpdateParticipants replaces the participant set if the stored version still matches.
func (r *SessionRepo) UpdateParticipants(ctx context.Context, sessionID string, participants []string, version int) (models.ChatSession, error) {
	var session models.ChatSession
	err := r.db.GetContext(ctx, &session, `UPDATE chat_sessions
        SET participants = $2, version = version + 1, updated_at = NOW()
        WHERE id = $1 AND version = $3 AND deleted_at IS NULL
        RETURNING `+sessionColumns, sessionID, pq.Array(participants), version)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.ChatSession{}, err
	}
	if _, getErr := r.GetSession(ctx, sessionID); getErr != nil {
		return models.ChatSession{}, getErr
	}
	return models.ChatSession{}, ErrVersionConflict
}

// TombstoneSession hides a session from every read and frees its pair key.
func (r *SessionRepo) TombstoneSession(ctx context.Context, sessionID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE chat_sessions SET deleted_at = NOW(), pair_key = NULL
        WHERE id = $1 AND deleted_at IS NULL`, sessionID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// DeleteSession removes the session row, tombstoned or not.
func (r *SessionRepo) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id=$1`, sessionID)
	return err
}

// ListTombstoned returns ids of sessions whose purge has not finished, oldest first.
func (r *SessionRepo) ListTombstoned(ctx context.Context, limit int) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `SELECT id FROM chat_sessions WHERE deleted_at IS NOT NULL ORDER BY deleted_at ASC LIMIT $1`, limit)
	return ids, err
}

// ResolveSessions expands participant and admin ids with a single users lookup.
func (r *SessionRepo) ResolveSessions(ctx context.Context, sessions []models.ChatSession) ([]models.SessionView, error) {
	if len(sessions) == 0 {
		return []models.SessionView{}, nil
	}
	ids := lo.Uniq(lo.FlatMap(sessions, func(s models.ChatSession, _ int) []string { return s.Participants }))

	var users []models.UserSummary
	if err := r.db.SelectContext(ctx, &users, `SELECT id, name, profile_image_url FROM users WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return nil, err
	}
	return buildViews(sessions, lo.KeyBy(users, func(u models.UserSummary) string { return u.ID })), nil
}

// Ping checks database connectivity.
func (r *SessionRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func buildViews(sessions []models.ChatSession, users map[string]models.UserSummary) []models.SessionView {
	lookup := func(id string) models.UserSummary {
		if u, ok := users[id]; ok {
			return u
		}
		return models.UserSummary{ID: id}
	}

	views := make([]models.SessionView, 0, len(sessions))
	for _, s := range sessions {
		view := models.SessionView{
			ID:           s.ID,
			Participants: lo.Map(s.Participants, func(id string, _ int) models.UserSummary { return lookup(id) }),
			IsGroup:      s.IsGroup,
			CreatedAt:    s.CreatedAt,
			UpdatedAt:    s.UpdatedAt,
		}
		if s.GroupName != nil {
			view.GroupName = *s.GroupName
		}
		if s.GroupAdmin != nil {
			admin := lookup(*s.GroupAdmin)
			view.GroupAdmin = &admin
		}
		views = append(views, view)
	}
	return views
}
