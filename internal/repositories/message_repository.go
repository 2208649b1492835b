package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"chat-engine/internal/models"
)

// ErrNotParticipant is returned when the sender is not a member of a live session at write time.
var ErrNotParticipant = errors.New("sender is not a participant of the session")

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, sessionID string, senderID string, text string) (models.MessageView, error)
	ListMessages(ctx context.Context, sessionID string) ([]models.MessageView, error)
	DeleteMessages(ctx context.Context, sessionID string) (int64, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage stores a message. The membership check and the insert are one statement,
// so a sender removed concurrently cannot slip a message in.
func (r *MessageRepo) CreateMessage(ctx context.Context, sessionID string, senderID string, text string) (models.MessageView, error) {
	var row models.MessageRow
	err := r.db.GetContext(ctx, &row, `WITH inserted AS (
            INSERT INTO chat_messages (id, session_id, sender_id, text)
            SELECT $1, s.id, $3, $4 FROM chat_sessions s
            WHERE s.id = $2 AND s.deleted_at IS NULL AND $3 = ANY(s.participants)
            RETURNING id, session_id, sender_id, text, seq, created_at
        )
        SELECT i.id, i.session_id, i.sender_id, i.text, i.seq, i.created_at,
            COALESCE(u.name, '') AS sender_name, COALESCE(u.profile_image_url, '') AS sender_image
        FROM inserted i LEFT JOIN users u ON u.id = i.sender_id`,
		uuid.NewString(), sessionID, senderID, text)
	if errors.Is(err, sql.ErrNoRows) {
		return models.MessageView{}, ErrNotParticipant
	}
	if err != nil {
		return models.MessageView{}, err
	}
	return row.View(), nil
}

// ListMessages returns the session's messages ordered by server timestamp, then insertion.
func (r *MessageRepo) ListMessages(ctx context.Context, sessionID string) ([]models.MessageView, error) {
	var rows []models.MessageRow
	err := r.db.SelectContext(ctx, &rows, `SELECT m.id, m.session_id, m.sender_id, m.text, m.seq, m.created_at,
            COALESCE(u.name, '') AS sender_name, COALESCE(u.profile_image_url, '') AS sender_image
        FROM chat_messages m LEFT JOIN users u ON u.id = m.sender_id
        WHERE m.session_id = $1
        ORDER BY m.created_at ASC, m.seq ASC`, sessionID)
	if err != nil {
		return nil, err
	}

	views := make([]models.MessageView, 0, len(rows))
	for _, row := range rows {
		views = append(views, row.View())
	}
	return views, nil
}

// DeleteMessages hard-deletes every message of the session.
func (r *MessageRepo) DeleteMessages(ctx context.Context, sessionID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE session_id=$1`, sessionID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
