package models

import "time"

// ChatMessage represents a message posted in a chat session.
type ChatMessage struct {
	ID        string    `db:"id" json:"id"`
	SessionID string    `db:"session_id" json:"session_id"`
	SenderID  string    `db:"sender_id" json:"sender_id"`
	Text      string    `db:"text" json:"text"`
	Seq       int64     `db:"seq" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// MessageView is a message with its sender expanded.
type MessageView struct {
	ID        string      `json:"id"`
	SessionID string      `json:"session_id"`
	Sender    UserSummary `json:"sender"`
	Text      string      `json:"text"`
	CreatedAt time.Time   `json:"created_at"`
}

// MessageRow is the flat shape returned by the message join query.
type MessageRow struct {
	ChatMessage
	SenderName  string `db:"sender_name"`
	SenderImage string `db:"sender_image"`
}

// View converts the joined row into its API shape.
func (r MessageRow) View() MessageView {
	return MessageView{
		ID:        r.ID,
		SessionID: r.SessionID,
		Sender:    UserSummary{ID: r.SenderID, Name: r.SenderName, ProfileImageURL: r.SenderImage},
		Text:      r.Text,
		CreatedAt: r.CreatedAt,
	}
}
