package models

// Server to client notification types.
const (
	EventMessageReceived    = "message_received"
	EventPresenceChanged    = "presence_changed"
	EventSessionDeleted     = "session_deleted"
	EventParticipantsAdded  = "participants_added"
	EventParticipantRemoved = "participant_removed"
	EventSessionInvite      = "session_invite"
)

// ChatEvent is pushed to websocket connections.
type ChatEvent struct {
	Type        string       `json:"type"`
	Message     *MessageView `json:"message,omitempty"`
	Session     *SessionView `json:"session,omitempty"`
	SessionID   string       `json:"session_id,omitempty"`
	UserID      string       `json:"user_id,omitempty"`
	ActiveUsers []string     `json:"active_users,omitempty"`
}

func MessageReceived(msg MessageView) ChatEvent {
	return ChatEvent{Type: EventMessageReceived, Message: &msg, SessionID: msg.SessionID}
}

func PresenceChanged(users []string) ChatEvent {
	if users == nil {
		users = []string{}
	}
	return ChatEvent{Type: EventPresenceChanged, ActiveUsers: users}
}

func SessionDeleted(sessionID string) ChatEvent {
	return ChatEvent{Type: EventSessionDeleted, SessionID: sessionID}
}

func ParticipantsAdded(session SessionView) ChatEvent {
	return ChatEvent{Type: EventParticipantsAdded, Session: &session, SessionID: session.ID}
}

// ParticipantRemoved carries the updated session for the channel. The removed
// user receives the same event with only the session id and their own id.
func ParticipantRemoved(session *SessionView, sessionID, userID string) ChatEvent {
	return ChatEvent{Type: EventParticipantRemoved, Session: session, SessionID: sessionID, UserID: userID}
}

func SessionInvite(session SessionView) ChatEvent {
	return ChatEvent{Type: EventSessionInvite, Session: &session, SessionID: session.ID}
}
