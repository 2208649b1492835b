package ws

import (
	"chat-engine/internal/apperrors"
)

// Client to server event types.
const (
	EventIdentify          = "identify"
	EventSubscribe         = "subscribe"
	EventPostMessage       = "post_message"
	EventAddParticipants   = "add_participants"
	EventRemoveParticipant = "remove_participant"
	EventDeleteSession     = "delete_session"
	EventPing              = "ping"
)

// Reply types.
const (
	ReplyAck   = "ack"
	ReplyError = "error"
)

// Error codes beyond the apperrors kinds.
const (
	CodeBadRequest       = "BAD_REQUEST"
	CodeNotIdentified    = "NOT_IDENTIFIED"
	CodeIdentityMismatch = "IDENTITY_MISMATCH"
	CodeTimeout          = "TIMEOUT"
)

// ClientEvent is any message a client sends. Fields not used by Type are ignored.
type ClientEvent struct {
	Type           string   `json:"type"`
	RequestID      string   `json:"request_id,omitempty"`
	UserID         string   `json:"user_id,omitempty"`
	SessionID      string   `json:"session_id,omitempty"`
	Text           string   `json:"text,omitempty"`
	ParticipantIDs []string `json:"participant_ids,omitempty"`
	ParticipantID  string   `json:"participant_id,omitempty"`
}

// Reply answers a single client event and is sent only to its originator.
type Reply struct {
	Type      string      `json:"type"`
	Event     string      `json:"event"`
	RequestID string      `json:"request_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Code      string      `json:"code,omitempty"`
	Message   string      `json:"message,omitempty"`
}

// IdentifyResult is the ack payload of identify.
type IdentifyResult struct {
	UserID      string   `json:"user_id"`
	Sessions    []string `json:"sessions"`
	ActiveUsers []string `json:"active_users"`
}

func ack(evt ClientEvent, data interface{}) Reply {
	return Reply{Type: ReplyAck, Event: evt.Type, RequestID: evt.RequestID, Data: data}
}

func errorReply(evt ClientEvent, code, message string) Reply {
	return Reply{Type: ReplyError, Event: evt.Type, RequestID: evt.RequestID, Code: code, Message: message}
}

func errorFromApp(evt ClientEvent, err error) Reply {
	return errorReply(evt, string(apperrors.KindOf(err)), apperrors.PublicMessage(err))
}
