package services

import (
	"chat-engine/internal/models"
)

// Notifier fans events out to live connections. Every method is best effort and
// must not block on a slow client.
type Notifier interface {
	PublishToSession(sessionID string, event models.ChatEvent)
	PublishToUser(userID string, event models.ChatEvent)
	SubscribeUser(userID, sessionID string)
	UnsubscribeUser(userID, sessionID string)
	DropSession(sessionID string)
}
