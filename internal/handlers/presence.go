package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// PresenceSource exposes the current online set.
type PresenceSource interface {
	Snapshot() []string
	IsOnline(userID string) bool
}

// PresenceHandler serves GET /api/presence for clients that poll instead of listening
// for presence_changed.
type PresenceHandler struct {
	presence PresenceSource
}

func NewPresenceHandler(presence PresenceSource) *PresenceHandler {
	return &PresenceHandler{presence: presence}
}

// Snapshot handles GET /api/presence. With ?user_id= it answers for that user only.
func (h *PresenceHandler) Snapshot(c *gin.Context) {
	if userID := c.Query("user_id"); userID != "" {
		c.JSON(http.StatusOK, gin.H{"user_id": userID, "online": h.presence.IsOnline(userID)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active_users": h.presence.Snapshot()})
}
