package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-engine/internal/meet"
)

// RoomIssuer signs meeting room tokens.
type RoomIssuer interface {
	CreateRoom(ctx context.Context, userID, roomName string) (meet.Room, error)
}

// MeetHandler serves POST /api/meet/create.
type MeetHandler struct {
	issuer RoomIssuer
}

// NewMeetHandler accepts a nil issuer when meetings are not configured.
func NewMeetHandler(issuer RoomIssuer) *MeetHandler {
	return &MeetHandler{issuer: issuer}
}

func (h *MeetHandler) Create(c *gin.Context) {
	if h.issuer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "meetings are not configured"})
		return
	}

	var req struct {
		RoomName string `json:"roomName" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room name is required"})
		return
	}

	room, err := h.issuer.CreateRoom(c.Request.Context(), userIDFromContext(c), req.RoomName)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}
