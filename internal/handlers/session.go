package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-engine/internal/models"
	"chat-engine/internal/services"
)

// SessionService is the membership API served over HTTP.
type SessionService interface {
	CreateSession(ctx context.Context, requesterID string, participantIDs []string, isGroup bool, groupName string) (models.SessionView, bool, error)
	ListSessions(ctx context.Context, userID string) ([]models.SessionView, error)
	GetSession(ctx context.Context, userID, sessionID string) (models.SessionView, error)
	SessionLink(ctx context.Context, userID, sessionID string) (string, error)
	AddParticipants(ctx context.Context, requesterID, sessionID string, participantIDs []string) (models.SessionView, error)
	RemoveParticipant(ctx context.Context, requesterID, sessionID, participantID string) (services.RemoveResult, error)
	DeleteSession(ctx context.Context, requesterID, sessionID string) error
}

// MessageService posts and lists session messages.
type MessageService interface {
	PostMessage(ctx context.Context, senderID, sessionID, text string) (models.MessageView, error)
	ListMessages(ctx context.Context, requesterID, sessionID string) ([]models.MessageView, error)
}

// SessionHandler serves /api/chat.
type SessionHandler struct {
	sessions SessionService
	messages MessageService
}

func NewSessionHandler(sessions SessionService, messages MessageService) *SessionHandler {
	return &SessionHandler{sessions: sessions, messages: messages}
}

// Register mounts the chat routes on group, which must already authenticate.
func (h *SessionHandler) Register(group *gin.RouterGroup) {
	group.POST("", h.CreateSession)
	group.GET("", h.ListSessions)
	group.GET("/:session_id", h.GetSession)
	group.DELETE("/:session_id", h.DeleteSession)
	group.GET("/:session_id/link", h.SessionLink)
	group.GET("/:session_id/messages", h.ListMessages)
	group.POST("/:session_id/messages", h.PostMessage)
	group.POST("/:session_id/participants", h.AddParticipants)
	group.DELETE("/:session_id/participants/:participant_id", h.RemoveParticipant)
}

// CreateSession handles POST /api/chat. An existing private session is returned with 200.
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req struct {
		ParticipantIDs []string `json:"participant_ids" binding:"required"`
		IsGroup        bool     `json:"is_group"`
		GroupName      string   `json:"group_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	view, created, err := h.sessions.CreateSession(c.Request.Context(), userIDFromContext(c), req.ParticipantIDs, req.IsGroup, req.GroupName)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"session": view})
}

// ListSessions handles GET /api/chat.
func (h *SessionHandler) ListSessions(c *gin.Context) {
	views, err := h.sessions.ListSessions(c.Request.Context(), userIDFromContext(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": views})
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	view, err := h.sessions.GetSession(c.Request.Context(), userIDFromContext(c), c.Param("session_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": view})
}

// SessionLink handles GET /api/chat/:session_id/link.
func (h *SessionHandler) SessionLink(c *gin.Context) {
	link, err := h.sessions.SessionLink(c.Request.Context(), userIDFromContext(c), c.Param("session_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"link": link})
}

func (h *SessionHandler) DeleteSession(c *gin.Context) {
	sessionID := c.Param("session_id")
	if err := h.sessions.DeleteSession(c.Request.Context(), userIDFromContext(c), sessionID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "deleted": true})
}

// ListMessages handles GET /api/chat/:session_id/messages, oldest first.
func (h *SessionHandler) ListMessages(c *gin.Context) {
	msgs, err := h.messages.ListMessages(c.Request.Context(), userIDFromContext(c), c.Param("session_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage handles POST /api/chat/:session_id/messages.
func (h *SessionHandler) PostMessage(c *gin.Context) {
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	msg, err := h.messages.PostMessage(c.Request.Context(), userIDFromContext(c), c.Param("session_id"), req.Text)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// AddParticipants handles POST /api/chat/:session_id/participants.
func (h *SessionHandler) AddParticipants(c *gin.Context) {
	var req struct {
		ParticipantIDs []string `json:"participant_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	view, err := h.sessions.AddParticipants(c.Request.Context(), userIDFromContext(c), c.Param("session_id"), req.ParticipantIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": view})
}

// RemoveParticipant handles DELETE /api/chat/:session_id/participants/:participant_id.
// Removing one side of a private session deletes it; the response says so.
func (h *SessionHandler) RemoveParticipant(c *gin.Context) {
	result, err := h.sessions.RemoveParticipant(c.Request.Context(), userIDFromContext(c), c.Param("session_id"), c.Param("participant_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
