package ws

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"chat-engine/internal/auth"
	"chat-engine/internal/logging"
	"chat-engine/internal/observability"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades GET /ws and runs the connection until it closes.
type Handler struct {
	hub       *Hub
	gateway   *Gateway
	validator auth.Validator
	cfg       ClientConfig
}

func NewHandler(hub *Hub, gateway *Gateway, validator auth.Validator, cfg ClientConfig) *Handler {
	return &Handler{hub: hub, gateway: gateway, validator: validator, cfg: cfg}
}

// Handle authenticates the handshake from ?token= or the Authorization header.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chat-engine/ws").Start(c.Request.Context(), "ws.handshake")
	traceID := span.SpanContext().TraceID().String()

	token := c.Query("token")
	if token == "" {
		token = strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
	}
	userID, err := h.validator.Validate(token)
	if err != nil {
		span.End()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	span.End()
	if err != nil {
		logging.Ctx(ctx).Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
	log := logging.Ctx(ctx).With().Str(logging.FieldConnID, info.ConnID).Str(logging.FieldUserID, userID).Logger()
	connCtx, cancel := context.WithCancel(logging.WithLogger(context.WithoutCancel(ctx), log))
	defer cancel()

	client := NewClient(h.hub, conn, info, h.cfg)
	h.hub.Register(client)
	observability.IncWSActive()
	publishLifecycle(connCtx, "ws_connected", info, "")
	log.Info().Msg("websocket connected")

	go client.WritePump()
	client.ReadPump(func(cl *Client, raw []byte) {
		h.gateway.HandleFrame(connCtx, cl, raw)
	})

	h.gateway.Disconnect(connCtx, client)
	observability.DecWSActive()
	publishLifecycle(connCtx, "ws_disconnected", info, "closed")
	log.Info().Dur("duration", time.Since(info.ConnectedAt)).Msg("websocket disconnected")
}
