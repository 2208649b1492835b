package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"chat-engine/internal/logging"
	"chat-engine/internal/models"
	"chat-engine/internal/observability"
	"chat-engine/internal/services"
)

// Presence is the part of the presence registry the gateway drives.
type Presence interface {
	Announce(userID, connID string)
	Withdraw(connID string) bool
	Snapshot() []string
}

// Membership is the session API the gateway exposes to clients.
type Membership interface {
	AuthorizeAccess(ctx context.Context, userID, sessionID string) (models.ChatSession, error)
	SessionIDs(ctx context.Context, userID string) ([]string, error)
	AddParticipants(ctx context.Context, requesterID, sessionID string, participantIDs []string) (models.SessionView, error)
	RemoveParticipant(ctx context.Context, requesterID, sessionID, participantID string) (services.RemoveResult, error)
	DeleteSession(ctx context.Context, requesterID, sessionID string) error
}

// Messages posts chat messages on behalf of a client.
type Messages interface {
	PostMessage(ctx context.Context, senderID, sessionID, text string) (models.MessageView, error)
}

// Gateway runs the per-connection state machine: connected, identified, subscribed, gone.
type Gateway struct {
	hub          *Hub
	presence     Presence
	membership   Membership
	messages     Messages
	eventTimeout time.Duration
}

func NewGateway(hub *Hub, presence Presence, membership Membership, messages Messages, eventTimeout time.Duration) *Gateway {
	if eventTimeout <= 0 {
		eventTimeout = 5 * time.Second
	}
	return &Gateway{
		hub:          hub,
		presence:     presence,
		membership:   membership,
		messages:     messages,
		eventTimeout: eventTimeout,
	}
}

// HandleFrame decodes one client frame, applies it and replies to the sender only.
func (g *Gateway) HandleFrame(ctx context.Context, c *Client, raw []byte) {
	var evt ClientEvent
	if err := json.Unmarshal(raw, &evt); err != nil || evt.Type == "" {
		observability.IncWSEvent("invalid", "rejected")
		g.hub.Send(c, errorReply(evt, CodeBadRequest, "malformed event"))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, g.eventTimeout)
	defer cancel()

	reply := g.dispatch(ctx, c, evt)
	if reply.Type == ReplyError && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		reply = errorReply(evt, CodeTimeout, "request timed out")
	}
	outcome := "ok"
	if reply.Type == ReplyError {
		outcome = "error"
	}
	observability.IncWSEvent(evt.Type, outcome)
	g.hub.Send(c, reply)
}

// Disconnect withdraws presence and drops every subscription of c. Safe at any state.
func (g *Gateway) Disconnect(ctx context.Context, c *Client) {
	subs := g.hub.Subscriptions(c)
	withdrawn := g.presence.Withdraw(c.ID)
	g.hub.Unregister(c)
	logging.Ctx(ctx).Debug().Strs("sessions", subs).Bool("presence_withdrawn", withdrawn).Msg("websocket state released")
}

func (g *Gateway) dispatch(ctx context.Context, c *Client, evt ClientEvent) Reply {
	switch evt.Type {
	case EventPing:
		return ack(evt, nil)
	case EventIdentify:
		return g.identify(ctx, c, evt)
	}

	if !c.identified {
		return errorReply(evt, CodeNotIdentified, "identify first")
	}

	switch evt.Type {
	case EventSubscribe:
		if _, err := g.membership.AuthorizeAccess(ctx, c.UserID, evt.SessionID); err != nil {
			return errorFromApp(evt, err)
		}
		g.hub.Subscribe(c, evt.SessionID)
		return ack(evt, map[string]string{"session_id": evt.SessionID})

	case EventPostMessage:
		msg, err := g.messages.PostMessage(ctx, c.UserID, evt.SessionID, evt.Text)
		if err != nil {
			return errorFromApp(evt, err)
		}
		return ack(evt, msg)

	case EventAddParticipants:
		view, err := g.membership.AddParticipants(ctx, c.UserID, evt.SessionID, evt.ParticipantIDs)
		if err != nil {
			return errorFromApp(evt, err)
		}
		return ack(evt, view)

	case EventRemoveParticipant:
		result, err := g.membership.RemoveParticipant(ctx, c.UserID, evt.SessionID, evt.ParticipantID)
		if err != nil {
			return errorFromApp(evt, err)
		}
		return ack(evt, result)

	case EventDeleteSession:
		if err := g.membership.DeleteSession(ctx, c.UserID, evt.SessionID); err != nil {
			return errorFromApp(evt, err)
		}
		return ack(evt, map[string]string{"session_id": evt.SessionID})
	}

	return errorReply(evt, CodeBadRequest, "unknown event type")
}

// identify binds the connection to its user, announces presence and joins every session
// channel the user already belongs to.
func (g *Gateway) identify(ctx context.Context, c *Client, evt ClientEvent) Reply {
	if evt.UserID != "" && evt.UserID != c.UserID {
		return errorReply(evt, CodeIdentityMismatch, "user does not match the connection token")
	}

	// Bind before listing so a session created meanwhile still reaches c.
	c.identified = true
	g.hub.BindUser(c)
	g.presence.Announce(c.UserID, c.ID)

	sessionIDs, err := g.membership.SessionIDs(ctx, c.UserID)
	if err != nil {
		return errorFromApp(evt, err)
	}
	for _, id := range sessionIDs {
		g.hub.Subscribe(c, id)
	}
	logging.Ctx(ctx).Debug().Int("sessions", len(sessionIDs)).Msg("websocket identified")

	return ack(evt, IdentifyResult{UserID: c.UserID, Sessions: sessionIDs, ActiveUsers: g.presence.Snapshot()})
}
