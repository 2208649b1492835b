package ws

import (
	"context"
	"time"

	"chat-engine/internal/logging"
	"chat-engine/internal/observability"
)

const wsRoutingKey = "ws_events.chat"

// ConnInfo identifies a connection in logs and lifecycle events.
type ConnInfo struct {
	ConnID      string
	UserID      string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

// publishLifecycle emits ws_connected, ws_disconnected and ws_dropped events to the broker.
func publishLifecycle(ctx context.Context, event string, info ConnInfo, reason string) {
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id": info.UserID,
			"ip":      info.IP,
		},
	}

	headers := observability.BuildHeaders(ctx, info.RequestID)
	if info.TraceID != "" {
		headers["trace_id"] = info.TraceID
	}
	err := observability.PublishEvent(ctx, wsRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Headers:   headers,
		Payload:   payload,
	})
	if err != nil {
		logging.Ctx(ctx).Debug().Err(err).Str("event", event).Msg("ws lifecycle publish failed")
	}
}
