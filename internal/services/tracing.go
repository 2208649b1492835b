package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"chat-engine/internal/apperrors"
)

var tracer = otel.Tracer("chat-engine/services")

func startSpan(ctx context.Context, name, sessionID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attribute.String("chat.session_id", sessionID)))
}

// endSpan marks the span failed only for server errors; rejected requests are normal outcomes.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.SetAttributes(attribute.String("chat.error_kind", string(apperrors.KindOf(err))))
		if apperrors.Is(err, apperrors.KindServer) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}
