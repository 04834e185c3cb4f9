package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "quarry"

// StartDispatchSpan starts a span for processing one event envelope.
func StartDispatchSpan(ctx context.Context, eventID, eventType string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "dispatch",
		trace.WithAttributes(
			attribute.String("event.id", eventID),
			attribute.String("event.type", eventType),
		),
	)
}

// StartRuleSpan starts a span for one rule evaluation.
func StartRuleSpan(ctx context.Context, ruleID, trigger string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "rule",
		trace.WithAttributes(
			attribute.String("rule.id", ruleID),
			attribute.String("rule.trigger", trigger),
		),
	)
}

// StartDeliverySpan starts a span for one webhook delivery attempt.
func StartDeliverySpan(ctx context.Context, deliveryID, webhookID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "delivery",
		trace.WithAttributes(
			attribute.String("delivery.id", deliveryID),
			attribute.String("webhook.id", webhookID),
		),
	)
}
