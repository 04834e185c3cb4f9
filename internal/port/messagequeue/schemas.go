package messagequeue

// DeliveryDispatchPayload is the schema for deliveries.dispatch messages.
// The executor reloads the delivery and webhook by ID, so the message stays
// small and a redelivered message never acts on stale state.
type DeliveryDispatchPayload struct {
	DeliveryID string `json:"delivery_id"`
	WebhookID  string `json:"webhook_id"`
}
