package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignatureHeader carries the HMAC of the request body. Receivers recompute
// the HMAC over the raw body with the shared secret and compare; header name
// and algorithm are part of the wire contract.
const SignatureHeader = "X-Webhook-Signature"

// Headers identifying the webhook, event and delivery on each request.
const (
	WebhookIDHeader  = "X-Webhook-ID"
	EventHeader      = "X-Webhook-Event"
	DeliveryIDHeader = "X-Webhook-Delivery-ID"
)

// Sign computes the hex HMAC-SHA256 of body using the webhook secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches the body in constant time.
func VerifySignature(body []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(body, secret)), []byte(signature))
}
