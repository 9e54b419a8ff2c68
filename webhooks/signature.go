package webhooks

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"time"
)

const (
	SignatureHeader  = "X-Webhook-Signature"
	EventHeader      = "X-Webhook-Event"
	DeliveryIDHeader = "X-Webhook-Delivery-ID"
	ReplayHeader     = "X-Webhook-Replay"
	UserAgent        = "Clipper-Webhooks/1.0"
)

// Sign returns the hex HMAC-SHA256 of payload keyed by secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is the receiver side check of the signature header.
func VerifySignature(payload []byte, secret, signature string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(got, mac.Sum(nil))
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

const (
	baseRetryDelay = 30 * time.Second
	maxRetryDelay  = time.Hour
)

// RetryDelay is the backoff after the given number of failed attempts:
// 30s doubled per attempt, capped at an hour.
func RetryDelay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	d := float64(baseRetryDelay) * math.Pow(2, float64(attempts))
	if d > float64(maxRetryDelay) {
		return maxRetryDelay
	}
	return time.Duration(d)
}
