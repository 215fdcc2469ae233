package hooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Envelope is the hook body. Field order is fixed by the struct and map keys
// are marshaled sorted, so Canonical() is deterministic for a given payload:
// the signature is computed over these exact bytes.
type Envelope struct {
	Timestamp string         `json:"timestamp"`
	Event     string         `json:"event"`
	Data      map[string]any `json:"data"`
}

// NewEnvelope wraps an event payload with the current UTC timestamp.
func NewEnvelope(event string, data map[string]any) Envelope {
	return Envelope{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Event:     event,
		Data:      data,
	}
}

// Canonical serializes the envelope compactly with stable key ordering.
func (e Envelope) Canonical() ([]byte, error) {
	return json.Marshal(e)
}

// Sign computes an HMAC-SHA256 over body using secret and returns the
// signature header value, e.g. "sha256=ab12...".
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig matches Sign(secret, body). Comparison is
// constant-time.
func Verify(secret string, body []byte, sig string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(sig))
}
