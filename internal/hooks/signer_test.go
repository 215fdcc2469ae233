package hooks

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestCanonicalDeterministic(t *testing.T) {
	payload := map[string]any{
		"client_id":  "c1",
		"name":       "Ann",
		"phone":      "555-0100",
		"expires_on": "2025-01-15",
	}
	env := Envelope{Timestamp: "2025-01-01T09:00:00Z", Event: "membership.expiring_30d", Data: payload}

	first, err := env.Canonical()
	if err != nil {
		t.Fatalf("Canonical() error = %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := env.Canonical()
		if err != nil {
			t.Fatalf("Canonical() error = %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("Canonical() not deterministic: %s vs %s", first, again)
		}
	}
}

func TestCanonicalFieldOrder(t *testing.T) {
	env := Envelope{Timestamp: "2025-01-01T09:00:00Z", Event: "client.created", Data: map[string]any{"a": 1}}
	b, err := env.Canonical()
	if err != nil {
		t.Fatalf("Canonical() error = %v", err)
	}
	s := string(b)
	ti := strings.Index(s, `"timestamp"`)
	ei := strings.Index(s, `"event"`)
	di := strings.Index(s, `"data"`)
	if ti < 0 || ei < 0 || di < 0 || !(ti < ei && ei < di) {
		t.Errorf("field order = %s, want timestamp,event,data", s)
	}
	if strings.Contains(s, " ") {
		t.Errorf("canonical body contains whitespace: %s", s)
	}
}

func TestSignStable(t *testing.T) {
	body := []byte(`{"timestamp":"2025-01-01T09:00:00Z","event":"client.created","data":{"client_id":"c1"}}`)

	sig := Sign("s3cr3t", body)
	if !strings.HasPrefix(sig, "sha256=") {
		t.Errorf("Sign() = %q, want sha256= prefix", sig)
	}
	if again := Sign("s3cr3t", body); again != sig {
		t.Errorf("Sign() not stable: %q vs %q", sig, again)
	}
	if other := Sign("different", body); other == sig {
		t.Errorf("Sign() ignored the secret")
	}
}

func TestVerify(t *testing.T) {
	body := []byte(`{"event":"x"}`)
	sig := Sign("s3cr3t", body)

	tests := []struct {
		name   string
		secret string
		body   []byte
		sig    string
		want   bool
	}{
		{name: "valid", secret: "s3cr3t", body: body, sig: sig, want: true},
		{name: "wrong secret", secret: "other", body: body, sig: sig, want: false},
		{name: "tampered body", secret: "s3cr3t", body: []byte(`{"event":"y"}`), sig: sig, want: false},
		{name: "empty signature", secret: "s3cr3t", body: body, sig: "", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Verify(tt.secret, tt.body, tt.sig); got != tt.want {
				t.Errorf("Verify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewEnvelopeTimestamp(t *testing.T) {
	env := NewEnvelope("client.created", map[string]any{"client_id": "c1"})
	if env.Event != "client.created" {
		t.Errorf("Event = %q, want client.created", env.Event)
	}
	if !strings.HasSuffix(env.Timestamp, "Z") {
		t.Errorf("Timestamp = %q, want UTC RFC3339", env.Timestamp)
	}
	b, err := env.Canonical()
	if err != nil {
		t.Fatalf("Canonical() error = %v", err)
	}
	var back Envelope
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("canonical bytes not valid JSON: %v", err)
	}
}
