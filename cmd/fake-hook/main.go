package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/mweller/arcadecrm/internal/config"
	"github.com/mweller/arcadecrm/internal/hooks"
)

// fake-hook stands in for the downstream automation endpoint during local
// development. It verifies X-Hook-Signature over the exact request body and
// answers with a run id, optionally failing the first N requests to exercise
// the retry path.

var reqCount = 0

func main() {
	cfg := config.FromEnv().FakeHook

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.HandleFunc("/hook", handleHook(cfg))

	log.Printf("fake-hook listening on %s", cfg.Port)
	log.Fatal(http.ListenAndServe(cfg.Port, mux))
}

func handleHook(cfg config.FakeHook) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqCount++
		b, _ := io.ReadAll(r.Body)
		defer r.Body.Close()

		if cfg.ResponseDelay > 0 {
			time.Sleep(cfg.ResponseDelay)
		}

		if cfg.Secret != "" {
			sig := r.Header.Get("X-Hook-Signature")
			if !hooks.Verify(cfg.Secret, b, sig) {
				log.Printf("fake-hook signature mismatch sig=%q body=%s", sig, truncate(string(b), 160))
				http.Error(w, "invalid signature", http.StatusUnauthorized)
				return
			}
		}

		var env hooks.Envelope
		if err := json.Unmarshal(b, &env); err != nil {
			log.Printf("fake-hook bad envelope: %v", err)
			http.Error(w, "bad envelope", http.StatusBadRequest)
			return
		}

		// Simulate flakiness: first N requests -> 500
		if reqCount <= cfg.FailFirstN {
			log.Printf("FAILING (%d/%d) event=%s body=%s", reqCount, cfg.FailFirstN, env.Event, truncate(string(b), 160))
			http.Error(w, "temporary failure", http.StatusInternalServerError)
			return
		}

		log.Printf("fake-hook OK event=%s body=%s", env.Event, truncate(string(b), 160))
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "run-%d", reqCount)
	}
}

// truncate truncates a string to the specified length and adds an ellipsis if truncated
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
