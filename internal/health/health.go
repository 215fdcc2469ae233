package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Status struct {
	OK       bool   `json:"ok"`
	Service  string `json:"service"`
	Message  string `json:"message,omitempty"`
	Database bool   `json:"database"`
	Queue    bool   `json:"queue"`
}

// HTTPHandler returns an HTTP handler that reports the health of the service's
// two dependencies: the Postgres pool and nsqd. Either one failing makes the
// service unavailable.
func HTTPHandler(service string, pool *pgxpool.Pool, nsqdHTTPAddr string) http.HandlerFunc {
	client := &http.Client{Timeout: 1 * time.Second}

	return func(w http.ResponseWriter, r *http.Request) {
		st := Status{OK: true, Service: service, Message: "ok", Database: true, Queue: true}

		ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
		defer cancel()

		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				st.Database = false
			}
		}

		if nsqdHTTPAddr != "" {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+nsqdHTTPAddr+"/ping", nil)
			if err != nil {
				st.Queue = false
			} else if resp, doErr := client.Do(req); doErr != nil {
				st.Queue = false
			} else {
				if resp.StatusCode != http.StatusOK {
					st.Queue = false
				}
				resp.Body.Close()
			}
		}

		if !st.Database || !st.Queue {
			st.OK = false
			switch {
			case !st.Database:
				st.Message = "db ping failed"
			default:
				st.Message = "nsqd unreachable"
			}
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(st)
	}
}
