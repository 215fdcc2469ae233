package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPHandlerHealthy(t *testing.T) {
	nsqd := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ping" {
			t.Errorf("path = %q, want /ping", r.URL.Path)
		}
		_, _ = w.Write([]byte("OK"))
	}))
	defer nsqd.Close()

	handler := HTTPHandler("arcadecrm-worker", nil, strings.TrimPrefix(nsqd.URL, "http://"))
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var st Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if !st.OK || !st.Queue {
		t.Errorf("status = %+v, want ok with queue reachable", st)
	}
	if st.Service != "arcadecrm-worker" {
		t.Errorf("service = %q, want arcadecrm-worker", st.Service)
	}
}

func TestHTTPHandlerNsqdDown(t *testing.T) {
	nsqd := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer nsqd.Close()

	handler := HTTPHandler("arcadecrm-worker", nil, strings.TrimPrefix(nsqd.URL, "http://"))
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var st Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if st.OK || st.Queue {
		t.Errorf("status = %+v, want queue unreachable", st)
	}
}

func TestHTTPHandlerNoChecksConfigured(t *testing.T) {
	handler := HTTPHandler("arcadecrm-scheduler", nil, "")
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with no checks configured", rec.Code)
	}
}
