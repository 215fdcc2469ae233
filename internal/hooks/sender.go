package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mweller/arcadecrm/internal/config"
	"github.com/mweller/arcadecrm/internal/logging"
	"github.com/mweller/arcadecrm/internal/metrics"
	"github.com/mweller/arcadecrm/internal/tracing"
)

const userAgent = "arcadecrm/1.0"

// maxRunIDLen caps how much of the endpoint's response body is kept as the
// external run identifier.
const maxRunIDLen = 200

// Sender delivers business events to the automation endpoint and drives the
// delivery-record state machine. Each record is created and finalized within a
// single job execution; no other writer touches it.
type Sender struct {
	hook    config.Hook
	records RecordStore
	client  *http.Client
	log     *logging.Logger
}

func NewSender(hook config.Hook, records RecordStore) *Sender {
	return &Sender{
		hook:    hook,
		records: records,
		client:  &http.Client{Timeout: hook.Timeout},
		log:     logging.New("hook-sender"),
	}
}

// Send wraps data into a signed envelope and posts it to the automation
// endpoint. It returns true only on a confirmed delivery (or a log-only
// logical success). A missing URL is a soft skip: logged, no record created.
func (s *Sender) Send(ctx context.Context, event string, data map[string]any) bool {
	ctx, span := tracing.StartSpan(ctx, "hook.send", attribute.String("event_type", event))
	defer span.End()

	if s.hook.LogOnly() {
		pretty, _ := json.MarshalIndent(data, "", "  ")
		s.log.WithContext(ctx).WithEventType(event).
			WithField("payload", string(pretty)).
			Info("log-only mode, hook delivery skipped")
		metrics.RecordHookDelivery("logged", 0)
		return true
	}

	if s.hook.URL == "" {
		s.log.WithContext(ctx).WithEventType(event).Warn("hook URL not configured, dropping event")
		metrics.RecordHookDelivery("skipped", 0)
		return false
	}

	body, err := NewEnvelope(event, data).Canonical()
	if err != nil {
		s.log.WithContext(ctx).WithEventType(event).WithError(err).Error("envelope serialization failed")
		tracing.SetSpanError(ctx, err)
		return false
	}

	// Record first, network second: a crash mid-call still leaves a row.
	tracing.AddSpanEvent(ctx, "db.create_delivery_record")
	rec, err := s.records.Create(ctx, event, body)
	if err != nil {
		s.log.WithContext(ctx).WithEventType(event).WithError(err).Error("delivery record creation failed")
		tracing.SetSpanError(ctx, err)
		return false
	}

	return s.deliver(ctx, rec.ID, event, body)
}

// Resend pushes an existing record through the normal send path again. The
// stored envelope is reused byte-for-byte, so the signature matches what the
// receiver sees; the record's own attempt counter keeps counting.
func (s *Sender) Resend(ctx context.Context, rec *DeliveryRecord) bool {
	ctx, span := tracing.StartSpan(ctx, "hook.resend",
		attribute.String("record_id", rec.ID),
		attribute.String("event_type", rec.Event),
		attribute.Int("attempt", rec.AttemptCount),
	)
	defer span.End()

	if s.hook.LogOnly() {
		s.log.WithContext(ctx).WithRecord(rec.ID).WithEventType(rec.Event).
			Info("log-only mode, hook resend skipped")
		return true
	}
	if s.hook.URL == "" {
		s.log.WithContext(ctx).WithRecord(rec.ID).Warn("hook URL not configured, cannot resend")
		return false
	}

	attempt, err := s.records.BeginAttempt(ctx, rec.ID)
	if err != nil {
		s.log.WithContext(ctx).WithRecord(rec.ID).WithError(err).Error("begin attempt failed")
		tracing.SetSpanError(ctx, err)
		return false
	}
	rec.AttemptCount = attempt
	return s.deliver(ctx, rec.ID, rec.Event, rec.Payload)
}

// deliver signs and posts body, then finalizes the record exactly once.
func (s *Sender) deliver(ctx context.Context, recordID, event string, body []byte) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.hook.URL, bytes.NewReader(body))
	if err != nil {
		s.finalizeFailure(ctx, recordID, event, 0, fmt.Sprintf("build request: %v", err))
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if s.hook.Secret != "" {
		req.Header.Set(s.hook.SignatureHeader, Sign(s.hook.Secret, body))
	}
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		req.Header.Set("X-Trace-Id", traceID)
	}

	tracing.AddSpanEvent(ctx, "http.send_hook")
	start := time.Now()
	resp, doErr := s.client.Do(req)
	latency := time.Since(start)

	if doErr != nil {
		reason := classifyReason(doErr, 0)
		metrics.RecordHookRetry(reason)
		s.finalizeFailure(ctx, recordID, event, latency, doErr.Error())
		return false
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode == http.StatusOK {
		runID := strings.TrimSpace(string(respBody))
		if len(runID) > maxRunIDLen {
			runID = runID[:maxRunIDLen]
		}
		if updErr := s.records.MarkSent(ctx, recordID, runID); updErr != nil {
			s.log.WithContext(ctx).WithRecord(recordID).WithError(updErr).Error("db update sent failed")
			tracing.SetSpanError(ctx, updErr)
		}
		metrics.RecordHookDelivery("sent", latency)
		s.log.WithContext(ctx).WithRecord(recordID).WithEventType(event).WithFields(map[string]any{
			"latency_ms": latency.Milliseconds(),
		}).Info("hook delivered")
		return true
	}

	reason := classifyReason(nil, resp.StatusCode)
	metrics.RecordHookRetry(reason)
	errText := fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	s.finalizeFailure(ctx, recordID, event, latency, errText)
	return false
}

func (s *Sender) finalizeFailure(ctx context.Context, recordID, event string, latency time.Duration, errText string) {
	attempts, terminal, err := s.records.MarkFailure(ctx, recordID, errText)
	if err != nil {
		s.log.WithContext(ctx).WithRecord(recordID).WithError(err).Error("db update failure failed")
		tracing.SetSpanError(ctx, err)
	}
	metrics.RecordHookDelivery("failed", latency)
	entry := s.log.WithContext(ctx).WithRecord(recordID).WithEventType(event).WithFields(map[string]any{
		"attempt": attempts,
		"reason":  errText,
	})
	if terminal {
		entry.Error("hook delivery failed terminally")
	} else {
		entry.Warn("hook delivery failed, eligible for retry")
	}
}

// classifyReason buckets a failure for metrics.
func classifyReason(doErr error, status int) string {
	if doErr != nil {
		errLower := strings.ToLower(doErr.Error())
		if strings.Contains(errLower, "timeout") || strings.Contains(errLower, "deadline exceeded") {
			return "timeout"
		}
		if strings.Contains(errLower, "connection refused") {
			return "connection_refused"
		}
		if strings.Contains(errLower, "no such host") || strings.Contains(errLower, "dns") {
			return "dns_error"
		}
		return "network"
	}
	if status >= 500 {
		return "http_5xx"
	}
	if status == http.StatusTooManyRequests {
		return "http_429"
	}
	if status >= 400 {
		return "http_4xx"
	}
	return "other"
}
