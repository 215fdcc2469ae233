package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Delivery record statuses. Sent and Failed are terminal; a record stays
// queued while attempts remain below the ceiling.
const (
	RecordQueued = "queued"
	RecordSent   = "sent"
	RecordFailed = "failed"
)

// ErrRecordNotFound is returned when a delivery record id does not exist.
var ErrRecordNotFound = errors.New("delivery record not found")

// DeliveryRecord tracks one outbound hook across its send attempts. The
// attempt counter here belongs to the record, not to the job that carried it:
// queue-level re-execution is counted separately on the job row.
type DeliveryRecord struct {
	ID           string
	Event        string
	Payload      json.RawMessage // the signed envelope as stored
	Status       string
	AttemptCount int
	LastError    string
	RunID        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	SentAt       *time.Time
}

// RecordStore is the narrow persistence interface the sender drives.
type RecordStore interface {
	Create(ctx context.Context, event string, payload []byte) (*DeliveryRecord, error)
	MarkSent(ctx context.Context, id, runID string) error
	MarkFailure(ctx context.Context, id, lastError string) (attempts int, terminal bool, err error)
	BeginAttempt(ctx context.Context, id string) (attempts int, err error)
	ListRetryable(ctx context.Context, limit int) ([]DeliveryRecord, error)
	Fetch(ctx context.Context, id string) (*DeliveryRecord, error)
}

// PGRecordStore is the Postgres-backed record store.
type PGRecordStore struct {
	pool        *pgxpool.Pool
	maxAttempts int
}

func NewPGRecordStore(pool *pgxpool.Pool, maxAttempts int) *PGRecordStore {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &PGRecordStore{pool: pool, maxAttempts: maxAttempts}
}

// Create inserts a record in queued state with attempt_count=1. Creation is
// synchronous with the first send attempt, so a crash mid-call still leaves
// an auditable row.
func (s *PGRecordStore) Create(ctx context.Context, event string, payload []byte) (*DeliveryRecord, error) {
	rec := &DeliveryRecord{
		Event:        event,
		Payload:      payload,
		Status:       RecordQueued,
		AttemptCount: 1,
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO arcadecrm.hook_deliveries(event, payload, status, attempt_count)
		VALUES ($1, $2, $3, 1)
		RETURNING id, created_at, updated_at`,
		event, payload, RecordQueued,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create delivery record for %s: %w", event, err)
	}
	return rec, nil
}

// MarkSent finalizes a record as delivered. Sent is terminal: the attempt
// counter is never touched again.
func (s *PGRecordStore) MarkSent(ctx context.Context, id, runID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE arcadecrm.hook_deliveries
		SET status=$2, sent_at=now(), run_id=NULLIF($3, ''), updated_at=now(), last_error=NULL
		WHERE id=$1`, id, RecordSent, runID)
	if err != nil {
		return fmt.Errorf("mark record %s sent: %w", id, err)
	}
	return nil
}

// MarkFailure stores the error and flips the record to failed only once the
// attempt counter has reached the ceiling; below it the record stays queued
// and eligible for the retry sweep. The counter itself is not touched here:
// attempts are counted when they start, via Create and BeginAttempt.
func (s *PGRecordStore) MarkFailure(ctx context.Context, id, lastError string) (int, bool, error) {
	var attempts int
	err := s.pool.QueryRow(ctx, `
		UPDATE arcadecrm.hook_deliveries
		SET status=CASE WHEN attempt_count >= $2 THEN $3 ELSE $4 END,
		    last_error=$5, updated_at=now()
		WHERE id=$1
		RETURNING attempt_count`, id, s.maxAttempts, RecordFailed, RecordQueued, lastError,
	).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, ErrRecordNotFound
	}
	if err != nil {
		return 0, false, fmt.Errorf("mark record %s failed: %w", id, err)
	}
	return attempts, attempts >= s.maxAttempts, nil
}

// BeginAttempt increments the attempt counter ahead of a resend, so
// attempt_count always names the attempt currently in flight.
func (s *PGRecordStore) BeginAttempt(ctx context.Context, id string) (int, error) {
	var attempts int
	err := s.pool.QueryRow(ctx, `
		UPDATE arcadecrm.hook_deliveries
		SET attempt_count=attempt_count+1, updated_at=now()
		WHERE id=$1
		RETURNING attempt_count`, id,
	).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrRecordNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("begin attempt on record %s: %w", id, err)
	}
	return attempts, nil
}

// ListRetryable returns records still worth resending: queued or failed with
// attempts below the ceiling, oldest first, capped at limit.
func (s *PGRecordStore) ListRetryable(ctx context.Context, limit int) ([]DeliveryRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, event, payload, status, attempt_count, COALESCE(last_error, ''),
		       COALESCE(run_id, ''), created_at, updated_at, sent_at
		FROM arcadecrm.hook_deliveries
		WHERE status IN ($1, $2) AND attempt_count < $3
		ORDER BY created_at
		LIMIT $4`, RecordQueued, RecordFailed, s.maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("list retryable records: %w", err)
	}
	defer rows.Close()

	var out []DeliveryRecord
	for rows.Next() {
		var rec DeliveryRecord
		if err := rows.Scan(&rec.ID, &rec.Event, &rec.Payload, &rec.Status, &rec.AttemptCount,
			&rec.LastError, &rec.RunID, &rec.CreatedAt, &rec.UpdatedAt, &rec.SentAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// List returns the most recent records, optionally filtered by status.
func (s *PGRecordStore) List(ctx context.Context, status string, limit int) ([]DeliveryRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, event, payload, status, attempt_count, COALESCE(last_error, ''),
		       COALESCE(run_id, ''), created_at, updated_at, sent_at
		FROM arcadecrm.hook_deliveries
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []DeliveryRecord
	for rows.Next() {
		var rec DeliveryRecord
		if err := rows.Scan(&rec.ID, &rec.Event, &rec.Payload, &rec.Status, &rec.AttemptCount,
			&rec.LastError, &rec.RunID, &rec.CreatedAt, &rec.UpdatedAt, &rec.SentAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Fetch returns a single record by id.
func (s *PGRecordStore) Fetch(ctx context.Context, id string) (*DeliveryRecord, error) {
	var rec DeliveryRecord
	err := s.pool.QueryRow(ctx, `
		SELECT id, event, payload, status, attempt_count, COALESCE(last_error, ''),
		       COALESCE(run_id, ''), created_at, updated_at, sent_at
		FROM arcadecrm.hook_deliveries WHERE id=$1`, id,
	).Scan(&rec.ID, &rec.Event, &rec.Payload, &rec.Status, &rec.AttemptCount,
		&rec.LastError, &rec.RunID, &rec.CreatedAt, &rec.UpdatedAt, &rec.SentAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch record %s: %w", id, err)
	}
	return &rec, nil
}
