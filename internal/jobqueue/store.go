package jobqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a job id does not exist.
var ErrNotFound = errors.New("job not found")

// Store owns the job bookkeeping rows. One row per enqueued job; the worker is
// the only writer after enqueue.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// FetchJob returns the bookkeeping row for a job id.
func (s *Store) FetchJob(ctx context.Context, id string) (*Record, error) {
	var r Record
	err := s.pool.QueryRow(ctx, `
		SELECT id, kind, queue, args, status, retry, max_retries, timeout_sec,
		       COALESCE(last_error, ''), enqueued_at, started_at, finished_at
		FROM arcadecrm.jobs WHERE id=$1`, id,
	).Scan(&r.ID, &r.Kind, &r.Queue, &r.Args, &r.Status, &r.Retry, &r.MaxRetries,
		&r.TimeoutSec, &r.LastError, &r.EnqueuedAt, &r.StartedAt, &r.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch job %s: %w", id, err)
	}
	return &r, nil
}

// Stats returns counters per lane. Lanes with no rows still appear with zeros.
func (s *Store) Stats(ctx context.Context) (map[string]QueueStats, error) {
	stats := make(map[string]QueueStats, len(Queues))
	for _, q := range Queues {
		stats[q] = QueueStats{}
	}

	rows, err := s.pool.Query(ctx, `
		SELECT queue, status, count(*)
		FROM arcadecrm.jobs
		GROUP BY queue, status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var queue, status string
		var n int64
		if err := rows.Scan(&queue, &status, &n); err != nil {
			return nil, err
		}
		qs := stats[queue]
		switch status {
		case StatusPending:
			qs.Pending = n
		case StatusRunning:
			qs.Running = n
		case StatusFinished:
			qs.Finished = n
		case StatusFailed:
			qs.Failed = n
		case StatusDeferred:
			qs.Deferred = n
		}
		stats[queue] = qs
	}
	return stats, rows.Err()
}

// insert records a freshly enqueued job.
func (s *Store) insert(ctx context.Context, j *Job, status string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO arcadecrm.jobs(id, kind, queue, args, status, retry, max_retries, timeout_sec, enqueued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())`,
		j.ID, j.Kind, j.Queue, j.Args, status, j.Retry, j.MaxRetries, j.TimeoutSec)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", j.ID, err)
	}
	return nil
}

// MarkRunning flags a dequeued job as in-flight.
func (s *Store) MarkRunning(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE arcadecrm.jobs
		SET status=$2, started_at=now(), updated_at=now()
		WHERE id=$1`, id, StatusRunning)
	return err
}

// MarkFinished records terminal success.
func (s *Store) MarkFinished(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE arcadecrm.jobs
		SET status=$2, finished_at=now(), updated_at=now(), last_error=NULL
		WHERE id=$1`, id, StatusFinished)
	return err
}

// MarkFailed records a handler failure. A non-terminal failure leaves the row
// pending so the requeued message finds it eligible again.
func (s *Store) MarkFailed(ctx context.Context, id, lastError string, terminal bool) error {
	status := StatusPending
	if terminal {
		status = StatusFailed
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE arcadecrm.jobs
		SET status=$2, retry=retry+1, last_error=$3, updated_at=now(),
		    finished_at=CASE WHEN $4 THEN now() ELSE finished_at END
		WHERE id=$1`, id, status, lastError, terminal)
	return err
}

// resetForRetry rewinds a failed row for re-execution. Returns false when the
// row is missing or not in a failed state.
func (s *Store) resetForRetry(ctx context.Context, id string) (*Record, bool, error) {
	r, err := s.FetchJob(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if r.Status != StatusFailed {
		return nil, false, nil
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE arcadecrm.jobs
		SET status=$2, retry=0, last_error=NULL, finished_at=NULL, updated_at=now()
		WHERE id=$1`, id, StatusPending)
	if err != nil {
		return nil, false, fmt.Errorf("reset job %s: %w", id, err)
	}
	r.Retry = 0
	r.Status = StatusPending
	return r, true, nil
}
