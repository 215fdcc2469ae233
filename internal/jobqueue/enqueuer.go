package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"github.com/mweller/arcadecrm/internal/config"
	"github.com/mweller/arcadecrm/internal/logging"
	"github.com/mweller/arcadecrm/internal/tracing"
)

// Options control placement and budgets for an enqueued job.
type Options struct {
	Queue      string        // defaults to QueueDefault
	Timeout    time.Duration // defaults to 5m
	MaxRetries int           // queue-level re-execution budget, defaults to 3
	Delay      time.Duration // >0 publishes the job deferred
}

// Publisher is the slice of *nsq.Producer the enqueuer needs.
type Publisher interface {
	Publish(topic string, body []byte) error
	DeferredPublish(topic string, delay time.Duration, body []byte) error
}

var _ Publisher = (*nsq.Producer)(nil)

// Enqueuer records a job row and publishes the envelope on the lane topic.
// Publish failures propagate: a dropped enqueue is a dropped business event,
// so callers must see it.
type Enqueuer struct {
	store *Store
	prod  Publisher
	nsq   config.NSQ
	log   *logging.Logger
}

func NewEnqueuer(store *Store, prod Publisher, nsqCfg config.NSQ) *Enqueuer {
	return &Enqueuer{
		store: store,
		prod:  prod,
		nsq:   nsqCfg,
		log:   logging.New("jobqueue"),
	}
}

// Enqueue serializes args, records the job and publishes it. It returns as
// soon as the envelope is accepted by nsqd; it never waits on execution.
func (e *Enqueuer) Enqueue(ctx context.Context, kind string, args any, opts Options) (*Job, error) {
	if opts.Queue == "" {
		opts.Queue = QueueDefault
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}

	var raw json.RawMessage
	if args != nil {
		b, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("marshal args for %s: %w", kind, err)
		}
		raw = b
	}

	job := &Job{
		ID:           uuid.NewString(),
		Kind:         kind,
		Queue:        opts.Queue,
		Args:         raw,
		TimeoutSec:   int(opts.Timeout / time.Second),
		MaxRetries:   opts.MaxRetries,
		EnqueuedAt:   time.Now().UTC().Format(time.RFC3339),
		TraceHeaders: tracing.PropagateTraceToJob(ctx),
	}

	status := StatusPending
	if opts.Delay > 0 {
		status = StatusDeferred
	}
	if err := e.store.insert(ctx, job, status); err != nil {
		return nil, err
	}

	if err := e.publish(job, opts.Delay); err != nil {
		// The row stays behind as evidence of the failed enqueue.
		_ = e.store.MarkFailed(ctx, job.ID, "publish failed: "+err.Error(), true)
		return nil, fmt.Errorf("publish job %s (%s): %w", job.ID, kind, err)
	}

	e.log.WithContext(ctx).WithJob(job.ID).WithFields(map[string]any{
		"kind":  kind,
		"queue": opts.Queue,
	}).Info("job enqueued")
	return job, nil
}

// RetryJob resets a failed job and republishes it. Retrying a job that is
// missing or not failed is a no-op returning false.
func (e *Enqueuer) RetryJob(ctx context.Context, id string) (bool, error) {
	rec, ok, err := e.store.resetForRetry(ctx, id)
	if err != nil || !ok {
		return false, err
	}

	job := &Job{
		ID:         rec.ID,
		Kind:       rec.Kind,
		Queue:      rec.Queue,
		Args:       rec.Args,
		TimeoutSec: rec.TimeoutSec,
		MaxRetries: rec.MaxRetries,
		EnqueuedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := e.publish(job, 0); err != nil {
		_ = e.store.MarkFailed(ctx, job.ID, "retry publish failed: "+err.Error(), true)
		return false, fmt.Errorf("republish job %s: %w", id, err)
	}

	e.log.WithContext(ctx).WithJob(id).Info("job retried")
	return true, nil
}

func (e *Enqueuer) publish(job *Job, delay time.Duration) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	topic := e.nsq.Topic(job.Queue)
	if delay > 0 {
		return e.prod.DeferredPublish(topic, delay, body)
	}
	return e.prod.Publish(topic, body)
}
