package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/nsqio/go-nsq"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mweller/arcadecrm/internal/config"
	"github.com/mweller/arcadecrm/internal/logging"
	"github.com/mweller/arcadecrm/internal/metrics"
	"github.com/mweller/arcadecrm/internal/tracing"
)

// HandlerFunc executes one job. An error returned here makes the job eligible
// for the queue's own retry budget.
type HandlerFunc func(ctx context.Context, job *Job) error

// Registry is the static kind-to-handler table, built once at startup.
type Registry struct {
	handlers map[string]HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register binds a job kind to its handler. Registering a kind twice is a
// programming error and panics during startup.
func (r *Registry) Register(kind string, fn HandlerFunc) {
	if _, dup := r.handlers[kind]; dup {
		panic("jobqueue: duplicate handler for kind " + kind)
	}
	r.handlers[kind] = fn
}

func (r *Registry) resolve(kind string) (HandlerFunc, bool) {
	fn, ok := r.handlers[kind]
	return fn, ok
}

// Pool consumes the three lane topics concurrently. Each message is one job:
// the pool advances the bookkeeping row, executes the handler under the job's
// timeout, and either finishes, requeues with backoff, or fails terminally.
type Pool struct {
	cfg       config.Config
	store     *Store
	reg       *Registry
	log       *logging.Logger
	consumers []*nsq.Consumer
}

func NewPool(cfg config.Config, store *Store, reg *Registry) *Pool {
	return &Pool{
		cfg:   cfg,
		store: store,
		reg:   reg,
		log:   logging.New("worker"),
	}
}

// laneConcurrency returns the number of concurrent handlers for a lane.
func (p *Pool) laneConcurrency(queue string) int {
	switch queue {
	case QueueHigh:
		return p.cfg.Worker.ConcurrencyHigh
	case QueueLow:
		return p.cfg.Worker.ConcurrencyLow
	default:
		return p.cfg.Worker.ConcurrencyDefault
	}
}

// Start connects a consumer per lane. Higher lanes get more in-flight slots so
// they drain preferentially without starving the others.
func (p *Pool) Start() error {
	for _, queue := range Queues {
		conf := nsq.NewConfig()
		conf.MaxInFlight = p.laneConcurrency(queue) * 2
		// The pool decides terminality from the job's own retry budget; a
		// non-zero MaxAttempts would let go-nsq silently discard first.
		conf.MaxAttempts = 0

		consumer, err := nsq.NewConsumer(p.cfg.NSQ.Topic(queue), p.cfg.NSQ.WorkerChannel, conf)
		if err != nil {
			return fmt.Errorf("create consumer for %s: %w", queue, err)
		}

		q := queue
		consumer.AddConcurrentHandlers(nsq.HandlerFunc(func(m *nsq.Message) error {
			return p.handleMessage(q, m)
		}), p.laneConcurrency(queue))

		// Connecting directly to nsqd forces channel creation instead of the
		// channel being lazily created on first publish.
		if err := consumer.ConnectToNSQD(p.cfg.NSQ.NsqdTCPAddr); err != nil {
			return fmt.Errorf("connect to nsqd for %s: %w", queue, err)
		}
		if err := consumer.ConnectToNSQLookupd(p.cfg.NSQ.LookupHTTPAddr); err != nil {
			return fmt.Errorf("connect to lookupd for %s: %w", queue, err)
		}
		p.consumers = append(p.consumers, consumer)
	}
	p.log.Plain().WithField("lanes", len(p.consumers)).Info("worker pool started")
	return nil
}

// Stop drains every consumer and blocks until they confirm shutdown.
func (p *Pool) Stop() {
	for _, c := range p.consumers {
		c.Stop()
	}
	for _, c := range p.consumers {
		<-c.StopChan
	}
	p.log.Plain().Info("worker pool stopped")
}

func (p *Pool) handleMessage(queue string, m *nsq.Message) error {
	m.DisableAutoResponse() // we manually requeue or finish
	defer func() {
		if !m.HasResponded() {
			p.log.Plain().Warn("message had no response, finishing")
			m.Finish()
		}
	}()

	var job Job
	if err := json.Unmarshal(m.Body, &job); err != nil {
		p.log.Plain().WithError(err).Error("bad job payload")
		metrics.RecordJob(queue, "failed")
		m.Finish() // terminal: don't retry bad payloads
		return nil
	}

	// REQ retransmits nsqd's stored copy of the envelope, so the body always
	// carries the retry count it was published with. The delivery counter is
	// the real one.
	job.Retry = retryFromDelivery(m.Attempts)

	ctx := tracing.ExtractTraceFromJob(context.Background(), job.TraceHeaders)
	ctx, span := tracing.StartSpan(ctx, "worker.job",
		attribute.String("job_id", job.ID),
		attribute.String("job_kind", job.Kind),
		attribute.String("queue", queue),
		attribute.Int("retry", job.Retry),
	)
	defer span.End()

	start := time.Now()
	err := p.executeJob(ctx, &job)
	metrics.ObserveJobDuration(queue, job.Kind, time.Since(start))

	if err == nil {
		if updErr := p.store.MarkFinished(ctx, job.ID); updErr != nil {
			p.log.WithContext(ctx).WithJob(job.ID).WithError(updErr).Error("db update finished failed")
			tracing.SetSpanError(ctx, updErr)
		}
		metrics.RecordJob(queue, "finished")
		m.Finish() // explicit ack
		return nil
	}

	tracing.SetSpanError(ctx, err)
	nextRetry := job.Retry + 1
	// A missing handler is terminal regardless of budget: the registry is
	// static and a retry cannot fix it.
	terminal := nextRetry >= job.MaxRetries || errors.Is(err, errNoHandler)
	if updErr := p.store.MarkFailed(ctx, job.ID, err.Error(), terminal); updErr != nil {
		p.log.WithContext(ctx).WithJob(job.ID).WithError(updErr).Error("db update failed failed")
	}

	if terminal {
		span.SetAttributes(
			attribute.String("job.final_status", StatusFailed),
			attribute.Int("job.final_retry", nextRetry),
		)
		p.log.WithContext(ctx).WithJob(job.ID).WithError(err).WithFields(map[string]any{
			"kind":  job.Kind,
			"retry": nextRetry,
		}).Error("job failed terminally")
		metrics.RecordJob(queue, "failed")
		m.Finish() // drop from the lane
		return nil
	}

	delay := computeDelay(nextRetry, p.cfg.Worker.BackoffSchedule, p.cfg.Worker.JitterPercent)
	p.log.WithContext(ctx).WithJob(job.ID).WithError(err).WithFields(map[string]any{
		"kind":  job.Kind,
		"retry": nextRetry,
		"delay": delay.String(),
	}).Info("requeue job")
	metrics.RecordJob(queue, "requeued")
	m.Requeue(delay)
	return nil
}

// errNoHandler marks a job kind the registry does not know.
var errNoHandler = errors.New("no handler registered")

// executeJob resolves the handler and runs it under the job's timeout.
func (p *Pool) executeJob(ctx context.Context, job *Job) error {
	fn, ok := p.reg.resolve(job.Kind)
	if !ok {
		return fmt.Errorf("%w for kind %q", errNoHandler, job.Kind)
	}

	if mErr := p.store.MarkRunning(ctx, job.ID); mErr != nil {
		p.log.WithContext(ctx).WithJob(job.ID).WithError(mErr).Error("db update running failed")
	}

	ctx, cancel := context.WithTimeout(ctx, job.Timeout())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx, job) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("job %s (%s) exceeded timeout of %s", job.ID, job.Kind, job.Timeout())
	}
}

// retryFromDelivery maps nsqd's 1-based delivery counter to the job's 0-based
// retry count.
func retryFromDelivery(attempts uint16) int {
	if attempts == 0 {
		return 0
	}
	return int(attempts) - 1
}

func computeDelay(retry int, schedule []time.Duration, jitterPct float64) time.Duration {
	// retry is 1-based after increment; map to schedule index
	idx := retry - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	base := schedule[idx]
	// jitter: +/- jitterPct
	j := 1 + (rand.Float64()*2-1)*jitterPct
	if j < 0.1 {
		j = 0.1
	}
	return time.Duration(float64(base) * j)
}

// StartDepthMonitor polls nsqd stats and exports per-lane backlog gauges.
func (p *Pool) StartDepthMonitor(ctx context.Context) {
	go func() {
		log := logging.New("worker-monitor")
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		httpClient := &http.Client{Timeout: 5 * time.Second}

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			resp, err := httpClient.Get(fmt.Sprintf("http://%s/stats?format=json", p.cfg.NSQ.NsqdHTTPAddr))
			if err != nil {
				log.Plain().WithError(err).Error("failed to get nsqd stats")
				continue
			}

			var stats struct {
				Topics []struct {
					Name     string `json:"topic_name"`
					Channels []struct {
						Name  string `json:"channel_name"`
						Depth int64  `json:"depth"`
					} `json:"channels"`
				} `json:"topics"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
				resp.Body.Close()
				log.Plain().WithError(err).Error("failed to decode nsqd stats")
				continue
			}
			resp.Body.Close()

			for _, queue := range Queues {
				topic := p.cfg.NSQ.Topic(queue)
				for _, t := range stats.Topics {
					if t.Name != topic {
						continue
					}
					for _, ch := range t.Channels {
						if ch.Name == p.cfg.NSQ.WorkerChannel {
							metrics.UpdateQueueDepth(queue, float64(ch.Depth))
						}
					}
				}
			}
		}
	}()
}
