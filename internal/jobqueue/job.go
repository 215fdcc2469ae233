package jobqueue

import (
	"encoding/json"
	"time"
)

// Priority lanes. Consumers drain high before default before low, subject to
// per-lane concurrency rather than a hard ordering guarantee.
const (
	QueueHigh    = "high"
	QueueDefault = "default"
	QueueLow     = "low"
)

// Queues lists the lanes in drain-preference order.
var Queues = []string{QueueHigh, QueueDefault, QueueLow}

// Job row statuses.
const (
	StatusPending  = "pending"
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
	StatusDeferred = "deferred"
)

// Job is the envelope published to a lane topic. The queue-level Retry counter
// here is independent from the delivery record's attempt counter: this one
// governs whole-handler re-execution, the record one tracks outbound HTTP
// attempts within a single handler run.
type Job struct {
	ID           string            `json:"id"`
	Kind         string            `json:"kind"`
	Queue        string            `json:"queue"`
	Args         json.RawMessage   `json:"args,omitempty"`
	TimeoutSec   int               `json:"timeout_sec"`
	MaxRetries   int               `json:"max_retries"`
	Retry        int               `json:"retry"`
	EnqueuedAt   string            `json:"enqueued_at"` // RFC3339
	TraceHeaders map[string]string `json:"trace_headers,omitempty"` // OTel trace propagation headers
}

// Timeout returns the job's execution deadline as a duration.
func (j *Job) Timeout() time.Duration {
	if j.TimeoutSec <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(j.TimeoutSec) * time.Second
}

// Record is the durable bookkeeping row behind a job.
type Record struct {
	ID         string
	Kind       string
	Queue      string
	Args       json.RawMessage
	Status     string
	Retry      int
	MaxRetries int
	TimeoutSec int
	LastError  string
	EnqueuedAt time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// QueueStats holds per-lane counters, keyed the way operators expect them.
type QueueStats struct {
	Pending  int64 `json:"pending"`
	Running  int64 `json:"running"`
	Finished int64 `json:"finished"`
	Failed   int64 `json:"failed"`
	Deferred int64 `json:"deferred"`
}
