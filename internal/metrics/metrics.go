package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arcadecrm_events_published_total",
			Help: "Total number of business events published to the queue.",
		},
		[]string{"event_type"},
	)

	EventsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arcadecrm_events_processed_total",
			Help: "Total number of events routed by result.",
		},
		[]string{"event_type", "result"}, // handled, skipped, unknown, error
	)

	HookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arcadecrm_hook_deliveries_total",
			Help: "Total number of outbound hook deliveries by status.",
		},
		[]string{"status"}, // sent, failed, logged, skipped
	)

	HookRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arcadecrm_hook_retries_total",
			Help: "Total number of hook delivery failures by reason.",
		},
		[]string{"reason"}, // e.g. http_5xx, timeout, network, other
	)

	HookDeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arcadecrm_hook_delivery_duration_seconds",
			Help:    "Latency of outbound hook HTTP calls.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	ReconcileLegsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arcadecrm_reconcile_legs_total",
			Help: "Total number of access-control group operations by outcome.",
		},
		[]string{"op", "outcome"}, // op: add, remove; outcome: ok, error
	)

	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arcadecrm_jobs_total",
			Help: "Total number of jobs completed by queue and status.",
		},
		[]string{"queue", "status"}, // finished, failed, requeued
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arcadecrm_job_duration_seconds",
			Help:    "Execution time of jobs by queue and kind.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue", "kind"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arcadecrm_queue_depth",
			Help: "Current depth of each priority lane as reported by nsqd.",
		},
		[]string{"queue"},
	)
)

// MustRegister registers every collector in this package on the given registry.
func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		EventsPublishedTotal,
		EventsProcessedTotal,
		HookDeliveriesTotal,
		HookRetriesTotal,
		HookDeliveryDuration,
		ReconcileLegsTotal,
		JobsTotal,
		JobDuration,
		QueueDepth,
	)
}

// RecordEventPublished increments the published-event counter.
func RecordEventPublished(eventType string) {
	EventsPublishedTotal.WithLabelValues(eventType).Inc()
}

// RecordEventProcessed increments the routed-event counter.
func RecordEventProcessed(eventType, result string) {
	EventsProcessedTotal.WithLabelValues(eventType, result).Inc()
}

// RecordHookDelivery records a delivery outcome and its latency.
func RecordHookDelivery(status string, latency time.Duration) {
	HookDeliveriesTotal.WithLabelValues(status).Inc()
	if latency > 0 {
		HookDeliveryDuration.WithLabelValues(status).Observe(latency.Seconds())
	}
}

// RecordHookRetry increments the retry counter for a failure reason.
func RecordHookRetry(reason string) {
	HookRetriesTotal.WithLabelValues(reason).Inc()
}

// RecordReconcileLeg records one add/remove leg of a group reconciliation.
func RecordReconcileLeg(op, outcome string) {
	ReconcileLegsTotal.WithLabelValues(op, outcome).Inc()
}

// RecordJob increments the job-result counter.
func RecordJob(queue, status string) {
	JobsTotal.WithLabelValues(queue, status).Inc()
}

// ObserveJobDuration records the execution time of a job.
func ObserveJobDuration(queue, kind string, d time.Duration) {
	JobDuration.WithLabelValues(queue, kind).Observe(d.Seconds())
}

// UpdateQueueDepth sets the backlog gauge for a lane.
func UpdateQueueDepth(queue string, depth float64) {
	QueueDepth.WithLabelValues(queue).Set(depth)
}
