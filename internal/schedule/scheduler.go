package schedule

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mweller/arcadecrm/internal/jobqueue"
	"github.com/mweller/arcadecrm/internal/logging"
)

// Entry binds a cron expression to the trigger job it enqueues.
type Entry struct {
	Spec    string
	Kind    string
	Queue   string
	Timeout time.Duration
}

// Entries is the full trigger table. Scans get ten minutes because they fan
// out one enqueue per row; the sweep and sync ride the low lane so they never
// crowd out interactive events.
func Entries() []Entry {
	return []Entry{
		{Spec: "0 9 * * *", Kind: KindExpiryScan, Queue: jobqueue.QueueDefault, Timeout: 10 * time.Minute},
		{Spec: "0 10 15 * *", Kind: KindCheckinNudge, Queue: jobqueue.QueueDefault, Timeout: 10 * time.Minute},
		{Spec: "0 10 * * 2", Kind: KindMeetupAnnounce, Queue: jobqueue.QueueDefault, Timeout: time.Minute},
		{Spec: "0 * * * *", Kind: KindHookRetrySweep, Queue: jobqueue.QueueLow, Timeout: 10 * time.Minute},
		{Spec: "0 2 * * *", Kind: KindGroupSync, Queue: jobqueue.QueueLow, Timeout: 30 * time.Minute},
	}
}

// Enqueuer is the slice of the job queue the scheduler needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind string, args any, opts jobqueue.Options) (*jobqueue.Job, error)
}

// Scheduler turns cron ticks into trigger jobs. It holds no business logic:
// every handler runs inside a worker job, so a failing scan cannot wedge the
// cron loop.
type Scheduler struct {
	cron *cron.Cron
	enq  Enqueuer
	log  *logging.Logger
}

func NewScheduler(enq Enqueuer) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		enq:  enq,
		log:  logging.New("scheduler"),
	}
}

// Install adds every entry to the cron table. It must be called before Run.
func (s *Scheduler) Install(entries []Entry) error {
	for _, e := range entries {
		e := e
		_, err := s.cron.AddFunc(e.Spec, func() { s.fire(e) })
		if err != nil {
			return err
		}
		s.log.Plain().WithFields(map[string]any{"kind": e.Kind, "spec": e.Spec}).Info("trigger installed")
	}
	return nil
}

// Run starts the cron loop and blocks until ctx is cancelled, then waits for
// any in-flight fire to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.cron.Start()
	s.log.Plain().Info("scheduler started")
	<-ctx.Done()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.log.Plain().Info("scheduler stopped")
}

func (s *Scheduler) fire(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	job, err := s.enq.Enqueue(ctx, e.Kind, struct{}{}, jobqueue.Options{
		Queue:   e.Queue,
		Timeout: e.Timeout,
	})
	if err != nil {
		s.log.Plain().WithField("kind", e.Kind).WithError(err).Error("trigger enqueue failed")
		return
	}
	s.log.Plain().WithJob(job.ID).WithField("kind", e.Kind).Info("trigger fired")
}
