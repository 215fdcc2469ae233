package schedule

import (
	"context"
	"time"

	"github.com/mweller/arcadecrm/internal/access"
	"github.com/mweller/arcadecrm/internal/events"
	"github.com/mweller/arcadecrm/internal/hooks"
	"github.com/mweller/arcadecrm/internal/jobqueue"
	"github.com/mweller/arcadecrm/internal/logging"
	"github.com/mweller/arcadecrm/internal/store"
)

// Trigger job kinds. The scheduler enqueues these; the worker executes them.
const (
	KindExpiryScan     = "trigger.expiry_scan"
	KindCheckinNudge   = "trigger.checkin_nudge"
	KindMeetupAnnounce = "trigger.meetup_announce"
	KindHookRetrySweep = "trigger.hook_retry_sweep"
	KindGroupSync      = "trigger.group_sync"
)

// expiryWindowDays is how far ahead the daily scan looks for ending
// memberships.
const expiryWindowDays = 30

// meetupWeekday is the meetup's weekday. The announcement fires on its second
// occurrence in the month, computed as the first occurrence plus seven days.
const meetupWeekday = time.Tuesday

// Triggers holds the handlers behind the scheduled job kinds. Each handler
// runs inside a worker job so a failing scan never takes the scheduler's own
// loop down with it.
type Triggers struct {
	store   *store.Store
	pub     *events.Publisher
	records hooks.RecordStore
	sender  *hooks.Sender
	recon   *access.Reconciler
	sweep   int
	log     *logging.Logger

	// now is swapped out in tests.
	now func() time.Time
}

func NewTriggers(st *store.Store, pub *events.Publisher, records hooks.RecordStore, sender *hooks.Sender, recon *access.Reconciler, sweepBatch int) *Triggers {
	return &Triggers{
		store:   st,
		pub:     pub,
		records: records,
		sender:  sender,
		recon:   recon,
		sweep:   sweepBatch,
		log:     logging.New("schedule"),
		now:     time.Now,
	}
}

// Register wires every trigger kind into the worker registry.
func (t *Triggers) Register(reg *jobqueue.Registry) {
	reg.Register(KindExpiryScan, t.ExpiryScan)
	reg.Register(KindCheckinNudge, t.CheckinNudge)
	reg.Register(KindMeetupAnnounce, t.MeetupAnnounce)
	reg.Register(KindHookRetrySweep, t.HookRetrySweep)
	reg.Register(KindGroupSync, t.GroupSync)
}

// ExpiryScan publishes one membership.expiring_30d event per membership whose
// end date falls inside [today, today+30d].
func (t *Triggers) ExpiryScan(ctx context.Context, job *jobqueue.Job) error {
	today := startOfDay(t.now().UTC())
	until := today.AddDate(0, 0, expiryWindowDays)

	expiring, err := t.store.ExpiringMemberships(ctx, today, until)
	if err != nil {
		return err
	}
	t.log.WithContext(ctx).WithJob(job.ID).WithField("count", len(expiring)).Info("expiry scan")

	for _, m := range expiring {
		err := t.pub.MembershipExpiring(ctx, map[string]any{
			"client_id":     m.ClientID,
			"membership_id": m.MembershipID,
			"name":          m.Name,
			"phone":         m.Phone,
			"email":         m.Email,
			"plan":          m.PlanCode,
			"expires_on":    m.ExpiresOn.Format("2006-01-02"),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// CheckinNudge publishes one event per active-membership client with a phone
// number and no check-in since the first of the month.
func (t *Triggers) CheckinNudge(ctx context.Context, job *jobqueue.Job) error {
	today := startOfDay(t.now().UTC())
	monthStart := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)

	idle, err := t.store.IdleActiveClients(ctx, monthStart, today)
	if err != nil {
		return err
	}
	t.log.WithContext(ctx).WithJob(job.ID).WithField("count", len(idle)).Info("check-in nudge scan")

	for _, c := range idle {
		if c.Phone == "" {
			continue
		}
		err := t.pub.ClientNotCheckedIn(ctx, map[string]any{
			"client_id": c.ClientID,
			"name":      c.Name,
			"phone":     c.Phone,
			"email":     c.Email,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// MeetupAnnounce fires every week but only emits on the second occurrence of
// the meetup weekday in the current month. All other runs are no-ops.
func (t *Triggers) MeetupAnnounce(ctx context.Context, job *jobqueue.Job) error {
	today := startOfDay(t.now().UTC())
	if !today.Equal(secondWeekdayOfMonth(today.Year(), today.Month(), meetupWeekday)) {
		t.log.WithContext(ctx).WithJob(job.ID).Debug("not the meetup day, skipping announce")
		return nil
	}
	return t.pub.MeetupAnnounce(ctx, map[string]any{
		"date": today.Format("2006-01-02"),
	})
}

// HookRetrySweep resends deliveries that are still retryable. Each resend
// reuses the record's stored payload bytes and its attempt counter.
func (t *Triggers) HookRetrySweep(ctx context.Context, job *jobqueue.Job) error {
	recs, err := t.records.ListRetryable(ctx, t.sweep)
	if err != nil {
		return err
	}
	sent := 0
	for i := range recs {
		if t.sender.Resend(ctx, &recs[i]) {
			sent++
		}
	}
	t.log.WithContext(ctx).WithJob(job.ID).
		WithFields(map[string]any{"swept": len(recs), "sent": sent}).
		Info("hook retry sweep")
	return nil
}

// GroupSync reconciles access-control groups for every linked client.
func (t *Triggers) GroupSync(ctx context.Context, job *jobqueue.Job) error {
	t.log.WithContext(ctx).WithJob(job.ID).Info("group sync")
	return t.recon.SyncAll(ctx)
}

func startOfDay(ts time.Time) time.Time {
	return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
}

// secondWeekdayOfMonth is the first occurrence of wd in the month plus seven
// days.
func secondWeekdayOfMonth(year int, month time.Month, wd time.Weekday) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(wd) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, offset+7)
}
