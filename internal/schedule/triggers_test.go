package schedule

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mweller/arcadecrm/internal/config"
	"github.com/mweller/arcadecrm/internal/events"
	"github.com/mweller/arcadecrm/internal/hooks"
	"github.com/mweller/arcadecrm/internal/jobqueue"
)

type enqueued struct {
	kind  string
	queue string
	args  []byte
}

type fakeEnqueuer struct {
	jobs []enqueued
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, kind string, args any, opts jobqueue.Options) (*jobqueue.Job, error) {
	b, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	f.jobs = append(f.jobs, enqueued{kind: kind, queue: opts.Queue, args: b})
	return &jobqueue.Job{ID: "j1", Kind: kind, Queue: opts.Queue, Args: b}, nil
}

func TestSecondWeekdayOfMonth(t *testing.T) {
	tests := []struct {
		name  string
		year  int
		month time.Month
		wd    time.Weekday
		want  string
	}{
		{name: "month starts on Sunday", year: 2025, month: time.June, wd: time.Tuesday, want: "2025-06-10"},
		{name: "month starts on the weekday itself", year: 2025, month: time.July, wd: time.Tuesday, want: "2025-07-08"},
		{name: "month starts on Wednesday", year: 2025, month: time.January, wd: time.Tuesday, want: "2025-01-14"},
		{name: "saturday target", year: 2025, month: time.March, wd: time.Saturday, want: "2025-03-08"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := secondWeekdayOfMonth(tt.year, tt.month, tt.wd).Format("2006-01-02")
			if got != tt.want {
				t.Errorf("secondWeekdayOfMonth(%d, %s, %s) = %s, want %s", tt.year, tt.month, tt.wd, got, tt.want)
			}
		})
	}
}

func TestMeetupAnnounceOnlyOnSecondTuesday(t *testing.T) {
	tests := []struct {
		name        string
		today       string
		wantPublish bool
	}{
		{name: "first Tuesday", today: "2025-06-03", wantPublish: false},
		{name: "second Tuesday", today: "2025-06-10", wantPublish: true},
		{name: "third Tuesday", today: "2025-06-17", wantPublish: false},
		{name: "fourth Tuesday", today: "2025-06-24", wantPublish: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enq := &fakeEnqueuer{}
			trig := NewTriggers(nil, events.NewPublisher(enq), nil, nil, nil, 50)
			trig.now = func() time.Time {
				ts, _ := time.Parse("2006-01-02", tt.today)
				return ts
			}

			err := trig.MeetupAnnounce(context.Background(), &jobqueue.Job{ID: "j1", Kind: KindMeetupAnnounce})
			if err != nil {
				t.Fatalf("MeetupAnnounce() error = %v", err)
			}
			if got := len(enq.jobs) == 1; got != tt.wantPublish {
				t.Fatalf("published = %v, want %v", got, tt.wantPublish)
			}
			if tt.wantPublish {
				var a events.Args
				if err := json.Unmarshal(enq.jobs[0].args, &a); err != nil {
					t.Fatalf("bad args: %v", err)
				}
				if a.Event != events.TypeMeetupAnnounce {
					t.Errorf("event = %q, want %q", a.Event, events.TypeMeetupAnnounce)
				}
				if a.Payload["date"] != tt.today {
					t.Errorf("date = %v, want %s", a.Payload["date"], tt.today)
				}
				if enq.jobs[0].queue != jobqueue.QueueLow {
					t.Errorf("queue = %q, want %q", enq.jobs[0].queue, jobqueue.QueueLow)
				}
			}
		})
	}
}

// sweepRecords is the minimal RecordStore the sweep needs.
type sweepRecords struct {
	retryable []hooks.DeliveryRecord
	begun     map[string]int
	failed    map[string]string
	sent      map[string]string
}

func newSweepRecords(recs ...hooks.DeliveryRecord) *sweepRecords {
	return &sweepRecords{
		retryable: recs,
		begun:     make(map[string]int),
		failed:    make(map[string]string),
		sent:      make(map[string]string),
	}
}

func (s *sweepRecords) Create(_ context.Context, _ string, _ []byte) (*hooks.DeliveryRecord, error) {
	return nil, nil
}

func (s *sweepRecords) MarkSent(_ context.Context, id, runID string) error {
	s.sent[id] = runID
	return nil
}

func (s *sweepRecords) MarkFailure(_ context.Context, id, lastError string) (int, bool, error) {
	s.failed[id] = lastError
	return s.begun[id] + 1, false, nil
}

func (s *sweepRecords) BeginAttempt(_ context.Context, id string) (int, error) {
	s.begun[id]++
	return s.begun[id] + 1, nil
}

func (s *sweepRecords) ListRetryable(_ context.Context, limit int) ([]hooks.DeliveryRecord, error) {
	if len(s.retryable) > limit {
		return s.retryable[:limit], nil
	}
	return s.retryable, nil
}

func (s *sweepRecords) Fetch(_ context.Context, _ string) (*hooks.DeliveryRecord, error) {
	return nil, hooks.ErrRecordNotFound
}

func TestHookRetrySweepResendsStoredPayloads(t *testing.T) {
	var gotBodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBodies = append(gotBodies, string(b))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("run-1"))
	}))
	defer srv.Close()

	records := newSweepRecords(
		hooks.DeliveryRecord{ID: "r1", Event: "client.created", Payload: []byte(`{"event":"client.created"}`), AttemptCount: 1},
		hooks.DeliveryRecord{ID: "r2", Event: "krc_meetup_announce", Payload: []byte(`{"event":"krc_meetup_announce"}`), AttemptCount: 2},
	)
	sender := hooks.NewSender(config.Hook{
		URL:             srv.URL,
		Mode:            config.HookModeLive,
		SignatureHeader: "X-Hook-Signature",
		Timeout:         5 * time.Second,
		MaxAttempts:     3,
	}, records)

	trig := NewTriggers(nil, nil, records, sender, nil, 50)
	if err := trig.HookRetrySweep(context.Background(), &jobqueue.Job{ID: "j1", Kind: KindHookRetrySweep}); err != nil {
		t.Fatalf("HookRetrySweep() error = %v", err)
	}

	if len(gotBodies) != 2 {
		t.Fatalf("resent = %d, want 2", len(gotBodies))
	}
	if gotBodies[0] != `{"event":"client.created"}` {
		t.Errorf("resent body = %s, want the stored payload verbatim", gotBodies[0])
	}
	if records.sent["r1"] != "run-1" || records.sent["r2"] != "run-1" {
		t.Errorf("sent records = %v, want r1 and r2 marked", records.sent)
	}
	if records.begun["r1"] != 1 || records.begun["r2"] != 1 {
		t.Errorf("begun = %v, want one new attempt each", records.begun)
	}
}

func TestEntriesParse(t *testing.T) {
	kinds := make(map[string]bool)
	for _, e := range Entries() {
		if _, err := cron.ParseStandard(e.Spec); err != nil {
			t.Errorf("entry %s has invalid spec %q: %v", e.Kind, e.Spec, err)
		}
		if kinds[e.Kind] {
			t.Errorf("duplicate entry for kind %s", e.Kind)
		}
		kinds[e.Kind] = true
	}
	for _, kind := range []string{KindExpiryScan, KindCheckinNudge, KindMeetupAnnounce, KindHookRetrySweep, KindGroupSync} {
		if !kinds[kind] {
			t.Errorf("no entry for kind %s", kind)
		}
	}
}
