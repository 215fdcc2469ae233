package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mweller/arcadecrm/internal/jobqueue"
)

type captureEnqueuer struct {
	kinds  []string
	queues []string
	args   [][]byte
	err    error
}

func (c *captureEnqueuer) Enqueue(_ context.Context, kind string, args any, opts jobqueue.Options) (*jobqueue.Job, error) {
	if c.err != nil {
		return nil, c.err
	}
	b, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	c.kinds = append(c.kinds, kind)
	c.queues = append(c.queues, opts.Queue)
	c.args = append(c.args, b)
	return &jobqueue.Job{ID: "j1", Kind: kind, Queue: opts.Queue, Args: b}, nil
}

func TestPublisherLanes(t *testing.T) {
	enq := &captureEnqueuer{}
	p := NewPublisher(enq)
	ctx := context.Background()
	payload := map[string]any{"client_id": "c1"}

	steps := []struct {
		publish   func() error
		wantEvent string
		wantQueue string
	}{
		{func() error { return p.ClientCreated(ctx, payload) }, TypeClientCreated, jobqueue.QueueHigh},
		{func() error { return p.MembershipExpiring(ctx, payload) }, TypeMembershipExpiry, jobqueue.QueueDefault},
		{func() error { return p.MembershipStatusChanged(ctx, payload) }, TypeMembershipStatus, jobqueue.QueueDefault},
		{func() error { return p.ClientNotCheckedIn(ctx, payload) }, TypeClientNotCheckedIn, jobqueue.QueueLow},
		{func() error { return p.MeetupAnnounce(ctx, payload) }, TypeMeetupAnnounce, jobqueue.QueueLow},
	}
	for i, step := range steps {
		if err := step.publish(); err != nil {
			t.Fatalf("step %d: error = %v", i, err)
		}
		if enq.kinds[i] != KindProcess {
			t.Errorf("step %d: kind = %q, want %q", i, enq.kinds[i], KindProcess)
		}
		if enq.queues[i] != step.wantQueue {
			t.Errorf("step %d: queue = %q, want %q", i, enq.queues[i], step.wantQueue)
		}
		var a Args
		if err := json.Unmarshal(enq.args[i], &a); err != nil {
			t.Fatalf("step %d: bad args: %v", i, err)
		}
		if a.Event != step.wantEvent {
			t.Errorf("step %d: event = %q, want %q", i, a.Event, step.wantEvent)
		}
		if a.Payload["client_id"] != "c1" {
			t.Errorf("step %d: payload = %v, want client_id c1", i, a.Payload)
		}
	}
}

func TestPublishFailsLoudly(t *testing.T) {
	enqErr := errors.New("nsqd unreachable")
	p := NewPublisher(&captureEnqueuer{err: enqErr})

	err := p.ClientCreated(context.Background(), map[string]any{"client_id": "c1"})
	if !errors.Is(err, enqErr) {
		t.Errorf("ClientCreated() error = %v, want %v propagated", err, enqErr)
	}
}
