package events

import (
	"context"
	"time"

	"github.com/mweller/arcadecrm/internal/jobqueue"
	"github.com/mweller/arcadecrm/internal/logging"
	"github.com/mweller/arcadecrm/internal/metrics"
)

// eventTimeout bounds a single routed event: one hook POST plus at most two
// access-control legs fits comfortably inside a minute.
const eventTimeout = 60 * time.Second

// Enqueuer is the slice of the job queue the publisher needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind string, args any, opts jobqueue.Options) (*jobqueue.Job, error)
}

// Publisher turns business events into KindProcess jobs. Each helper pins the
// event to the lane its urgency warrants: sign-up messages ride high, lifecycle
// notifications ride default, bulk nudges and announcements ride low.
type Publisher struct {
	enq Enqueuer
	log *logging.Logger
}

func NewPublisher(enq Enqueuer) *Publisher {
	return &Publisher{enq: enq, log: logging.New("events")}
}

// Publish enqueues one event for routing. It fails loudly: a swallowed
// enqueue error would drop a business event with no trace anywhere.
func (p *Publisher) Publish(ctx context.Context, event string, payload map[string]any, queue string) error {
	_, err := p.enq.Enqueue(ctx, KindProcess, Args{Event: event, Payload: payload}, jobqueue.Options{
		Queue:   queue,
		Timeout: eventTimeout,
	})
	if err != nil {
		p.log.WithContext(ctx).WithEventType(event).WithError(err).Error("failed to publish event")
		return err
	}
	metrics.RecordEventPublished(event)
	p.log.WithContext(ctx).WithEventType(event).Debug("event published")
	return nil
}

func (p *Publisher) ClientCreated(ctx context.Context, payload map[string]any) error {
	return p.Publish(ctx, TypeClientCreated, payload, jobqueue.QueueHigh)
}

func (p *Publisher) MembershipExpiring(ctx context.Context, payload map[string]any) error {
	return p.Publish(ctx, TypeMembershipExpiry, payload, jobqueue.QueueDefault)
}

func (p *Publisher) MembershipStatusChanged(ctx context.Context, payload map[string]any) error {
	return p.Publish(ctx, TypeMembershipStatus, payload, jobqueue.QueueDefault)
}

func (p *Publisher) ClientNotCheckedIn(ctx context.Context, payload map[string]any) error {
	return p.Publish(ctx, TypeClientNotCheckedIn, payload, jobqueue.QueueLow)
}

func (p *Publisher) MeetupAnnounce(ctx context.Context, payload map[string]any) error {
	return p.Publish(ctx, TypeMeetupAnnounce, payload, jobqueue.QueueLow)
}
