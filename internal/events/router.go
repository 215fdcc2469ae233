package events

import (
	"context"
	"encoding/json"

	"github.com/mweller/arcadecrm/internal/config"
	"github.com/mweller/arcadecrm/internal/jobqueue"
	"github.com/mweller/arcadecrm/internal/logging"
	"github.com/mweller/arcadecrm/internal/metrics"
)

// HookSender posts an event document to the automation endpoint.
type HookSender interface {
	Send(ctx context.Context, event string, data map[string]any) bool
}

// Reconciler keeps external access-control group membership in line with a
// client's membership status.
type Reconciler interface {
	Reconcile(ctx context.Context, clientID, status string) error
}

type handlerFunc func(ctx context.Context, payload map[string]any) error

// Router dispatches a business event to its handler. The dispatch table is
// built once at construction; an event type outside it is logged and dropped
// so producers can evolve ahead of this consumer.
type Router struct {
	sender   HookSender
	recon    Reconciler
	features config.Features
	log      *logging.Logger

	handlers map[string]handlerFunc
}

func NewRouter(sender HookSender, recon Reconciler, features config.Features) *Router {
	r := &Router{
		sender:   sender,
		recon:    recon,
		features: features,
		log:      logging.New("events"),
	}
	r.handlers = map[string]handlerFunc{
		TypeClientCreated:      r.handleClientCreated,
		TypeMembershipExpiry:   r.handleMembershipExpiry,
		TypeMembershipStatus:   r.handleMembershipStatus,
		TypeClientNotCheckedIn: r.handleCheckinNudge,
		TypeMeetupAnnounce:     r.handleMeetupAnnounce,
	}
	return r
}

// Process runs the handler registered for the event type. Unknown types are
// dropped without error; handler errors propagate so the job layer can retry.
func (r *Router) Process(ctx context.Context, event string, payload map[string]any) error {
	h, ok := r.handlers[event]
	if !ok {
		r.log.WithContext(ctx).WithEventType(event).Warn("unknown event type, dropping")
		metrics.RecordEventProcessed(event, "dropped")
		return nil
	}
	if err := h(ctx, payload); err != nil {
		metrics.RecordEventProcessed(event, "error")
		return err
	}
	metrics.RecordEventProcessed(event, "ok")
	return nil
}

// HandleJob adapts Process to the worker registry for KindProcess jobs.
func (r *Router) HandleJob(ctx context.Context, job *jobqueue.Job) error {
	var a Args
	if err := json.Unmarshal(job.Args, &a); err != nil {
		r.log.WithContext(ctx).WithJob(job.ID).WithError(err).Error("bad event job payload")
		return nil
	}
	return r.Process(ctx, a.Event, a.Payload)
}

func (r *Router) handleClientCreated(ctx context.Context, p map[string]any) error {
	if !r.features.Messaging {
		r.log.WithContext(ctx).WithEventType(TypeClientCreated).Debug("messaging disabled, skipping welcome")
		return nil
	}
	r.sender.Send(ctx, TypeClientCreated, shapeWelcome(p))
	return nil
}

func (r *Router) handleMembershipExpiry(ctx context.Context, p map[string]any) error {
	if !r.features.Messaging {
		r.log.WithContext(ctx).WithEventType(TypeMembershipExpiry).Debug("messaging disabled, skipping reminder")
		return nil
	}
	r.sender.Send(ctx, TypeMembershipExpiry, shapeExpiryReminder(p))
	return nil
}

// handleMembershipStatus swaps the client's access-control groups. It sends
// nothing itself; a reconcile error is returned so the job retries.
func (r *Router) handleMembershipStatus(ctx context.Context, p map[string]any) error {
	if !r.features.GroupSync {
		r.log.WithContext(ctx).WithEventType(TypeMembershipStatus).Debug("group sync disabled, skipping reconcile")
		return nil
	}
	clientID := str(p, "client_id")
	status := str(p, "status")
	if clientID == "" || status == "" {
		r.log.WithContext(ctx).WithEventType(TypeMembershipStatus).Warn("status change without client_id or status, skipping reconcile")
		return nil
	}
	return r.recon.Reconcile(ctx, clientID, status)
}

func (r *Router) handleCheckinNudge(ctx context.Context, p map[string]any) error {
	if !r.features.Messaging {
		r.log.WithContext(ctx).WithEventType(TypeClientNotCheckedIn).Debug("messaging disabled, skipping nudge")
		return nil
	}
	r.sender.Send(ctx, TypeClientNotCheckedIn, shapeCheckinNudge(p))
	return nil
}

func (r *Router) handleMeetupAnnounce(ctx context.Context, p map[string]any) error {
	if !r.features.Messaging {
		r.log.WithContext(ctx).WithEventType(TypeMeetupAnnounce).Debug("messaging disabled, skipping announce")
		return nil
	}
	r.sender.Send(ctx, TypeMeetupAnnounce, shapeMeetupAnnounce(p))
	return nil
}
