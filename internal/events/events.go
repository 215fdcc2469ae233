package events

// Business event types routed through the worker. The set is closed: the
// router dispatches over exactly these tags and drops anything else.
const (
	TypeClientCreated      = "client.created"
	TypeMembershipExpiry   = "membership.expiring_30d"
	TypeMembershipStatus   = "membership.status_changed"
	TypeClientNotCheckedIn = "client.not_checked_in_mid_month"
	TypeMeetupAnnounce     = "krc_meetup_announce"
)

// KindProcess is the job kind carrying a routed event through the queue.
const KindProcess = "event.process"

// Args is the payload of a KindProcess job.
type Args struct {
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`
}
