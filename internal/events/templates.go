package events

import "fmt"

// Message templates for the outbound automation hook. Each shaper takes the
// raw event payload and returns the document the hook endpoint expects: the
// original fields plus a message_type tag and rendered text.

func shapeWelcome(p map[string]any) map[string]any {
	out := clonePayload(p)
	out["message_type"] = "welcome"
	out["message"] = fmt.Sprintf(
		"Welcome to the arcade, %s! Your membership is ready. Reply to this message if you need anything.",
		str(p, "name"))
	return out
}

func shapeExpiryReminder(p map[string]any) map[string]any {
	out := clonePayload(p)
	out["message_type"] = "expiry_reminder"
	out["message"] = fmt.Sprintf(
		"Hi %s, your membership expires on %s. Renew at the front desk or online to keep your hours.",
		str(p, "name"), str(p, "expires_on"))
	return out
}

func shapeCheckinNudge(p map[string]any) map[string]any {
	out := clonePayload(p)
	out["message_type"] = "checkin_nudge"
	out["message"] = fmt.Sprintf(
		"Hi %s, we haven't seen you this month! Your membership is active — come by and get some games in.",
		str(p, "name"))
	return out
}

func shapeMeetupAnnounce(p map[string]any) map[string]any {
	out := clonePayload(p)
	out["message_type"] = "meetup_announce"
	out["message"] = "Monthly meetup is this week! Doors open at 6pm — bring a friend, snacks on us."
	return out
}

func clonePayload(p map[string]any) map[string]any {
	out := make(map[string]any, len(p)+2)
	for k, v := range p {
		out[k] = v
	}
	return out
}

func str(p map[string]any, key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}
