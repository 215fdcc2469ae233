package events

import (
	"context"
	"errors"
	"testing"

	"github.com/mweller/arcadecrm/internal/config"
	"github.com/mweller/arcadecrm/internal/jobqueue"
)

type sentHook struct {
	event string
	data  map[string]any
}

type fakeSender struct {
	sent []sentHook
	ok   bool
}

func (f *fakeSender) Send(_ context.Context, event string, data map[string]any) bool {
	f.sent = append(f.sent, sentHook{event: event, data: data})
	return f.ok
}

type fakeRecon struct {
	calls []string
	err   error
}

func (f *fakeRecon) Reconcile(_ context.Context, clientID, status string) error {
	f.calls = append(f.calls, clientID+"/"+status)
	return f.err
}

func allOn() config.Features {
	return config.Features{Messaging: true, GroupSync: true}
}

func TestProcessUnknownEventIsDropped(t *testing.T) {
	sender := &fakeSender{ok: true}
	recon := &fakeRecon{}
	r := NewRouter(sender, recon, allOn())

	if err := r.Process(context.Background(), "nonexistent.event", map[string]any{}); err != nil {
		t.Fatalf("Process() error = %v, want nil for unknown event", err)
	}
	if len(sender.sent) != 0 {
		t.Errorf("hooks sent = %v, want none", sender.sent)
	}
	if len(recon.calls) != 0 {
		t.Errorf("reconcile calls = %v, want none", recon.calls)
	}
}

func TestProcessShapesMessages(t *testing.T) {
	tests := []struct {
		name     string
		event    string
		payload  map[string]any
		wantType string
	}{
		{
			name:     "welcome",
			event:    TypeClientCreated,
			payload:  map[string]any{"client_id": "c1", "name": "Ann"},
			wantType: "welcome",
		},
		{
			name:     "expiry reminder",
			event:    TypeMembershipExpiry,
			payload:  map[string]any{"client_id": "c1", "name": "Ann", "expires_on": "2025-01-15"},
			wantType: "expiry_reminder",
		},
		{
			name:     "checkin nudge",
			event:    TypeClientNotCheckedIn,
			payload:  map[string]any{"client_id": "c1", "name": "Ann", "phone": "555-0100"},
			wantType: "checkin_nudge",
		},
		{
			name:     "meetup announce",
			event:    TypeMeetupAnnounce,
			payload:  map[string]any{"date": "2025-01-14"},
			wantType: "meetup_announce",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{ok: true}
			r := NewRouter(sender, &fakeRecon{}, allOn())

			if err := r.Process(context.Background(), tt.event, tt.payload); err != nil {
				t.Fatalf("Process() error = %v", err)
			}
			if len(sender.sent) != 1 {
				t.Fatalf("hooks sent = %d, want 1", len(sender.sent))
			}
			got := sender.sent[0]
			if got.event != tt.event {
				t.Errorf("event = %q, want %q", got.event, tt.event)
			}
			if got.data["message_type"] != tt.wantType {
				t.Errorf("message_type = %v, want %q", got.data["message_type"], tt.wantType)
			}
			if msg, _ := got.data["message"].(string); msg == "" {
				t.Error("message text empty")
			}
			// Original payload fields ride along untouched.
			for k, v := range tt.payload {
				if got.data[k] != v {
					t.Errorf("data[%q] = %v, want %v", k, got.data[k], v)
				}
			}
			if _, mutated := tt.payload["message_type"]; mutated {
				t.Error("handler mutated the caller's payload map")
			}
		})
	}
}

func TestProcessMessagingDisabled(t *testing.T) {
	sender := &fakeSender{ok: true}
	r := NewRouter(sender, &fakeRecon{}, config.Features{Messaging: false, GroupSync: true})

	for _, event := range []string{TypeClientCreated, TypeMembershipExpiry, TypeClientNotCheckedIn, TypeMeetupAnnounce} {
		if err := r.Process(context.Background(), event, map[string]any{"client_id": "c1"}); err != nil {
			t.Fatalf("Process(%s) error = %v", event, err)
		}
	}
	if len(sender.sent) != 0 {
		t.Errorf("hooks sent = %v, want none with messaging off", sender.sent)
	}
}

func TestProcessStatusChangeReconciles(t *testing.T) {
	sender := &fakeSender{ok: true}
	recon := &fakeRecon{}
	r := NewRouter(sender, recon, allOn())

	payload := map[string]any{"client_id": "c1", "name": "Ann", "status": "expired"}
	if err := r.Process(context.Background(), TypeMembershipStatus, payload); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	// Status changes only reconcile groups; no outbound message.
	if len(sender.sent) != 0 {
		t.Errorf("hooks sent = %v, want none for status change", sender.sent)
	}
	if len(recon.calls) != 1 || recon.calls[0] != "c1/expired" {
		t.Errorf("reconcile calls = %v, want [c1/expired]", recon.calls)
	}
}

func TestProcessStatusChangeIncompletePayload(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
	}{
		{name: "missing client_id", payload: map[string]any{"status": "expired"}},
		{name: "missing status", payload: map[string]any{"client_id": "c1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recon := &fakeRecon{}
			r := NewRouter(&fakeSender{ok: true}, recon, allOn())

			if err := r.Process(context.Background(), TypeMembershipStatus, tt.payload); err != nil {
				t.Fatalf("Process() error = %v, want nil", err)
			}
			if len(recon.calls) != 0 {
				t.Errorf("reconcile calls = %v, want none", recon.calls)
			}
		})
	}
}

func TestProcessStatusChangeGroupSyncDisabled(t *testing.T) {
	recon := &fakeRecon{}
	r := NewRouter(&fakeSender{ok: true}, recon, config.Features{Messaging: true, GroupSync: false})

	payload := map[string]any{"client_id": "c1", "status": "expired"}
	if err := r.Process(context.Background(), TypeMembershipStatus, payload); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(recon.calls) != 0 {
		t.Errorf("reconcile calls = %v, want none with group sync off", recon.calls)
	}
}

func TestProcessStatusChangeReconcileErrorPropagates(t *testing.T) {
	reconErr := errors.New("db unreachable")
	recon := &fakeRecon{err: reconErr}
	r := NewRouter(&fakeSender{ok: true}, recon, allOn())

	err := r.Process(context.Background(), TypeMembershipStatus, map[string]any{"client_id": "c1", "status": "expired"})
	if !errors.Is(err, reconErr) {
		t.Errorf("Process() error = %v, want %v", err, reconErr)
	}
}

func TestProcessFailedHookDeliveryIsNotAJobError(t *testing.T) {
	// A failed delivery is owned by the delivery record and its retry sweep;
	// the job itself must not re-run and create a second record.
	sender := &fakeSender{ok: false}
	r := NewRouter(sender, &fakeRecon{}, allOn())

	if err := r.Process(context.Background(), TypeClientCreated, map[string]any{"client_id": "c1"}); err != nil {
		t.Errorf("Process() error = %v, want nil on failed delivery", err)
	}
}

func TestHandleJob(t *testing.T) {
	sender := &fakeSender{ok: true}
	r := NewRouter(sender, &fakeRecon{}, allOn())

	job := &jobqueue.Job{
		ID:   "j1",
		Kind: KindProcess,
		Args: []byte(`{"event":"client.created","payload":{"client_id":"c1","name":"Ann"}}`),
	}
	if err := r.HandleJob(context.Background(), job); err != nil {
		t.Fatalf("HandleJob() error = %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0].event != TypeClientCreated {
		t.Errorf("hooks sent = %v, want one client.created", sender.sent)
	}

	bad := &jobqueue.Job{ID: "j2", Kind: KindProcess, Args: []byte(`{broken`)}
	if err := r.HandleJob(context.Background(), bad); err != nil {
		t.Errorf("HandleJob() error = %v for malformed args, want nil (terminal drop)", err)
	}
}
