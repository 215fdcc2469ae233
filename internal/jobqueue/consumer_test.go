package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nsqio/go-nsq"

	"github.com/mweller/arcadecrm/internal/logging"
)

func TestComputeDelay(t *testing.T) {
	schedule := []time.Duration{time.Second, 4 * time.Second, 16 * time.Second}

	tests := []struct {
		name  string
		retry int
		base  time.Duration
	}{
		{name: "first retry", retry: 1, base: time.Second},
		{name: "second retry", retry: 2, base: 4 * time.Second},
		{name: "beyond schedule clamps to last", retry: 9, base: 16 * time.Second},
		{name: "zero clamps to first", retry: 0, base: time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jitter := 0.25
			lo := time.Duration(float64(tt.base) * (1 - jitter))
			hi := time.Duration(float64(tt.base) * (1 + jitter))
			for i := 0; i < 50; i++ {
				d := computeDelay(tt.retry, schedule, jitter)
				if d < lo || d > hi {
					t.Fatalf("computeDelay(%d) = %v, want within [%v, %v]", tt.retry, d, lo, hi)
				}
			}
		})
	}
}

func TestComputeDelayNoJitter(t *testing.T) {
	schedule := []time.Duration{time.Second, 4 * time.Second}
	if d := computeDelay(2, schedule, 0); d != 4*time.Second {
		t.Errorf("computeDelay(2, jitter=0) = %v, want 4s", d)
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	called := false
	reg.Register("event.process", func(_ context.Context, _ *Job) error {
		called = true
		return nil
	})

	fn, ok := reg.resolve("event.process")
	if !ok {
		t.Fatal("resolve() = false for registered kind")
	}
	if err := fn(context.Background(), &Job{ID: "j1"}); err != nil || !called {
		t.Errorf("handler not invoked: err=%v called=%v", err, called)
	}

	if _, ok := reg.resolve("missing.kind"); ok {
		t.Error("resolve() = true for unregistered kind")
	}
}

func TestRegistryDuplicatePanics(t *testing.T) {
	reg := NewRegistry()
	reg.Register("k", func(_ context.Context, _ *Job) error { return nil })

	defer func() {
		if recover() == nil {
			t.Error("duplicate Register did not panic")
		}
	}()
	reg.Register("k", func(_ context.Context, _ *Job) error { return nil })
}

func TestRetryFromDelivery(t *testing.T) {
	tests := []struct {
		attempts uint16
		want     int
	}{
		{attempts: 0, want: 0},
		{attempts: 1, want: 0},
		{attempts: 2, want: 1},
		{attempts: 5, want: 4},
	}
	for _, tt := range tests {
		if got := retryFromDelivery(tt.attempts); got != tt.want {
			t.Errorf("retryFromDelivery(%d) = %d, want %d", tt.attempts, got, tt.want)
		}
	}
}

func TestRetryCountFollowsDeliveryCounter(t *testing.T) {
	// A requeue retransmits nsqd's stored copy of the envelope, so the body
	// still says retry=0 on every redelivery. The delivery counter is what
	// must drive the budget: the third delivery of a three-retry job is the
	// last one.
	body := []byte(`{"id":"j1","kind":"event.process","queue":"default","retry":0,"max_retries":3}`)

	tests := []struct {
		attempts     uint16
		wantRetry    int
		wantTerminal bool
	}{
		{attempts: 1, wantRetry: 0, wantTerminal: false},
		{attempts: 2, wantRetry: 1, wantTerminal: false},
		{attempts: 3, wantRetry: 2, wantTerminal: true},
		{attempts: 4, wantRetry: 3, wantTerminal: true},
	}
	for _, tt := range tests {
		m := nsq.NewMessage(nsq.MessageID{}, body)
		m.Attempts = tt.attempts

		var job Job
		if err := json.Unmarshal(m.Body, &job); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		job.Retry = retryFromDelivery(m.Attempts)

		if job.Retry != tt.wantRetry {
			t.Errorf("delivery %d: retry = %d, want %d", tt.attempts, job.Retry, tt.wantRetry)
		}
		if terminal := job.Retry+1 >= job.MaxRetries; terminal != tt.wantTerminal {
			t.Errorf("delivery %d: terminal = %v, want %v", tt.attempts, terminal, tt.wantTerminal)
		}
	}
}

func TestExecuteJobUnknownKind(t *testing.T) {
	p := &Pool{reg: NewRegistry(), log: logging.New("worker")}

	err := p.executeJob(context.Background(), &Job{ID: "j1", Kind: "ghost.kind"})
	if !errors.Is(err, errNoHandler) {
		t.Fatalf("executeJob() error = %v, want errNoHandler", err)
	}
	if !strings.Contains(err.Error(), "ghost.kind") {
		t.Errorf("error %q does not name the kind", err)
	}
}

func TestJobTimeout(t *testing.T) {
	tests := []struct {
		name string
		sec  int
		want time.Duration
	}{
		{name: "explicit", sec: 60, want: time.Minute},
		{name: "zero falls back", sec: 0, want: 5 * time.Minute},
		{name: "negative falls back", sec: -1, want: 5 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := &Job{TimeoutSec: tt.sec}
			if got := j.Timeout(); got != tt.want {
				t.Errorf("Timeout() = %v, want %v", got, tt.want)
			}
		})
	}
}
