package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"busd/internal/domain"
	"busd/internal/registry"
)

type fakeSender struct {
	mu       sync.Mutex
	sent     map[string]string // address -> payload
	failFor  map[string]error  // address -> error to return
	deadline map[string]time.Duration
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: map[string]string{}, failFor: map[string]error{}, deadline: map[string]time.Duration{}}
}

func (f *fakeSender) Send(ctx context.Context, endpoint domain.ConsumerEndpoint, payload string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadline[endpoint.Address] = timeout
	if err, ok := f.failFor[endpoint.Address]; ok {
		return err
	}
	f.sent[endpoint.Address] = payload
	return nil
}

func mustEndpoint(t *testing.T, raw string) domain.ConsumerEndpoint {
	t.Helper()
	ep, err := domain.ParseEndpoint(raw)
	if err != nil {
		t.Fatalf("ParseEndpoint(%q): %v", raw, err)
	}
	return ep
}

func TestDispatchNoSubscribersIsNoop(t *testing.T) {
	reg := registry.New()
	sender := newFakeSender()
	d := New(reg, sender, nil)

	res := d.Dispatch(context.Background(), domain.IngressMessage{EventName: "orphan", Payload: "data"})
	if len(res.Attempts) != 0 {
		t.Fatalf("expected no attempts, got %+v", res.Attempts)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("expected no outbound sends, got %v", sender.sent)
	}
}

func TestDispatchSingleSubscriberDelivery(t *testing.T) {
	reg := registry.New()
	reg.Register("c1", mustEndpoint(t, "tcp://127.0.0.1:9001"), domain.DefaultSendTimeout, []domain.EventName{"greet"})
	sender := newFakeSender()
	d := New(reg, sender, nil)

	res := d.Dispatch(context.Background(), domain.IngressMessage{EventName: "greet", Payload: "hello world"})
	if len(res.Attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %+v", res.Attempts)
	}
	if sender.sent["127.0.0.1:9001"] != "hello world" {
		t.Fatalf("unexpected sends: %v", sender.sent)
	}
}

func TestDispatchFansOutToAllSubscribers(t *testing.T) {
	reg := registry.New()
	reg.Register("c1", mustEndpoint(t, "tcp://127.0.0.1:9001"), domain.DefaultSendTimeout, []domain.EventName{"e1"})
	reg.Register("c2", mustEndpoint(t, "tcp://127.0.0.1:9002"), domain.DefaultSendTimeout, []domain.EventName{"e1"})
	sender := newFakeSender()
	d := New(reg, sender, nil)

	res := d.Dispatch(context.Background(), domain.IngressMessage{EventName: "e1", Payload: "ping"})
	if len(res.Attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %+v", res.Attempts)
	}
	if sender.sent["127.0.0.1:9001"] != "ping" || sender.sent["127.0.0.1:9002"] != "ping" {
		t.Fatalf("unexpected sends: %v", sender.sent)
	}
}

func TestDispatchPartialFailureIsolatesOtherSubscribers(t *testing.T) {
	reg := registry.New()
	reg.Register("c1", mustEndpoint(t, "tcp://127.0.0.1:9001"), domain.DefaultSendTimeout, []domain.EventName{"e"})
	reg.Register("c2", mustEndpoint(t, "tcp://127.0.0.1:1"), domain.DefaultSendTimeout, []domain.EventName{"e"})
	sender := newFakeSender()
	sender.failFor["127.0.0.1:1"] = errors.New("connect failed")
	d := New(reg, sender, nil)

	res := d.Dispatch(context.Background(), domain.IngressMessage{EventName: "e", Payload: "x"})
	if len(res.Attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %+v", res.Attempts)
	}
	if sender.sent["127.0.0.1:9001"] != "x" {
		t.Fatalf("good subscriber should still receive payload: %v", sender.sent)
	}

	var sawFailure bool
	for _, a := range res.Attempts {
		if a.ConsumerID == "c2" && a.Err != nil {
			sawFailure = true
		}
	}
	if !sawFailure {
		t.Fatalf("expected a recorded failure for c2: %+v", res.Attempts)
	}
}

func TestDispatchUsesPerConsumerTimeout(t *testing.T) {
	reg := registry.New()
	reg.Register("c1", mustEndpoint(t, "tcp://127.0.0.1:9001"), 2*time.Second, []domain.EventName{"e"})
	sender := newFakeSender()
	d := New(reg, sender, nil)

	d.Dispatch(context.Background(), domain.IngressMessage{EventName: "e", Payload: "x"})
	if sender.deadline["127.0.0.1:9001"] != 2*time.Second {
		t.Fatalf("got timeout %v, want 2s", sender.deadline["127.0.0.1:9001"])
	}
}
