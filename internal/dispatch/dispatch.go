// Package dispatch resolves subscribers for an ingress message and fans
// the payload out to each over the downstream sender, in parallel with
// bounded failure isolation.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"busd/internal/domain"
	"busd/internal/registry"
)

// Sender is the subset of downstream.Sender the dispatcher needs; kept as
// an interface so tests can substitute a fake without opening real sockets,
// the same seam the teacher's ingest adapters use for their Appender
// interfaces.
type Sender interface {
	Send(ctx context.Context, endpoint domain.ConsumerEndpoint, payload string, timeout time.Duration) error
}

// Attempt records the outcome of one subscriber's delivery attempt.
type Attempt struct {
	ConsumerID domain.ConsumerID
	Err        error
}

// Result is the aggregated outcome of one Dispatch call.
type Result struct {
	EventName domain.EventName
	Attempts  []Attempt
}

// Dispatcher fans an IngressMessage out to every subscriber of its event
// name. Parallelism is bounded by the number of subscribers: one goroutine
// per subscriber, joined by a sync.WaitGroup — the same bounded-fan-out
// shape as the teacher's per-partition worker pool in
// ingest/socket/server.go, simplified from a fixed pool of long-lived
// workers to ephemeral per-send goroutines because spec.md §5 sizes
// parallelism by subscriber count, not by a fixed partition count.
type Dispatcher struct {
	registry *registry.Registry
	sender   Sender
	logger   *slog.Logger
}

// New constructs a Dispatcher. If logger is nil, slog.Default() is used.
func New(reg *registry.Registry, sender Sender, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{registry: reg, sender: sender, logger: logger}
}

// Dispatch resolves subscribers of msg.EventName and sends msg.Payload to
// each in parallel. A message with no subscribers is a no-op: it is logged
// at trace level (here, Debug, slog's finest level) and returns a Result
// with no attempts. Per-subscriber failures are logged and recorded in the
// Result but never returned as an error — delivery is best-effort and the
// ingress producer never learns the outcome, per spec.md §4.5/§7.
func (d *Dispatcher) Dispatch(ctx context.Context, msg domain.IngressMessage) Result {
	subscribers := d.registry.SubscribersOf(msg.EventName)
	if len(subscribers) == 0 {
		d.logger.Debug("no subscribers", slog.String("event_name", string(msg.EventName)))
		return Result{EventName: msg.EventName}
	}

	attempts := make([]Attempt, len(subscribers))
	var wg sync.WaitGroup
	wg.Add(len(subscribers))
	for i, entry := range subscribers {
		i, entry := i, entry
		go func() {
			defer wg.Done()
			timeout := entry.SendTimeout
			if timeout <= 0 {
				timeout = domain.DefaultSendTimeout
			}
			err := d.sender.Send(ctx, entry.Endpoint, msg.Payload, timeout)
			if err != nil {
				d.logger.Warn("downstream delivery failed",
					slog.String("event_name", string(msg.EventName)),
					slog.String("consumer_id", string(entry.ID)),
					slog.Any("error", err))
			}
			attempts[i] = Attempt{ConsumerID: entry.ID, Err: err}
		}()
	}
	wg.Wait()

	return Result{EventName: msg.EventName, Attempts: attempts}
}
