// Command busd runs the event-routed TCP message bus: an ingress listener,
// a control listener, and the registry they share, per spec.md §4.8.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"busd/internal/busconfig"
	"busd/internal/control"
	"busd/internal/dispatch"
	"busd/internal/domain"
	"busd/internal/downstream"
	"busd/internal/ingress"
	"busd/internal/registry"
)

// shutdownDrain is the grace period given to in-flight connection workers
// to finish after the accept loops stop, per spec.md §5.
const shutdownDrain = 5 * time.Second

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("busd exiting", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := busconfig.Load()
	if err != nil {
		return err
	}

	reg := registry.New()
	for _, seed := range cfg.Seeds {
		reg.Register(seed.ID, seed.Endpoint, seed.SendTimeout, nil)
		logger.Info("seeded consumer", slog.String("consumer_id", string(seed.ID)), slog.String("endpoint", seed.Endpoint.String()))
	}

	disp := dispatch.New(reg, downstream.NewSender(), logger)
	ingressSrv := ingress.New(ingress.Config{Address: cfg.TransportAddress}, func(ctx context.Context, msg domain.IngressMessage) {
		disp.Dispatch(ctx, msg)
	}, logger)
	controlSrv := control.New(control.Config{Address: cfg.ControlAddress}, control.NewInterpreter(reg), logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := ingressSrv.Start(ctx); err != nil {
			errs <- err
		}
	}()
	go func() {
		defer wg.Done()
		if err := controlSrv.Start(ctx); err != nil {
			errs <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errs:
		stop()
		return err
	}

	logger.Info("shutting down", slog.Duration("drain", shutdownDrain))
	_ = ingressSrv.Close()
	_ = controlSrv.Close()

	drained := make(chan struct{})
	go func() {
		ingressSrv.Wait()
		controlSrv.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(shutdownDrain):
		logger.Warn("shutdown drain deadline exceeded, abandoning stragglers")
	}

	wg.Wait()
	return nil
}
