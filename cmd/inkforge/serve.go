package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/inkforge/orchestrator/pkg/control"
	"github.com/inkforge/orchestrator/pkg/server"
	"github.com/inkforge/orchestrator/pkg/share"
	"github.com/inkforge/orchestrator/pkg/worker"
)

// ServeCmd runs the HTTP API alongside an embedded worker pool, the
// single-process deployment shape for small/self-hosted installs. A
// standalone "worker" process (WorkerCmd) is for scaling the two
// independently.
type ServeCmd struct {
	Addr string `help:"Override the configured listen address."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	if c.Addr != "" {
		cfg.Server.Addr = c.Addr
	}

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("inkforge: shutting down")
		cancel()
	}()

	controller := control.New(a.store.Jobs(), a.store.Checkpoints(), a.queue, a.scheduler, a.executor, control.Config{
		TickBudget:        cfg.Checkpoint.TickBudget(),
		WriterConcurrency: cfg.Checkpoint.WriterConcurrency,
		LeaseTTL:          cfg.Checkpoint.LeaseTTL(),
		ResumeStaleAfter:  cfg.Checkpoint.LeaseTTL() * 2,
	}, a.owner)
	controller.Billing = a.billingGate
	controller.Metrics = recorderFor(a.observability)

	if n, err := controller.ResumeAll(ctx); err != nil {
		slog.Warn("inkforge: resume-all failed", "err", err)
	} else if n > 0 {
		slog.Info("inkforge: resumed stale jobs", "count", n)
	}

	w := &worker.Worker{
		Queue:       a.queue,
		Jobs:        a.store.Jobs(),
		Checkpoints: a.store.Checkpoints(),
		Scheduler:   a.scheduler,
		Executor:    a.executor,
		Config: worker.Config{
			TickBudget:        cfg.Checkpoint.TickBudget(),
			VisibilityTimeout: time.Duration(cfg.Queue.VisibilityTimeoutS) * time.Second,
			WriterConcurrency: cfg.Checkpoint.WriterConcurrency,
			JobLeaseTTL:       cfg.Checkpoint.LeaseTTL(),
			QueueBackend:      cfg.Queue.Backend,
		},
		Owner:   a.owner,
		Metrics: recorderFor(a.observability),
	}

	workerErrCh := make(chan error, 1)
	go func() {
		workerErrCh <- w.Loop(ctx)
	}()

	srv, err := server.New(server.Options{
		Config:        cfg.Server,
		Controller:    controller,
		Manuscripts:   a.store.Manuscripts(),
		Checkpoints:   a.store.Checkpoints(),
		Share:         &share.Service{Jobs: a.store.Jobs(), Manuscripts: a.store.Manuscripts()},
		Observability: a.observability,
		RateLimiter:   a.rateLimiter,
		RateScope:     a.rateScope,
	})
	if err != nil {
		cancel()
		<-workerErrCh
		return fmt.Errorf("build server: %w", err)
	}

	slog.Info("inkforge: listening", "addr", srv.Addr())
	srvErr := srv.Start(ctx)
	<-workerErrCh
	if srvErr != nil {
		return fmt.Errorf("server: %w", srvErr)
	}
	return nil
}
