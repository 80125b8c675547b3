package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/inkforge/orchestrator/pkg/worker"
)

// WorkerCmd runs a standalone worker loop against the same queue and
// database a "serve" process drives its HTTP API from, letting an
// operator scale worker capacity independently of API capacity.
type WorkerCmd struct{}

func (c *WorkerCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
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
		slog.Info("inkforge: worker shutting down")
		cancel()
	}()

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

	slog.Info("inkforge: worker loop starting", "owner", a.owner)
	return w.Loop(ctx)
}
