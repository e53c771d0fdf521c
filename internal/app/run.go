package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/vk/flowgrid/internal/actorset"
	"github.com/vk/flowgrid/internal/ctxlog"
	"github.com/vk/flowgrid/internal/dump"
	"github.com/vk/flowgrid/internal/inmemorystore"
	"github.com/vk/flowgrid/internal/nodestore"
	"github.com/vk/flowgrid/internal/scheduler"
	"github.com/vk/flowgrid/internal/sqlitestore"
	"golang.org/x/sync/errgroup"
)

// Run executes the compiled program once and writes its outputs to w, one
// `name = value` line each. The health check server, when enabled, runs
// alongside and stops with the program.
func (a *App) Run(ctx context.Context, w io.Writer) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	g, gctx := errgroup.WithContext(ctx)
	runCtx, stop := context.WithCancel(gctx)
	defer stop()

	if a.config.HealthcheckPort > 0 {
		g.Go(func() error { return a.serveHealthcheck(runCtx, a.config.HealthcheckPort) })
	}
	g.Go(func() error {
		defer stop()
		return a.execute(runCtx, w)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	a.logger.Debug("App.Run method finished.")
	return nil
}

// Dump builds the program and writes its actor set dump to w without
// running it.
func (a *App) Dump(ctx context.Context, w io.Writer) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	sched := scheduler.New(ctx, scheduler.Config{
		Workers:     a.config.Workers,
		MailboxSize: a.config.MailboxSize,
		Kernels:     a.registry,
	})
	defer sched.Close()

	if _, err := sched.Transform(ctx, a.program); err != nil {
		return err
	}
	return sched.Dump(w, a.program.Name)
}

func (a *App) execute(ctx context.Context, w io.Writer) error {
	history, closeHistory, err := a.openHistory()
	if err != nil {
		return err
	}
	defer closeHistory()

	sched := scheduler.New(ctx, scheduler.Config{
		Workers:     a.config.Workers,
		MailboxSize: a.config.MailboxSize,
		Kernels:     a.registry,
		History:     history,
	})
	defer sched.Close()

	set, err := sched.Transform(ctx, a.program)
	if err != nil {
		return fmt.Errorf("failed to build program: %w", err)
	}
	if err := a.writeDump(w, set); err != nil {
		return err
	}

	inputs, err := a.parseInputs(ctx)
	if err != nil {
		return err
	}
	batches, err := a.parseFeeds(ctx, set)
	if err != nil {
		return err
	}
	if len(batches) > 0 {
		if err := sched.Feed(set, batches...); err != nil {
			return err
		}
		a.logger.Debug("Queue inputs fed.", "batches", len(batches), "inputs", scheduler.QueueInputs(set))
	}

	a.logger.Info("🚀 Starting program...", "program", a.program.Name, "workers", a.config.Workers)
	res, err := sched.Run(ctx, set, inputs)
	if err != nil {
		return fmt.Errorf("execution failed: %w", err)
	}
	a.logger.Info("🏁 Program finished.", "run_id", res.RunID, "steps", res.Steps)

	for i, name := range res.Names {
		fmt.Fprintf(w, "%s = %s\n", name, res.Outputs[i])
	}
	return nil
}

func (a *App) openHistory() (nodestore.Store, func(), error) {
	if a.config.HistoryPath == "" {
		return inmemorystore.New(), func() {}, nil
	}
	store, err := sqlitestore.Open(a.config.HistoryPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open history database: %w", err)
	}
	return store, func() {
		if err := store.Close(); err != nil {
			a.logger.Warn("Failed to close history database.", "error", err)
		}
	}, nil
}

func (a *App) writeDump(w io.Writer, set *actorset.ActorSet) error {
	switch a.config.DumpPath {
	case "":
		return nil
	case "-":
		return dump.Write(w, set)
	}
	f, err := os.Create(a.config.DumpPath)
	if err != nil {
		return fmt.Errorf("failed to create dump file: %w", err)
	}
	if err := dump.Write(f, set); err != nil {
		f.Close()
		return fmt.Errorf("failed to write dump: %w", err)
	}
	return f.Close()
}
