// Package app wires the chat registry, the workflow queue, the retention
// sweep and the ops HTTP server into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/valyala/fasthttp"

	"github.com/liangmulu/open-chat/internal/collab"
	"github.com/liangmulu/open-chat/internal/retention"
	"github.com/liangmulu/open-chat/pkg/chatlog"
	"github.com/liangmulu/open-chat/pkg/chats"
	"github.com/liangmulu/open-chat/pkg/config"
	"github.com/liangmulu/open-chat/pkg/logger"
	"github.com/liangmulu/open-chat/pkg/metrics"
	"github.com/liangmulu/open-chat/pkg/progressor"
	"github.com/liangmulu/open-chat/pkg/state"
	"github.com/liangmulu/open-chat/pkg/store"
	"github.com/liangmulu/open-chat/pkg/workflow"
)

// App encapsulates the server components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	paths    state.Paths
	store    *store.Store
	chats    *chats.Registry
	queue    *workflow.Queue
	sweeper  *retention.Sweeper
	registry *prometheus.Registry

	srv *fasthttp.Server
}

// Options override the collaborators built from config. Tests use it.
type Options struct {
	Collaborators *workflow.Collaborators
}

// New prepares the state folders, opens and migrates the store and loads
// every chat. It does not start background work; call Run for that.
func New(ctx context.Context, eff config.EffectiveConfigResult, version, commit, buildDate string, opts Options) (*App, error) {
	if err := validateConfig(eff); err != nil {
		return nil, err
	}
	cfg := eff.Config

	paths, err := state.EnsureStateDirs(eff.DBPath)
	if err != nil {
		return nil, fmt.Errorf("state dirs: %w", err)
	}
	if cfg.Logging.Audit {
		if err := logger.AttachAuditFileSink(paths.Audit); err != nil {
			return nil, fmt.Errorf("audit sink: %w", err)
		}
	}

	st, err := store.Open(paths.Store, store.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", paths.Store, err)
	}
	if _, err := progressor.Run(ctx, st, version); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	reg := chats.New(st, chatlog.Options{WindowBeforeRatio: cfg.Chat.WindowBeforeRatio})
	if _, err := reg.LoadAll(); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("load chats: %w", err)
	}

	collabs := collab.New(cfg.Collaborators)
	if opts.Collaborators != nil {
		collabs = *opts.Collaborators
	}
	runner := workflow.NewRunner(reg, collabs, workflow.Config{
		StepsPerSecond: cfg.Workflow.StepsPerSecond,
		Burst:          cfg.Workflow.Burst,
	})
	queue := workflow.NewQueue(st, runner)
	sweeper := retention.NewSweeper(reg, queue, retention.Options{
		Dir:     paths.Retention,
		Workers: cfg.Retention.Workers,
		Lease:   cfg.Retention.Lease.Duration(),
	})

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.MustRegister(promReg, reg)

	return &App{
		eff:       eff,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		paths:     paths,
		store:     st,
		chats:     reg,
		queue:     queue,
		sweeper:   sweeper,
		registry:  promReg,
	}, nil
}

// Chats exposes the registry so embedders can drive chat operations.
func (a *App) Chats() *chats.Registry { return a.chats }

// Queue exposes the workflow queue for enqueueing jobs.
func (a *App) Queue() *workflow.Queue { return a.queue }

// Run starts the retention scheduler, the workflow loop and the ops
// server, and blocks until ctx is canceled or the server fails.
func (a *App) Run(ctx context.Context) error {
	a.printBanner()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stopRetention, err := retention.Start(ctx, a.eff.Config.Retention, a.sweeper)
	if err != nil {
		return err
	}
	defer stopRetention()

	wfDone := make(chan struct{})
	go func() {
		defer close(wfDone)
		a.runWorkflows(ctx)
	}()

	ln, errCh, err := a.startHTTP()
	if err != nil {
		cancel()
		<-wfDone
		return err
	}
	select {
	case <-ctx.Done():
		logger.Info("app_shutdown_requested")
	case err = <-errCh:
		logger.Error("http_server_failed", "error", err)
	}
	cancel()
	if serr := a.srv.Shutdown(); serr != nil {
		logger.Error("http_shutdown_failed", "error", serr)
	}
	_ = ln.Close()
	<-wfDone
	return err
}

// Close releases the store.
func (a *App) Close() error {
	return a.store.Close()
}

// runWorkflows advances due jobs every poll interval until ctx ends.
func (a *App) runWorkflows(ctx context.Context) {
	poll := a.eff.Config.Workflow.PollInterval.Duration()
	if poll <= 0 {
		poll = config.DefaultPoll
	}
	t := time.NewTicker(poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		rep, err := a.queue.RunDue(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("workflow_run_failed", "error", err)
			continue
		}
		if rep != (workflow.RunReport{}) {
			logger.Info("workflow_run", "done", rep.Done, "retried", rep.Retried, "failed", rep.Failed, "follow_on", rep.FollowOn)
		}
	}
}
