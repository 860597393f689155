package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"smartcal/internal/ai"
	"smartcal/internal/calsync"
	"smartcal/internal/config"
	"smartcal/internal/extract"
	"smartcal/internal/ics"
	appLog "smartcal/internal/log"
	"smartcal/internal/metrics"
	"smartcal/internal/notify"
	"smartcal/internal/reminder"
	"smartcal/internal/store"
	"smartcal/internal/web"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, reminder scheduler and calendar sync",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, loc, err := loadConfig(flags)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, loc)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, loc *time.Location) error {
	appLog.Info("smartcal starting", "version", version)
	appLog.Info("effective config",
		"listen", cfg.Listen,
		"timezone", loc.String(),
		"storage", cfg.Storage.Driver,
		"ai_enabled", cfg.Extraction.AI.Enabled,
		"check_interval_seconds", cfg.Reminders.CheckIntervalSeconds,
		"sync_sources", len(cfg.Sync.Sources),
	)

	kv, closeKV, err := store.Open(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeKV(); err != nil {
			appLog.Error("failed to close store", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.MustNew(reg)

	extractor := newExtractor(cfg, loc, m)

	schedOpts := reminder.OptionsFromConfig(cfg.Reminders, loc)
	schedOpts.Store = kv
	schedOpts.Metrics = m
	sched := reminder.New(schedOpts)

	inbox := notify.NewInbox(notify.DefaultInboxSize)
	if err := sched.Initialize(ctx, notify.Multi{notify.LogSink{}, inbox}); err != nil {
		return err
	}
	defer sched.Stop()

	syncOpts := calsync.OptionsFromConfig(cfg, loc)
	syncOpts.Fetcher = ics.NewFetcher(kv, nil)
	syncOpts.Target = sched
	syncOpts.Metrics = m
	syncer := calsync.New(syncOpts)

	srv := web.NewServer(web.Options{
		Config:    cfg,
		Extractor: extractor,
		Scheduler: sched,
		Inbox:     inbox,
		Syncer:    syncer,
		Gatherer:  reg,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return syncer.Run(gctx) })

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		appLog.Error("smartcal stopped with error", err)
		return err
	}
	appLog.Info("smartcal exiting")
	return nil
}

// newExtractor wires the AI collaborator only when enabled; a nil client
// keeps extraction rule-based.
func newExtractor(cfg *config.Config, loc *time.Location, m *metrics.Metrics) *extract.Extractor {
	opts := extract.Options{
		DefaultDurationMinutes: cfg.Extraction.DefaultDurationMinutes,
		DefaultReminderMinutes: cfg.Extraction.DefaultReminderMinutes,
		Location:               loc,
		Metrics:                m,
	}
	if cfg.Extraction.AI.Enabled {
		client := ai.New(cfg.Extraction.AI)
		appLog.Info("AI extraction enabled", "model", client.Model())
		opts.AI = client
	}
	return extract.New(opts)
}
