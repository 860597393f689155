// Package calsync keeps the reminder scheduler in step with calendar
// subscriptions: fetch every feed, expand occurrences over the horizon and
// reschedule from the result.
package calsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"smartcal/internal/config"
	"smartcal/internal/ics"
	appLog "smartcal/internal/log"
	"smartcal/internal/metrics"
	"smartcal/internal/model"
)

var ErrNoSourcesFetched = errors.New("calsync: no source could be fetched")

// Rescheduler receives the expanded events. *reminder.Scheduler implements it.
type Rescheduler interface {
	RescheduleAll(ctx context.Context, events []model.Event, minutesBefore int) int
}

type Options struct {
	Sources  []ics.Source
	Fetcher  *ics.Fetcher
	Target   Rescheduler
	Location *time.Location
	// Horizon is how far ahead occurrences are expanded.
	Horizon                time.Duration
	DefaultReminderMinutes int
	// Refresh is a 5-field cron expression.
	Refresh string
	Metrics *metrics.Metrics
}

// OptionsFromConfig maps the sync and extraction sections. Fetcher, Target
// and Metrics are left for the caller.
func OptionsFromConfig(cfg *config.Config, loc *time.Location) Options {
	return Options{
		Sources:                ics.SourcesFromConfig(cfg.Sync.Sources),
		Location:               loc,
		Horizon:                time.Duration(cfg.Sync.HorizonDays) * 24 * time.Hour,
		DefaultReminderMinutes: cfg.Extraction.DefaultReminderMinutes,
		Refresh:                cfg.Sync.Refresh,
	}
}

// Result describes one sync run.
type Result struct {
	At        time.Time `json:"at"`
	Sources   int       `json:"sources"`
	Fetched   int       `json:"fetched"`
	Events    int       `json:"events"`
	Scheduled int       `json:"scheduled"`
	Truncated []string  `json:"truncated,omitempty"`
	Errors    []string  `json:"errors,omitempty"`
}

type Syncer struct {
	opts Options
	now  func() time.Time

	runMu sync.Mutex // one sync at a time

	mu   sync.Mutex
	last *Result
}

func New(opts Options) *Syncer {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Horizon <= 0 {
		opts.Horizon = 7 * 24 * time.Hour
	}
	if opts.Fetcher == nil {
		opts.Fetcher = ics.NewFetcher(nil, nil)
	}
	return &Syncer{opts: opts, now: time.Now}
}

// Enabled reports whether there is anything to sync.
func (s *Syncer) Enabled() bool {
	return len(s.opts.Sources) > 0 && s.opts.Target != nil
}

// Last returns the most recent run, or nil before the first one.
func (s *Syncer) Last() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	r := *s.last
	return &r
}

// SyncOnce runs one fetch-parse-expand-reschedule cycle. When every source
// fails the pending reminders are left alone and ErrNoSourcesFetched is
// returned; partial failures are reported in Result.Errors.
func (s *Syncer) SyncOnce(ctx context.Context) (Result, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	now := s.now()
	res := Result{At: now, Sources: len(s.opts.Sources)}
	if !s.Enabled() {
		return res, nil
	}

	fetched, fetchErrs := s.opts.Fetcher.FetchAll(ctx, s.opts.Sources)
	res.Fetched = len(fetched)
	for _, err := range fetchErrs {
		res.Errors = append(res.Errors, err.Error())
	}
	if len(fetched) == 0 {
		s.record(res, "failed")
		return res, ErrNoSourcesFetched
	}

	parsed := make([]ics.ParsedEvent, 0)
	for _, fr := range fetched {
		evs, err := ics.ParseICS(fr.Source, fr.Body, s.opts.Location)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("source %s: %v", fr.Source.ID, err))
			continue
		}
		parsed = append(parsed, evs...)
	}

	expanded, err := ics.Expand(parsed, ics.ExpandConfig{
		Location:               s.opts.Location,
		RangeStart:             now,
		RangeEnd:               now.Add(s.opts.Horizon),
		DefaultReminderMinutes: s.opts.DefaultReminderMinutes,
	})
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		s.record(res, "failed")
		return res, err
	}
	res.Events = len(expanded.Events)
	res.Truncated = expanded.TruncatedEvents
	res.Scheduled = s.opts.Target.RescheduleAll(ctx, expanded.Events, -1)

	outcome := "ok"
	if len(res.Errors) > 0 {
		outcome = "partial"
	}
	s.record(res, outcome)
	appLog.Info("calendar sync completed",
		"sources", res.Sources,
		"fetched", res.Fetched,
		"events", res.Events,
		"scheduled", res.Scheduled,
		"errors", len(res.Errors),
	)
	return res, nil
}

func (s *Syncer) record(res Result, outcome string) {
	s.opts.Metrics.ObserveSync(outcome, res.Events)
	s.mu.Lock()
	s.last = &res
	s.mu.Unlock()
}

// Run syncs once, then on every Refresh tick until ctx is done. It returns
// nil on cancellation and an error only for an invalid schedule. With no
// sources configured it just waits for ctx.
func (s *Syncer) Run(ctx context.Context) error {
	if !s.Enabled() {
		appLog.Info("calendar sync disabled: no sources configured")
		<-ctx.Done()
		return nil
	}

	c := cron.New(cron.WithChain(
		cron.Recover(appLog.CronLogger{}),
		cron.SkipIfStillRunning(appLog.CronLogger{}),
	))
	job := func() {
		if _, err := s.SyncOnce(ctx); err != nil {
			appLog.Error("calendar sync failed", err)
		}
	}
	if _, err := c.AddFunc(s.opts.Refresh, job); err != nil {
		return fmt.Errorf("schedule calendar sync %q: %w", s.opts.Refresh, err)
	}

	appLog.Info("calendar sync started", "refresh", s.opts.Refresh, "sources", len(s.opts.Sources))
	c.Start()
	job()

	<-ctx.Done()
	<-c.Stop().Done()
	appLog.Info("calendar sync stopped")
	return nil
}
