package reminder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/robfig/cron/v3"

	"smartcal/internal/config"
	appLog "smartcal/internal/log"
	"smartcal/internal/metrics"
	"smartcal/internal/model"
	"smartcal/internal/store"
)

const (
	DefaultCheckInterval    = 60 * time.Second
	DefaultHistoryLimit     = 200
	DefaultHistoryRetention = 7 * 24 * time.Hour
	DefaultExpireAfter      = time.Hour
	DefaultSoonWindow       = 30 * time.Minute
	DefaultSaveTimeout      = 10 * time.Second
)

// Options configures a Scheduler. Zero values pick the defaults above.
type Options struct {
	// Location binds event wall-clock times to instants.
	Location      *time.Location
	CheckInterval time.Duration
	// CleanupSchedule is a 5-field cron expression; empty disables the job.
	CleanupSchedule  string
	HistoryLimit     int
	HistoryRetention time.Duration
	// ExpireAfter is how long past its event time a pending reminder survives.
	ExpireAfter time.Duration
	// SoonWindow marks upcoming reminders whose event is this close.
	SoonWindow time.Duration
	// SaveTimeout bounds a single snapshot write.
	SaveTimeout time.Duration

	// Store persists the pending set and history. Nil keeps state in memory.
	Store   store.KV
	Metrics *metrics.Metrics
}

// OptionsFromConfig maps the reminders config section onto Options.
func OptionsFromConfig(cfg config.RemindersConfig, loc *time.Location) Options {
	return Options{
		Location:         loc,
		CheckInterval:    cfg.CheckInterval(),
		CleanupSchedule:  cfg.CleanupCron,
		HistoryLimit:     cfg.HistoryLimit,
		HistoryRetention: time.Duration(cfg.HistoryRetentionDays) * 24 * time.Hour,
		ExpireAfter:      time.Duration(cfg.ExpireAfterMinutes) * time.Minute,
		SoonWindow:       time.Duration(cfg.SoonWindowMinutes) * time.Minute,
	}
}

// Scheduler is safe for concurrent use. The periodic check and the public
// mutators share one critical section; sink delivery and persistence run
// outside it.
type Scheduler struct {
	opts    Options
	kv      store.KV
	metrics *metrics.Metrics
	now     func() time.Time

	mu        sync.Mutex
	pending   map[string]Reminder
	history   *lru.Cache[string, Reminder]
	sink      Sink
	cron      *cron.Cron
	cancel    context.CancelFunc
	running   bool
	seq       uint64
	gen       uint64
	lastCheck time.Time

	// Snapshots are written by one background writer that only ever picks
	// up the newest queued generation. persistMu guards the fields below and
	// is never held across a Save.
	persistMu    sync.Mutex
	queued       snapshot
	queuedGen    uint64
	attemptedGen uint64
	writerIdle   chan struct{}
}

func New(opts Options) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.CheckInterval < time.Second {
		opts.CheckInterval = DefaultCheckInterval
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.HistoryRetention <= 0 {
		opts.HistoryRetention = DefaultHistoryRetention
	}
	if opts.ExpireAfter <= 0 {
		opts.ExpireAfter = DefaultExpireAfter
	}
	if opts.SoonWindow <= 0 {
		opts.SoonWindow = DefaultSoonWindow
	}
	if opts.SaveTimeout <= 0 {
		opts.SaveTimeout = DefaultSaveTimeout
	}

	history, err := lru.New[string, Reminder](opts.HistoryLimit)
	if err != nil {
		panic(fmt.Sprintf("reminder history cache: %v", err))
	}

	return &Scheduler{
		opts:    opts,
		kv:      opts.Store,
		metrics: opts.Metrics,
		now:     time.Now,
		pending: make(map[string]Reminder),
		history: history,
	}
}

// Location is the zone event times are bound to.
func (s *Scheduler) Location() *time.Location {
	return s.opts.Location
}

// Initialize restores persisted reminders, registers sink and starts the
// periodic check, running one check immediately. Calling it on a running
// scheduler only replaces the sink. A nil sink is allowed: reminders still
// fire and are dropped.
func (s *Scheduler) Initialize(ctx context.Context, sink Sink) error {
	s.mu.Lock()
	s.sink = sink
	running := s.running
	s.mu.Unlock()
	if running {
		return nil
	}

	s.restore(ctx)

	c := cron.New(cron.WithChain(
		cron.Recover(appLog.CronLogger{}),
		cron.SkipIfStillRunning(appLog.CronLogger{}),
	))
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	every := fmt.Sprintf("@every %s", s.opts.CheckInterval)
	if _, err := c.AddFunc(every, func() { s.CheckReminders(jobCtx) }); err != nil {
		cancel()
		return fmt.Errorf("schedule reminder check: %w", err)
	}
	if s.opts.CleanupSchedule != "" {
		if _, err := c.AddFunc(s.opts.CleanupSchedule, func() { s.CleanupExpiredReminders(jobCtx) }); err != nil {
			cancel()
			return fmt.Errorf("schedule reminder cleanup %q: %w", s.opts.CleanupSchedule, err)
		}
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		cancel()
		return nil
	}
	s.cron, s.cancel, s.running = c, cancel, true
	s.mu.Unlock()

	c.Start()
	appLog.Info("reminder scheduler started",
		"check_interval", s.opts.CheckInterval,
		"cleanup", s.opts.CleanupSchedule,
		"has_sink", sink != nil,
	)

	s.CheckReminders(jobCtx)
	return nil
}

// Stop halts the periodic jobs, waits up to SaveTimeout for queued
// snapshot writes and clears the in-memory pending set. The persisted
// snapshot is left untouched so a later Initialize picks the reminders up
// again. Safe to call in any state, any number of times.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	wasRunning := s.running
	s.cron, s.cancel, s.running = nil, nil, false
	s.pending = make(map[string]Reminder)
	s.mu.Unlock()

	s.metrics.SetPending(0)
	if c != nil {
		<-c.Stop().Done()
	}
	if cancel != nil {
		cancel()
	}

	flushCtx, cancelFlush := context.WithTimeout(context.Background(), s.opts.SaveTimeout)
	defer cancelFlush()
	if err := s.Flush(flushCtx); err != nil {
		appLog.Warn("reminder snapshot still being written at stop", "err", err)
	}
	if wasRunning {
		appLog.Info("reminder scheduler stopped")
	}
}

// AddReminder schedules a reminder minutesBefore the event's start. A
// negative minutesBefore uses the event's own ReminderMinutes. Events with
// EnableReminder unset, without a readable start, or whose reminder moment
// has already passed are skipped and ok is false.
func (s *Scheduler) AddReminder(ctx context.Context, ev model.Event, minutesBefore int) (r Reminder, ok bool) {
	now := s.now()
	r, ok = s.plan(ev, minutesBefore, now)
	if !ok {
		return Reminder{}, false
	}

	s.mu.Lock()
	r = s.insertLocked(r, now)
	snap, gen := s.snapshotLocked(now)
	s.mu.Unlock()

	s.metrics.ReminderScheduled()
	s.afterMutation(snap, gen)
	appLog.Debug("reminder scheduled",
		"reminder_id", r.ID,
		"event_id", r.EventID,
		"reminder_time", r.ReminderTime.Format(time.RFC3339),
	)
	return r, true
}

// RemoveReminder drops every pending and historical reminder of eventID and
// returns how many were removed.
func (s *Scheduler) RemoveReminder(ctx context.Context, eventID string) int {
	s.mu.Lock()
	n := s.removeEventLocked(eventID)
	if n == 0 {
		s.mu.Unlock()
		return 0
	}
	snap, gen := s.snapshotLocked(s.now())
	s.mu.Unlock()

	s.afterMutation(snap, gen)
	return n
}

// RemoveReminderByID drops a single pending or historical reminder.
func (s *Scheduler) RemoveReminderByID(ctx context.Context, id string) *Reminder {
	s.mu.Lock()
	r, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	} else if r, ok = s.history.Peek(id); ok {
		s.history.Remove(id)
	}
	if !ok {
		s.mu.Unlock()
		return nil
	}
	snap, gen := s.snapshotLocked(s.now())
	s.mu.Unlock()

	s.afterMutation(snap, gen)
	return &r
}

// UpdateReminder replaces every reminder of ev.ID with a fresh one. When
// ev no longer wants a reminder the old ones are only removed.
func (s *Scheduler) UpdateReminder(ctx context.Context, ev model.Event, minutesBefore int) (Reminder, bool) {
	now := s.now()
	r, ok := s.plan(ev, minutesBefore, now)

	s.mu.Lock()
	removed := 0
	if ev.ID != "" {
		removed = s.removeEventLocked(ev.ID)
	}
	if ok {
		r = s.insertLocked(r, now)
	}
	if removed == 0 && !ok {
		s.mu.Unlock()
		return Reminder{}, false
	}
	snap, gen := s.snapshotLocked(now)
	s.mu.Unlock()

	if ok {
		s.metrics.ReminderScheduled()
	}
	s.afterMutation(snap, gen)
	return r, ok
}

// CheckReminders fires every pending reminder whose time has come and
// returns how many fired. A reminder leaves the pending set before it is
// delivered, so it can never fire twice.
func (s *Scheduler) CheckReminders(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	s.lastCheck = now
	var due []Reminder
	for id, r := range s.pending {
		if r.ReminderTime.After(now) {
			continue
		}
		delete(s.pending, id)
		firedAt := now
		r.Notified = true
		r.NotifiedAt = &firedAt
		s.history.Add(id, r)
		due = append(due, r)
	}
	if len(due) == 0 {
		s.mu.Unlock()
		return 0
	}
	sink := s.sink
	snap, gen := s.snapshotLocked(now)
	s.mu.Unlock()

	sortByReminderTime(due)
	for _, r := range due {
		s.deliver(ctx, sink, r)
	}
	s.afterMutation(snap, gen)
	return len(due)
}

func (s *Scheduler) deliver(ctx context.Context, sink Sink, r Reminder) {
	defer func() {
		if p := recover(); p != nil {
			appLog.Error("notification sink panicked", fmt.Errorf("%v", p), "reminder_id", r.ID)
			s.metrics.ReminderDropped("sink_panic")
		}
	}()

	appLog.Info("reminder fired",
		"reminder_id", r.ID,
		"event_id", r.EventID,
		"title", r.EventTitle,
		"event_time", r.EventTime.Format(time.RFC3339),
	)

	if sink == nil {
		appLog.Warn("no notification sink registered, reminder dropped", "reminder_id", r.ID)
		s.metrics.ReminderDropped("no_sink")
		return
	}
	if !r.EnableNotification {
		s.metrics.ReminderDropped("disabled")
		return
	}

	title, message, opts := notificationFor(r)
	if err := sink.Send(ctx, title, message, opts); err != nil {
		appLog.Error("notification delivery failed", err, "reminder_id", r.ID)
		s.metrics.ReminderDropped("sink_error")
		return
	}
	s.metrics.ReminderFired(string(r.Priority))
}

// GetUpcomingReminders lists pending reminders, soonest first. limit <= 0
// means no limit.
func (s *Scheduler) GetUpcomingReminders(limit int) []Upcoming {
	now := s.now()

	s.mu.Lock()
	pending := make([]Reminder, 0, len(s.pending))
	for _, r := range s.pending {
		if !r.Notified {
			pending = append(pending, r)
		}
	}
	s.mu.Unlock()

	sortByReminderTime(pending)
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}

	out := make([]Upcoming, 0, len(pending))
	for _, r := range pending {
		until := r.EventTime.Sub(now)
		out = append(out, Upcoming{
			Reminder:     r,
			TimeUntil:    humanUntil(until),
			ExpiringSoon: until <= s.opts.SoonWindow,
		})
	}
	return out
}

// GetAllReminders returns pending and fired reminders, latest reminder
// time first.
func (s *Scheduler) GetAllReminders(limit int) []Reminder {
	s.mu.Lock()
	all := make([]Reminder, 0, len(s.pending)+s.history.Len())
	for _, r := range s.pending {
		all = append(all, r)
	}
	all = append(all, s.history.Values()...)
	s.mu.Unlock()

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].ReminderTime.After(all[j].ReminderTime)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}

func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:              s.running,
		Pending:              len(s.pending),
		History:              s.history.Len(),
		HasSink:              s.sink != nil,
		CheckIntervalSeconds: int(s.opts.CheckInterval / time.Second),
	}
	for _, r := range s.pending {
		if st.NextReminderAt == nil || r.ReminderTime.Before(*st.NextReminderAt) {
			next := r.ReminderTime
			st.NextReminderAt = &next
		}
	}
	if !s.lastCheck.IsZero() {
		last := s.lastCheck
		st.LastCheckAt = &last
	}
	return st
}

// CleanupExpiredReminders drops pending reminders whose event is more than
// ExpireAfter in the past (they were never fired, e.g. the process was
// down) and history older than HistoryRetention.
func (s *Scheduler) CleanupExpiredReminders(ctx context.Context) CleanupResult {
	now := s.now()
	cutoff := now.Add(-s.opts.HistoryRetention)

	var res CleanupResult
	s.mu.Lock()
	for id, r := range s.pending {
		if now.Sub(r.EventTime) > s.opts.ExpireAfter {
			delete(s.pending, id)
			res.Pending++
		}
	}
	for _, id := range s.history.Keys() {
		if r, ok := s.history.Peek(id); ok && historyTime(r).Before(cutoff) {
			s.history.Remove(id)
			res.History++
		}
	}
	if res.Pending == 0 && res.History == 0 {
		s.mu.Unlock()
		return res
	}
	snap, gen := s.snapshotLocked(now)
	s.mu.Unlock()

	for i := 0; i < res.Pending; i++ {
		s.metrics.ReminderDropped("expired")
	}
	s.afterMutation(snap, gen)
	appLog.Info("expired reminders cleaned", "pending", res.Pending, "history", res.History)
	return res
}

// RescheduleAll replaces the whole pending set with reminders derived from
// events. Only events with EnableReminder set are considered; a negative
// minutesBefore uses each event's ReminderMinutes. History is kept.
func (s *Scheduler) RescheduleAll(ctx context.Context, events []model.Event, minutesBefore int) int {
	now := s.now()
	planned := make([]Reminder, 0, len(events))
	for _, ev := range events {
		if r, ok := s.plan(ev, minutesBefore, now); ok {
			planned = append(planned, r)
		}
	}

	s.mu.Lock()
	s.pending = make(map[string]Reminder, len(planned))
	for _, r := range planned {
		s.insertLocked(r, now)
	}
	snap, gen := s.snapshotLocked(now)
	s.mu.Unlock()

	for range planned {
		s.metrics.ReminderScheduled()
	}
	s.afterMutation(snap, gen)
	appLog.Info("reminders rescheduled", "events", len(events), "scheduled", len(planned))
	return len(planned)
}

// Snooze re-arms a pending or fired reminder to go off minutes from now.
// The original pending entry, if any, is replaced; a fired one stays in
// history.
func (s *Scheduler) Snooze(ctx context.Context, id string, minutes int) (Reminder, error) {
	if minutes <= 0 {
		return Reminder{}, ErrInvalidMinutes
	}
	now := s.now()

	s.mu.Lock()
	src, inPending := s.pending[id]
	if inPending {
		delete(s.pending, id)
	} else {
		var found bool
		if src, found = s.history.Peek(id); !found {
			s.mu.Unlock()
			return Reminder{}, fmt.Errorf("snooze %s: %w", id, ErrNotFound)
		}
	}

	next := src
	next.ReminderTime = now.Add(time.Duration(minutes) * time.Minute)
	next.MinutesBefore = max(0, int(next.EventTime.Sub(next.ReminderTime)/time.Minute))
	next.Notified = false
	next.NotifiedAt = nil
	next.CreatedAt = now
	next = s.insertLocked(next, now)
	snap, gen := s.snapshotLocked(now)
	s.mu.Unlock()

	s.metrics.ReminderScheduled()
	s.afterMutation(snap, gen)
	appLog.Debug("reminder snoozed", "from", id, "to", next.ID, "minutes", minutes)
	return next, nil
}

// plan derives a reminder for ev without touching scheduler state.
func (s *Scheduler) plan(ev model.Event, minutesBefore int, now time.Time) (Reminder, bool) {
	if !ev.EnableReminder || !ev.HasStart() {
		return Reminder{}, false
	}
	if minutesBefore < 0 {
		minutesBefore = ev.ReminderMinutes
	}
	if minutesBefore < 0 {
		minutesBefore = 0
	}

	eventTime, err := ev.StartIn(s.opts.Location)
	if err != nil {
		appLog.Warn("skipping reminder for unreadable start", "event_id", ev.ID, "start", ev.StartDate, "err", err)
		return Reminder{}, false
	}

	// With minutesBefore == 0 the reminder time is the start itself.
	at := eventTime.Add(-time.Duration(minutesBefore) * time.Minute)
	if !at.After(now) {
		s.metrics.ReminderDropped("past")
		return Reminder{}, false
	}

	eventID := ev.ID
	if eventID == "" {
		eventID = model.NewID()
	}
	return Reminder{
		EventID:            eventID,
		EventTitle:         ev.Title,
		EventTime:          eventTime,
		ReminderTime:       at,
		MinutesBefore:      minutesBefore,
		Type:               model.ParseEventType(string(ev.Type)),
		Priority:           model.ParsePriority(string(ev.Priority)),
		EnableNotification: true,
		EnableSound:        true,
		CreatedAt:          now,
	}, true
}

// insertLocked assigns r a unique ID and adds it to the pending set.
func (s *Scheduler) insertLocked(r Reminder, now time.Time) Reminder {
	s.seq++
	r.ID = fmt.Sprintf("%s_%d_%d", r.EventID, now.UnixMilli(), s.seq)
	s.pending[r.ID] = r
	return r
}

func (s *Scheduler) removeEventLocked(eventID string) int {
	n := 0
	for id, r := range s.pending {
		if r.EventID == eventID {
			delete(s.pending, id)
			n++
		}
	}
	for _, id := range s.history.Keys() {
		if r, ok := s.history.Peek(id); ok && r.EventID == eventID {
			s.history.Remove(id)
			n++
		}
	}
	return n
}

func (s *Scheduler) snapshotLocked(now time.Time) (snapshot, uint64) {
	s.gen++
	pending := make([]Reminder, 0, len(s.pending))
	for _, r := range s.pending {
		pending = append(pending, r)
	}
	sortByReminderTime(pending)
	return snapshot{
		SavedAt:   now.UTC(),
		Reminders: pending,
		History:   s.history.Values(),
	}, s.gen
}

func (s *Scheduler) afterMutation(snap snapshot, gen uint64) {
	s.metrics.SetPending(len(snap.Reminders))
	s.persist(snap, gen)
}

// persist queues snap for the background writer and returns at once. A
// newer snapshot supersedes any older one still waiting.
func (s *Scheduler) persist(snap snapshot, gen uint64) {
	if s.kv == nil {
		return
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if gen <= s.queuedGen {
		return
	}
	s.queued, s.queuedGen = snap, gen
	if s.writerIdle != nil {
		return
	}
	s.writerIdle = make(chan struct{})
	go s.writeSnapshots(s.writerIdle)
}

// writeSnapshots saves the newest queued snapshot until nothing newer is
// waiting. Failures are logged and counted and not retried; in-memory
// state stays authoritative.
func (s *Scheduler) writeSnapshots(idle chan struct{}) {
	defer close(idle)
	for {
		s.persistMu.Lock()
		if s.queuedGen <= s.attemptedGen {
			s.writerIdle = nil
			s.persistMu.Unlock()
			return
		}
		snap, gen := s.queued, s.queuedGen
		s.attemptedGen = gen
		s.persistMu.Unlock()

		s.save(snap)
	}
}

func (s *Scheduler) save(snap snapshot) {
	raw, err := encodeSnapshot(snap)
	if err != nil {
		appLog.Error("encode reminders failed", err)
		s.metrics.PersistFailed("encode")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.SaveTimeout)
	defer cancel()
	if err := s.kv.Save(ctx, SnapshotKey, raw); err != nil {
		appLog.Error("save reminders failed", err, "pending", len(snap.Reminders))
		s.metrics.PersistFailed("save")
	}
}

// Flush waits until every queued snapshot has been written or ctx ends.
func (s *Scheduler) Flush(ctx context.Context) error {
	for {
		s.persistMu.Lock()
		idle := s.writerIdle
		s.persistMu.Unlock()
		if idle == nil {
			return nil
		}
		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// restore loads the persisted snapshot, keeping only reminders that are
// still due in the future and history inside the retention window.
func (s *Scheduler) restore(ctx context.Context) {
	if s.kv == nil {
		return
	}

	raw, err := s.kv.Load(ctx, SnapshotKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			appLog.Debug("no persisted reminders")
			return
		}
		appLog.Error("load reminders failed", err)
		s.metrics.PersistFailed("load")
		return
	}

	snap, err := decodeSnapshot(raw)
	if err != nil {
		appLog.Warn("discarding unreadable reminder snapshot", "err", err)
		s.metrics.PersistFailed("decode")
		return
	}

	now := s.now()
	cutoff := now.Add(-s.opts.HistoryRetention)
	restored, discarded := 0, 0

	s.mu.Lock()
	for _, r := range snap.Reminders {
		if r.ID == "" || r.Notified || !r.ReminderTime.After(now) {
			discarded++
			continue
		}
		s.pending[r.ID] = r
		restored++
	}
	for _, r := range snap.History {
		if r.ID == "" || historyTime(r).Before(cutoff) {
			continue
		}
		s.history.Add(r.ID, r)
	}
	pending, history := len(s.pending), s.history.Len()
	s.mu.Unlock()

	s.metrics.SetPending(pending)
	appLog.Info("reminders restored",
		"version", snap.Version,
		"restored", restored,
		"discarded", discarded,
		"history", history,
	)
}

// historyTime is when a history entry fired, falling back to its schedule.
func historyTime(r Reminder) time.Time {
	if r.NotifiedAt != nil {
		return *r.NotifiedAt
	}
	return r.ReminderTime
}

func sortByReminderTime(rs []Reminder) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].ReminderTime.Equal(rs[j].ReminderTime) {
			return rs[i].ID < rs[j].ID
		}
		return rs[i].ReminderTime.Before(rs[j].ReminderTime)
	})
}
