package reminder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartcal/internal/metrics"
	"smartcal/internal/model"
	"smartcal/internal/store"
)

var cst = time.FixedZone("CST", 8*3600)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type sent struct {
	title   string
	message string
	opts    NotificationOptions
}

type recordingSink struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (s *recordingSink) Send(_ context.Context, title, message string, opts NotificationOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sent{title, message, opts})
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// blockingKV holds every Save until release is closed.
type blockingKV struct {
	release chan struct{}

	mu    sync.Mutex
	saves int
	last  string
}

func (k *blockingKV) Save(ctx context.Context, _ string, value string) error {
	k.mu.Lock()
	k.saves++
	k.mu.Unlock()

	select {
	case <-k.release:
	case <-ctx.Done():
		return ctx.Err()
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.last = value
	return nil
}

func (k *blockingKV) Load(context.Context, string) (string, error) {
	return "", store.ErrNotFound
}

type failingKV struct{}

func (failingKV) Save(context.Context, string, string) error {
	return errors.New("disk full")
}

func (failingKV) Load(context.Context, string) (string, error) {
	return "", errors.New("read failed")
}

func newTestScheduler(t *testing.T, kv store.KV) (*Scheduler, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, cst)}
	s := New(Options{Location: cst, Store: kv})
	s.now = clock.Now
	t.Cleanup(s.Stop)
	return s, clock
}

func event(id, title, start string) model.Event {
	return model.Event{
		ID:              id,
		Title:           title,
		StartDate:       start,
		Type:            model.TypeMeeting,
		Priority:        model.PriorityMedium,
		ReminderMinutes: 15,
		EnableReminder:  true,
	}
}

func TestAddReminder(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	ctx := context.Background()

	r, ok := s.AddReminder(ctx, event("ev1", "周会", "2026-03-01T12:00:00"), 15)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(r.ID, "ev1_"))
	assert.Equal(t, "ev1", r.EventID)
	assert.True(t, r.EventTime.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, cst)))
	assert.True(t, r.ReminderTime.Equal(time.Date(2026, 3, 1, 11, 45, 0, 0, cst)))
	assert.False(t, r.Notified)

	// Same event again gets a distinct reminder ID.
	r2, ok := s.AddReminder(ctx, event("ev1", "周会", "2026-03-01T12:00:00"), 15)
	require.True(t, ok)
	assert.NotEqual(t, r.ID, r2.ID)
	assert.Equal(t, 2, s.GetStatus().Pending)
}

func TestAddReminder_RejectsElapsedWindows(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	ctx := context.Background()

	// Start is in the future but start-15m already passed.
	_, ok := s.AddReminder(ctx, event("a", "x", "2026-03-01T10:10:00"), 15)
	assert.False(t, ok)

	// At-start reminder for an event that already started.
	_, ok = s.AddReminder(ctx, event("b", "x", "2026-03-01T09:59:00"), 0)
	assert.False(t, ok)

	// No start at all.
	_, ok = s.AddReminder(ctx, event("c", "x", ""), 15)
	assert.False(t, ok)

	// Unreadable start.
	_, ok = s.AddReminder(ctx, event("d", "x", "tomorrow-ish"), 15)
	assert.False(t, ok)

	assert.Equal(t, 0, s.GetStatus().Pending)

	// At-start reminder for a future event is fine.
	r, ok := s.AddReminder(ctx, event("e", "x", "2026-03-01T10:01:00"), 0)
	require.True(t, ok)
	assert.True(t, r.ReminderTime.Equal(r.EventTime))
}

func TestAddReminder_NegativeMinutesUsesEventSetting(t *testing.T) {
	s, _ := newTestScheduler(t, nil)

	ev := event("ev", "x", "2026-03-01T12:00:00")
	ev.ReminderMinutes = 30
	r, ok := s.AddReminder(context.Background(), ev, -1)
	require.True(t, ok)
	assert.Equal(t, 30, r.MinutesBefore)
}

func TestCheckReminders_FiresOnce(t *testing.T) {
	s, clock := newTestScheduler(t, nil)
	sink := &recordingSink{}
	ctx := context.Background()
	s.sink = sink

	_, ok := s.AddReminder(ctx, event("ev1", "周会", "2026-03-01T12:00:00"), 15)
	require.True(t, ok)

	clock.Set(time.Date(2026, 3, 1, 11, 44, 59, 0, cst))
	assert.Equal(t, 0, s.CheckReminders(ctx), "must not fire early")
	assert.Equal(t, 0, sink.count())

	clock.Set(time.Date(2026, 3, 1, 11, 45, 0, 0, cst))
	assert.Equal(t, 1, s.CheckReminders(ctx))
	require.Equal(t, 1, sink.count())
	assert.Equal(t, "👥 周会", sink.sent[0].title)
	assert.Equal(t, "周会 将在 15分钟 后开始", sink.sent[0].message)
	assert.Equal(t, SoundDefault, sink.sent[0].opts.SoundType)

	clock.Advance(time.Hour)
	assert.Equal(t, 0, s.CheckReminders(ctx))
	assert.Equal(t, 1, sink.count())

	st := s.GetStatus()
	assert.Equal(t, 0, st.Pending)
	assert.Equal(t, 1, st.History)
	require.NotNil(t, st.LastCheckAt)

	all := s.GetAllReminders(0)
	require.Len(t, all, 1)
	assert.True(t, all[0].Notified)
	require.NotNil(t, all[0].NotifiedAt)
}

func TestCheckReminders_WithoutSinkDropsReminder(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, clock := newTestScheduler(t, nil)
	s.metrics = metrics.MustNew(reg)
	ctx := context.Background()

	_, ok := s.AddReminder(ctx, event("ev1", "x", "2026-03-01T12:00:00"), 15)
	require.True(t, ok)

	clock.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, cst))
	assert.Equal(t, 1, s.CheckReminders(ctx))
	assert.Equal(t, 0, s.GetStatus().Pending)
	assert.Equal(t, 1, s.GetStatus().History)

	// A sink registered later does not get the dropped reminder.
	sink := &recordingSink{}
	s.sink = sink
	assert.Equal(t, 0, s.CheckReminders(ctx))
	assert.Equal(t, 0, sink.count())

	n, err := testutil.GatherAndCount(reg, "smartcal_reminders_dropped_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCheckReminders_SinkErrorDoesNotRefire(t *testing.T) {
	s, clock := newTestScheduler(t, nil)
	sink := &recordingSink{err: errors.New("permission denied")}
	s.sink = sink
	ctx := context.Background()

	_, ok := s.AddReminder(ctx, event("ev1", "x", "2026-03-01T12:00:00"), 15)
	require.True(t, ok)

	clock.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, cst))
	s.CheckReminders(ctx)
	s.CheckReminders(ctx)
	assert.Equal(t, 1, sink.count())
}

func TestCheckReminders_SinkPanicIsContained(t *testing.T) {
	s, clock := newTestScheduler(t, nil)
	s.sink = SinkFunc(func(context.Context, string, string, NotificationOptions) error { panic("boom") })
	ctx := context.Background()

	_, ok := s.AddReminder(ctx, event("ev1", "x", "2026-03-01T12:00:00"), 15)
	require.True(t, ok)
	clock.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, cst))

	assert.NotPanics(t, func() { s.CheckReminders(ctx) })
	assert.Equal(t, 1, s.GetStatus().History)
}

func TestRemoveReminder(t *testing.T) {
	s, clock := newTestScheduler(t, nil)
	ctx := context.Background()

	_, _ = s.AddReminder(ctx, event("ev1", "x", "2026-03-01T10:30:00"), 15)
	_, _ = s.AddReminder(ctx, event("ev1", "x", "2026-03-01T12:00:00"), 15)
	keep, _ := s.AddReminder(ctx, event("ev2", "y", "2026-03-01T12:00:00"), 15)

	// Fire the first one so ev1 has history as well.
	clock.Set(time.Date(2026, 3, 1, 10, 20, 0, 0, cst))
	require.Equal(t, 1, s.CheckReminders(ctx))

	assert.Equal(t, 2, s.RemoveReminder(ctx, "ev1"))
	assert.Equal(t, 0, s.RemoveReminder(ctx, "ev1"))

	all := s.GetAllReminders(0)
	require.Len(t, all, 1)
	assert.Equal(t, keep.ID, all[0].ID)
}

func TestRemoveReminderByID(t *testing.T) {
	s, clock := newTestScheduler(t, nil)
	ctx := context.Background()

	a, _ := s.AddReminder(ctx, event("ev1", "x", "2026-03-01T10:30:00"), 15)
	b, _ := s.AddReminder(ctx, event("ev2", "y", "2026-03-01T12:00:00"), 15)

	clock.Set(time.Date(2026, 3, 1, 10, 20, 0, 0, cst))
	require.Equal(t, 1, s.CheckReminders(ctx))

	removed := s.RemoveReminderByID(ctx, a.ID)
	require.NotNil(t, removed)
	assert.True(t, removed.Notified, "historical entries are removable too")

	removed = s.RemoveReminderByID(ctx, b.ID)
	require.NotNil(t, removed)
	assert.Equal(t, "ev2", removed.EventID)

	assert.Nil(t, s.RemoveReminderByID(ctx, "missing"))
	assert.Empty(t, s.GetAllReminders(0))
}

func TestUpdateReminder(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	ctx := context.Background()

	old, _ := s.AddReminder(ctx, event("ev1", "x", "2026-03-01T12:00:00"), 15)

	moved := event("ev1", "x moved", "2026-03-01T15:00:00")
	r, ok := s.UpdateReminder(ctx, moved, 30)
	require.True(t, ok)
	assert.NotEqual(t, old.ID, r.ID)
	assert.True(t, r.ReminderTime.Equal(time.Date(2026, 3, 1, 14, 30, 0, 0, cst)))

	up := s.GetUpcomingReminders(0)
	require.Len(t, up, 1)
	assert.Equal(t, "x moved", up[0].EventTitle)

	// Updating to a time already in the past only removes.
	_, ok = s.UpdateReminder(ctx, event("ev1", "x", "2026-03-01T09:00:00"), 15)
	assert.False(t, ok)
	assert.Empty(t, s.GetUpcomingReminders(0))
}

func TestGetUpcomingReminders(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	ctx := context.Background()

	_, _ = s.AddReminder(ctx, event("late", "晚", "2026-03-03T12:30:00"), 15)
	_, _ = s.AddReminder(ctx, event("soon", "早", "2026-03-01T10:20:00"), 5)
	_, _ = s.AddReminder(ctx, event("mid", "中", "2026-03-01T12:30:00"), 15)

	up := s.GetUpcomingReminders(0)
	require.Len(t, up, 3)
	assert.Equal(t, "soon", up[0].EventID)
	assert.Equal(t, "mid", up[1].EventID)
	assert.Equal(t, "late", up[2].EventID)

	assert.True(t, up[0].ExpiringSoon)
	assert.Equal(t, "20分钟", up[0].TimeUntil)
	assert.False(t, up[1].ExpiringSoon)
	assert.Equal(t, "2小时30分钟", up[1].TimeUntil)
	assert.Equal(t, "2天2小时", up[2].TimeUntil)

	assert.Len(t, s.GetUpcomingReminders(2), 2)
}

func TestCleanupExpiredReminders(t *testing.T) {
	s, clock := newTestScheduler(t, nil)
	ctx := context.Background()

	stale, _ := s.AddReminder(ctx, event("stale", "x", "2026-03-01T11:00:00"), 15)
	fresh, _ := s.AddReminder(ctx, event("fresh", "y", "2026-03-01T13:00:00"), 0)
	fired, _ := s.AddReminder(ctx, event("fired", "z", "2026-03-01T10:30:00"), 15)

	clock.Set(time.Date(2026, 3, 1, 10, 15, 0, 0, cst))
	require.Equal(t, 1, s.CheckReminders(ctx))

	// Skip ahead without checking: "stale" was never fired and its event
	// is now more than an hour past.
	clock.Set(time.Date(2026, 3, 1, 12, 30, 0, 0, cst))
	res := s.CleanupExpiredReminders(ctx)
	assert.Equal(t, CleanupResult{Pending: 1, History: 0}, res)

	ids := map[string]bool{}
	for _, r := range s.GetAllReminders(0) {
		ids[r.ID] = true
	}
	assert.False(t, ids[stale.ID])
	assert.True(t, ids[fresh.ID])
	assert.True(t, ids[fired.ID])

	clock.Advance(8 * 24 * time.Hour)
	res = s.CleanupExpiredReminders(ctx)
	assert.Equal(t, CleanupResult{Pending: 1, History: 1}, res)
	assert.Empty(t, s.GetAllReminders(0))
}

func TestRescheduleAll(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	ctx := context.Background()

	_, _ = s.AddReminder(ctx, event("old", "x", "2026-03-01T12:00:00"), 15)

	disabled := event("off", "x", "2026-03-01T12:00:00")
	disabled.EnableReminder = false
	own := event("own", "y", "2026-03-01T12:00:00")
	own.ReminderMinutes = 45

	n := s.RescheduleAll(ctx, []model.Event{
		event("a", "a", "2026-03-01T12:00:00"),
		disabled,
		own,
		event("past", "p", "2026-03-01T09:00:00"),
		event("nostart", "n", ""),
	}, -1)
	assert.Equal(t, 2, n)

	up := s.GetUpcomingReminders(0)
	require.Len(t, up, 2)
	assert.Equal(t, "own", up[0].EventID)
	assert.Equal(t, 45, up[0].MinutesBefore)
	assert.Equal(t, "a", up[1].EventID)

	assert.Equal(t, 1, s.RescheduleAll(ctx, []model.Event{event("b", "b", "2026-03-01T12:00:00")}, 5))
	up = s.GetUpcomingReminders(0)
	require.Len(t, up, 1)
	assert.Equal(t, 5, up[0].MinutesBefore)
}

func TestSnooze(t *testing.T) {
	s, clock := newTestScheduler(t, nil)
	sink := &recordingSink{}
	s.sink = sink
	ctx := context.Background()

	r, _ := s.AddReminder(ctx, event("ev1", "x", "2026-03-01T12:00:00"), 30)
	clock.Set(time.Date(2026, 3, 1, 11, 30, 0, 0, cst))
	require.Equal(t, 1, s.CheckReminders(ctx))

	next, err := s.Snooze(ctx, r.ID, 10)
	require.NoError(t, err)
	assert.NotEqual(t, r.ID, next.ID)
	assert.True(t, next.ReminderTime.Equal(time.Date(2026, 3, 1, 11, 40, 0, 0, cst)))
	assert.Equal(t, 20, next.MinutesBefore)
	assert.False(t, next.Notified)

	clock.Advance(10 * time.Minute)
	require.Equal(t, 1, s.CheckReminders(ctx))
	require.Equal(t, 2, sink.count())
	assert.Equal(t, "x 将在 20分钟 后开始", sink.sent[1].message)

	_, err = s.Snooze(ctx, "missing", 10)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Snooze(ctx, r.ID, 0)
	assert.ErrorIs(t, err, ErrInvalidMinutes)
}

func TestPersistence_RoundTrip(t *testing.T) {
	kv := store.NewMemory()
	ctx := context.Background()

	s1, clock := newTestScheduler(t, kv)
	a, _ := s1.AddReminder(ctx, event("a", "a", "2026-03-01T12:00:00"), 15)
	b, _ := s1.AddReminder(ctx, event("b", "b", "2026-03-01T13:00:00"), 0)
	require.NoError(t, s1.Flush(ctx))

	raw, err := kv.Load(ctx, SnapshotKey)
	require.NoError(t, err)
	snap, err := decodeSnapshot(raw)
	require.NoError(t, err)
	assert.Equal(t, snapshotVersion, snap.Version)
	require.Len(t, snap.Reminders, 2)
	assert.Equal(t, a.ID, snap.Reminders[0].ID)

	// "a" is past due by the time the second process starts.
	clock.Set(time.Date(2026, 3, 1, 11, 50, 0, 0, cst))
	s2 := New(Options{Location: cst, Store: kv})
	s2.now = clock.Now
	t.Cleanup(s2.Stop)

	sink := &recordingSink{}
	require.NoError(t, s2.Initialize(ctx, sink))
	assert.Equal(t, 0, sink.count(), "past-due reminders are discarded, not fired")

	up := s2.GetUpcomingReminders(0)
	require.Len(t, up, 1)
	assert.Equal(t, b.ID, up[0].ID)
	assert.True(t, up[0].ReminderTime.Equal(b.ReminderTime))
	assert.True(t, s2.GetStatus().Running)
}

func TestPersistence_HistorySurvivesRestart(t *testing.T) {
	kv := store.NewMemory()
	ctx := context.Background()

	s1, clock := newTestScheduler(t, kv)
	r, _ := s1.AddReminder(ctx, event("a", "a", "2026-03-01T10:30:00"), 15)
	clock.Set(time.Date(2026, 3, 1, 10, 16, 0, 0, cst))
	require.Equal(t, 1, s1.CheckReminders(ctx))
	require.NoError(t, s1.Flush(ctx))

	s2 := New(Options{Location: cst, Store: kv})
	s2.now = clock.Now
	t.Cleanup(s2.Stop)
	require.NoError(t, s2.Initialize(ctx, nil))

	all := s2.GetAllReminders(0)
	require.Len(t, all, 1)
	assert.Equal(t, r.ID, all[0].ID)
	assert.True(t, all[0].Notified)
}

func TestInitialize_UnreadableSnapshots(t *testing.T) {
	ctx := context.Background()
	cases := map[string]string{
		"corrupt":        "{not json",
		"future version": `{"version": 99, "reminders": [{"id": "x"}]}`,
		"wrong type":     `"hello"`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			kv := store.NewMemory()
			require.NoError(t, kv.Save(ctx, SnapshotKey, raw))

			s, _ := newTestScheduler(t, kv)
			require.NoError(t, s.Initialize(ctx, nil))
			assert.Equal(t, 0, s.GetStatus().Pending)
			assert.True(t, s.GetStatus().Running)
		})
	}
}

func TestInitialize_LegacyArraySnapshot(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	legacy := `[
	  {"id":"x_1_1","eventId":"x","eventTitle":"旧提醒","eventTime":"2026-03-01T13:00:00+08:00",
	   "reminderTime":"2026-03-01T12:45:00+08:00","minutesBefore":15,"type":"task","priority":"low",
	   "enableNotification":true,"enableSound":true,"notified":false,"createdAt":"2026-03-01T09:00:00+08:00"},
	  {"id":"y_1_2","eventId":"y","eventTitle":"已提醒","eventTime":"2026-03-01T13:00:00+08:00",
	   "reminderTime":"2026-03-01T12:45:00+08:00","minutesBefore":15,"notified":true}
	]`
	require.NoError(t, kv.Save(ctx, SnapshotKey, legacy))

	s, _ := newTestScheduler(t, kv)
	require.NoError(t, s.Initialize(ctx, nil))

	up := s.GetUpcomingReminders(0)
	require.Len(t, up, 1)
	assert.Equal(t, "x_1_1", up[0].ID)
	assert.Equal(t, model.TypeTask, up[0].Type)
}

func TestPersistenceFailuresAreSwallowed(t *testing.T) {
	s, _ := newTestScheduler(t, failingKV{})
	ctx := context.Background()

	require.NoError(t, s.Initialize(ctx, nil))
	_, ok := s.AddReminder(ctx, event("a", "a", "2026-03-01T12:00:00"), 15)
	assert.True(t, ok)
	assert.Equal(t, 1, s.GetStatus().Pending)
}

func TestInitialize_InvalidCleanupSchedule(t *testing.T) {
	s := New(Options{Location: cst, CleanupSchedule: "every so often"})
	t.Cleanup(s.Stop)
	assert.Error(t, s.Initialize(context.Background(), nil))
	assert.False(t, s.GetStatus().Running)
}

func TestStop_SafeInAnyState(t *testing.T) {
	s := New(Options{})
	assert.NotPanics(t, s.Stop)
	assert.NotPanics(t, s.Stop)

	s2, _ := newTestScheduler(t, nil)
	_, _ = s2.AddReminder(context.Background(), event("a", "a", "2026-03-01T12:00:00"), 15)
	require.NoError(t, s2.Initialize(context.Background(), nil))
	s2.Stop()
	assert.False(t, s2.GetStatus().Running)
	assert.Equal(t, 0, s2.GetStatus().Pending)
	s2.Stop()

	// A stopped scheduler can be started again.
	require.NoError(t, s2.Initialize(context.Background(), nil))
	assert.True(t, s2.GetStatus().Running)
}

func TestConcurrentMutationsAndChecks(t *testing.T) {
	s, clock := newTestScheduler(t, store.NewMemory())
	sink := &recordingSink{}
	s.sink = sink
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				_, _ = s.AddReminder(ctx, event("ev", "x", "2026-03-01T10:30:00"), 15)
				s.CheckReminders(ctx)
			}
		}()
	}
	wg.Wait()

	clock.Set(time.Date(2026, 3, 1, 10, 15, 0, 0, cst))
	s.CheckReminders(ctx)
	assert.Equal(t, 200, sink.count())
	assert.Equal(t, 0, s.GetStatus().Pending)
}

func TestCheckReminders_NotHeldUpBySlowStore(t *testing.T) {
	kv := &blockingKV{release: make(chan struct{})}
	s, clock := newTestScheduler(t, kv)
	release := sync.OnceFunc(func() { close(kv.release) })
	t.Cleanup(release)

	sink := &recordingSink{}
	s.sink = sink
	ctx := context.Background()

	_, ok := s.AddReminder(ctx, event("a", "a", "2026-03-01T10:30:00"), 15)
	require.True(t, ok)
	_, ok = s.AddReminder(ctx, event("b", "b", "2026-03-01T11:00:00"), 15)
	require.True(t, ok)

	check := func(at time.Time) int {
		clock.Set(at)
		done := make(chan int, 1)
		go func() { done <- s.CheckReminders(ctx) }()
		select {
		case n := <-done:
			return n
		case <-time.After(2 * time.Second):
			t.Fatal("CheckReminders blocked on a stalled snapshot write")
			return 0
		}
	}
	assert.Equal(t, 1, check(time.Date(2026, 3, 1, 10, 16, 0, 0, cst)))
	assert.Equal(t, 1, check(time.Date(2026, 3, 1, 10, 46, 0, 0, cst)))
	assert.Equal(t, 2, sink.count())

	release()
	require.NoError(t, s.Flush(ctx))

	kv.mu.Lock()
	saves, last := kv.saves, kv.last
	kv.mu.Unlock()
	assert.LessOrEqual(t, saves, 2, "superseded snapshots are skipped")

	snap, err := decodeSnapshot(last)
	require.NoError(t, err)
	assert.Empty(t, snap.Reminders)
	assert.Len(t, snap.History, 2)
}

func TestSaveTimeoutBoundsStalledWrites(t *testing.T) {
	kv := &blockingKV{release: make(chan struct{})}
	s := New(Options{Location: cst, Store: kv, SaveTimeout: 50 * time.Millisecond})
	s.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, cst) }
	t.Cleanup(s.Stop)

	_, ok := s.AddReminder(context.Background(), event("a", "a", "2026-03-01T12:00:00"), 15)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Flush(ctx))
	assert.Equal(t, 1, s.GetStatus().Pending)
}

func TestEnableReminderGate(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	ctx := context.Background()

	off := event("ev1", "x", "2026-03-01T12:00:00")
	off.EnableReminder = false

	_, ok := s.AddReminder(ctx, off, 15)
	assert.False(t, ok)
	assert.Equal(t, 0, s.GetStatus().Pending)

	_, ok = s.AddReminder(ctx, event("ev1", "x", "2026-03-01T12:00:00"), 15)
	require.True(t, ok)

	// Switching the reminder off through an update only removes.
	_, ok = s.UpdateReminder(ctx, off, 15)
	assert.False(t, ok)
	assert.Equal(t, 0, s.GetStatus().Pending)
	assert.Empty(t, s.GetAllReminders(0))

	assert.Equal(t, 0, s.RescheduleAll(ctx, []model.Event{off}, 15))
}
