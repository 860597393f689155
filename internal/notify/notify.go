// Package notify provides reminder.Sink implementations.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	appLog "smartcal/internal/log"
	"smartcal/internal/reminder"
)

// LogSink writes every notification to the application log.
type LogSink struct{}

func (LogSink) Send(_ context.Context, title, message string, opts reminder.NotificationOptions) error {
	appLog.Info("notification",
		"title", title,
		"message", message,
		"reminder_id", opts.Data.ReminderID,
		"sound", opts.SoundType,
	)
	return nil
}

// Notification is a delivered reminder held by an Inbox.
type Notification struct {
	Title     string                       `json:"title"`
	Message   string                       `json:"message"`
	Options   reminder.NotificationOptions `json:"options"`
	CreatedAt time.Time                    `json:"createdAt"`
}

const DefaultInboxSize = 100

// Inbox keeps the most recent notifications until a client drains them.
// When full, the oldest entry is discarded.
type Inbox struct {
	mu    sync.Mutex
	items []Notification
	size  int
	now   func() time.Time
}

func NewInbox(size int) *Inbox {
	if size <= 0 {
		size = DefaultInboxSize
	}
	return &Inbox{size: size, now: time.Now}
}

func (b *Inbox) Send(_ context.Context, title, message string, opts reminder.NotificationOptions) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.items) >= b.size {
		dropped := len(b.items) - b.size + 1
		appLog.Warn("inbox full, dropping oldest notifications", "dropped", dropped)
		b.items = append(b.items[:0], b.items[dropped:]...)
	}
	b.items = append(b.items, Notification{
		Title:     title,
		Message:   message,
		Options:   opts,
		CreatedAt: b.now(),
	})
	return nil
}

// Drain returns all held notifications, oldest first, and empties the inbox.
func (b *Inbox) Drain() []Notification {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.items
	b.items = nil
	if out == nil {
		out = []Notification{}
	}
	return out
}

// Peek returns a copy of the held notifications without removing them.
func (b *Inbox) Peek() []Notification {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Notification, len(b.items))
	copy(out, b.items)
	return out
}

func (b *Inbox) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Multi fans a notification out to every sink. All sinks are tried; their
// errors are joined.
type Multi []reminder.Sink

func (m Multi) Send(ctx context.Context, title, message string, opts reminder.NotificationOptions) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Send(ctx, title, message, opts); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
