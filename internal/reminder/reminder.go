// Package reminder schedules one-shot notifications for calendar events.
//
// A Scheduler owns a pending set keyed by reminder ID and a bounded history
// of fired reminders. A cron-driven check moves due reminders from pending
// to history and hands them to a Sink exactly once.
package reminder

import (
	"context"
	"errors"
	"time"

	"smartcal/internal/model"
)

var (
	ErrNotFound       = errors.New("reminder not found")
	ErrInvalidMinutes = errors.New("minutes must be positive")
)

// Reminder is a single scheduled notification for an event.
type Reminder struct {
	ID                 string          `json:"id"`
	EventID            string          `json:"eventId"`
	EventTitle         string          `json:"eventTitle"`
	EventTime          time.Time       `json:"eventTime"`
	ReminderTime       time.Time       `json:"reminderTime"`
	MinutesBefore      int             `json:"minutesBefore"`
	Type               model.EventType `json:"type"`
	Priority           model.Priority  `json:"priority"`
	EnableNotification bool            `json:"enableNotification"`
	EnableSound        bool            `json:"enableSound"`
	Notified           bool            `json:"notified"`
	NotifiedAt         *time.Time      `json:"notifiedAt,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
}

// Upcoming is a pending reminder annotated for display.
type Upcoming struct {
	Reminder
	TimeUntil    string `json:"timeUntil"`
	ExpiringSoon bool   `json:"expiringSoon"`
}

// Status summarizes scheduler state.
type Status struct {
	Running              bool       `json:"running"`
	Pending              int        `json:"pending"`
	History              int        `json:"history"`
	HasSink              bool       `json:"hasSink"`
	CheckIntervalSeconds int        `json:"checkIntervalSeconds"`
	NextReminderAt       *time.Time `json:"nextReminderAt,omitempty"`
	LastCheckAt          *time.Time `json:"lastCheckAt,omitempty"`
}

// CleanupResult reports what CleanupExpiredReminders removed.
type CleanupResult struct {
	Pending int `json:"pending"`
	History int `json:"history"`
}

// Action is a button offered alongside a notification.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// NotificationData identifies the reminder behind a notification so that
// actions (snooze, view) can be routed back.
type NotificationData struct {
	ReminderID string          `json:"reminderId"`
	EventID    string          `json:"eventId"`
	EventTime  time.Time       `json:"eventTime"`
	Type       model.EventType `json:"type"`
	Priority   model.Priority  `json:"priority"`
}

// NotificationOptions carries presentation hints for a Sink.
type NotificationOptions struct {
	Tag                string           `json:"tag"`
	RequireInteraction bool             `json:"requireInteraction"`
	EnableNotification bool             `json:"enableNotification"`
	EnableSound        bool             `json:"enableSound"`
	SoundType          string           `json:"soundType"`
	Actions            []Action         `json:"actions"`
	Data               NotificationData `json:"data"`
}

// Sink delivers a fired reminder to the user.
type Sink interface {
	Send(ctx context.Context, title, message string, opts NotificationOptions) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, title, message string, opts NotificationOptions) error

func (f SinkFunc) Send(ctx context.Context, title, message string, opts NotificationOptions) error {
	return f(ctx, title, message, opts)
}
