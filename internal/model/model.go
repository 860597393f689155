package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType classifies an event. Values are stable and appear in JSON.
type EventType string

const (
	TypeMeeting     EventType = "meeting"
	TypeAppointment EventType = "appointment"
	TypeTask        EventType = "task"
	TypeReminder    EventType = "reminder"
	TypePersonal    EventType = "personal"
	TypeHealth      EventType = "health"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case TypeMeeting, TypeAppointment, TypeTask, TypeReminder, TypePersonal, TypeHealth:
		return true
	}
	return false
}

// ParseEventType normalizes s, falling back to TypePersonal.
func ParseEventType(s string) EventType {
	t := EventType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return TypePersonal
	}
	return t
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// ParsePriority normalizes s, falling back to PriorityLow.
func ParsePriority(s string) Priority {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return PriorityLow
	}
	return p
}

// Event is a calendar item as produced by the extractor and consumed by the
// reminder scheduler.
//
// StartDate and EndDate are wall-clock timestamps in LocalLayout without any
// offset. The numbers written are the numbers the user meant; they are only
// bound to a zone when a scheduler turns them into instants.
type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	StartDate   string    `json:"startDate"`
	EndDate     string    `json:"endDate"`
	Description string    `json:"description"`
	Priority    Priority  `json:"priority"`
	Type        EventType `json:"type"`

	// ReminderMinutes is how long before StartDate the reminder fires.
	// Zero means at start time.
	ReminderMinutes int  `json:"reminderMinutes"`
	EnableReminder  bool `json:"enableReminder"`

	// Bookkeeping only; not calendar-semantic.
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewID returns a fresh opaque event identifier.
func NewID() string {
	return uuid.NewString()
}

// HasStart reports whether the event carries a start timestamp at all.
func (e Event) HasStart() bool {
	return strings.TrimSpace(e.StartDate) != ""
}

// StartIn binds StartDate to loc.
func (e Event) StartIn(loc *time.Location) (time.Time, error) {
	return ParseLocal(e.StartDate, loc)
}
