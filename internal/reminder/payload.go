package reminder

import (
	"fmt"
	"time"

	"smartcal/internal/model"
)

const (
	SoundUrgent  = "urgent"
	SoundDefault = "default"
	SoundGentle  = "gentle"

	ActionView   = "view"
	ActionSnooze = "snooze"
)

var typeIcons = map[model.EventType]string{
	model.TypeMeeting:     "👥",
	model.TypeAppointment: "📅",
	model.TypeTask:        "📋",
	model.TypeReminder:    "⏰",
	model.TypePersonal:    "👤",
	model.TypeHealth:      "💊",
}

func iconFor(t model.EventType) string {
	if icon, ok := typeIcons[t]; ok {
		return icon
	}
	return "🔔"
}

func soundFor(p model.Priority) string {
	switch p {
	case model.PriorityHigh:
		return SoundUrgent
	case model.PriorityMedium:
		return SoundDefault
	default:
		return SoundGentle
	}
}

// formatDuration renders minutes as "N分钟" or "H小时[M分钟]".
func formatDuration(minutes int) string {
	if minutes < 60 {
		return fmt.Sprintf("%d分钟", minutes)
	}
	h, m := minutes/60, minutes%60
	if m == 0 {
		return fmt.Sprintf("%d小时", h)
	}
	return fmt.Sprintf("%d小时%d分钟", h, m)
}

// humanUntil renders the distance to an event for listings.
func humanUntil(d time.Duration) string {
	switch {
	case d < 0:
		return "已开始"
	case d < time.Minute:
		return "即将开始"
	case d < 24*time.Hour:
		return formatDuration(int(d / time.Minute))
	}
	days := int(d / (24 * time.Hour))
	hours := int((d % (24 * time.Hour)) / time.Hour)
	if hours == 0 {
		return fmt.Sprintf("%d天", days)
	}
	return fmt.Sprintf("%d天%d小时", days, hours)
}

// notificationFor derives what the sink shows for r.
func notificationFor(r Reminder) (title, message string, opts NotificationOptions) {
	title = iconFor(r.Type) + " " + r.EventTitle
	if r.MinutesBefore <= 0 {
		message = r.EventTitle + " 即将开始"
	} else {
		message = fmt.Sprintf("%s 将在 %s 后开始", r.EventTitle, formatDuration(r.MinutesBefore))
	}

	opts = NotificationOptions{
		Tag:                "reminder-" + r.ID,
		RequireInteraction: r.Priority == model.PriorityHigh,
		EnableNotification: r.EnableNotification,
		EnableSound:        r.EnableSound,
		SoundType:          soundFor(r.Priority),
		Actions: []Action{
			{Action: ActionView, Title: "查看"},
			{Action: ActionSnooze, Title: "稍后提醒"},
		},
		Data: NotificationData{
			ReminderID: r.ID,
			EventID:    r.EventID,
			EventTime:  r.EventTime,
			Type:       r.Type,
			Priority:   r.Priority,
		},
	}
	return title, message, opts
}
