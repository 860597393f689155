package reminder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"smartcal/internal/model"
)

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0分钟", formatDuration(0))
	assert.Equal(t, "45分钟", formatDuration(45))
	assert.Equal(t, "1小时", formatDuration(60))
	assert.Equal(t, "1小时30分钟", formatDuration(90))
	assert.Equal(t, "24小时", formatDuration(1440))
}

func TestHumanUntil(t *testing.T) {
	assert.Equal(t, "已开始", humanUntil(-time.Minute))
	assert.Equal(t, "即将开始", humanUntil(30*time.Second))
	assert.Equal(t, "5分钟", humanUntil(5*time.Minute+20*time.Second))
	assert.Equal(t, "3天", humanUntil(72*time.Hour))
}

func TestNotificationFor(t *testing.T) {
	r := Reminder{
		ID:                 "ev_1_1",
		EventID:            "ev",
		EventTitle:         "复查",
		MinutesBefore:      0,
		Type:               model.TypeHealth,
		Priority:           model.PriorityHigh,
		EnableNotification: true,
		EnableSound:        true,
	}

	title, message, opts := notificationFor(r)
	assert.Equal(t, "💊 复查", title)
	assert.Equal(t, "复查 即将开始", message)
	assert.Equal(t, SoundUrgent, opts.SoundType)
	assert.True(t, opts.RequireInteraction)
	assert.Equal(t, "reminder-ev_1_1", opts.Tag)
	assert.Equal(t, "ev_1_1", opts.Data.ReminderID)
	assert.Equal(t, []Action{{ActionView, "查看"}, {ActionSnooze, "稍后提醒"}}, opts.Actions)

	r.MinutesBefore = 75
	r.Priority = model.PriorityLow
	r.Type = model.TypeTask
	title, message, opts = notificationFor(r)
	assert.Equal(t, "📋 复查", title)
	assert.Equal(t, "复查 将在 1小时15分钟 后开始", message)
	assert.Equal(t, SoundGentle, opts.SoundType)
	assert.False(t, opts.RequireInteraction)
}

func TestDecodeSnapshot(t *testing.T) {
	s, err := decodeSnapshot("")
	assert.NoError(t, err)
	assert.Empty(t, s.Reminders)

	s, err = decodeSnapshot(`[]`)
	assert.NoError(t, err)
	assert.Equal(t, 0, s.Version)

	raw, err := encodeSnapshot(snapshot{})
	assert.NoError(t, err)
	assert.JSONEq(t, `{"version":1,"saved_at":"0001-01-01T00:00:00Z","reminders":[],"history":[]}`, raw)

	_, err = decodeSnapshot(`{"version": 2}`)
	assert.ErrorIs(t, err, errFutureSnapshot)
}
