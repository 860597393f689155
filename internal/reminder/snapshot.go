package reminder

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SnapshotKey is the key-value store key holding the scheduler snapshot.
const SnapshotKey = "smartcal.reminders"

const snapshotVersion = 1

var errFutureSnapshot = errors.New("snapshot written by a newer version")

// snapshot is the persisted form of the scheduler state. Version 0 is the
// legacy layout: a bare JSON array of pending reminders.
type snapshot struct {
	Version   int        `json:"version"`
	SavedAt   time.Time  `json:"saved_at"`
	Reminders []Reminder `json:"reminders"`
	History   []Reminder `json:"history"`
}

func encodeSnapshot(s snapshot) (string, error) {
	s.Version = snapshotVersion
	if s.Reminders == nil {
		s.Reminders = []Reminder{}
	}
	if s.History == nil {
		s.History = []Reminder{}
	}
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	return string(b), nil
}

func decodeSnapshot(raw string) (snapshot, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return snapshot{}, nil
	}

	if strings.HasPrefix(raw, "[") {
		var legacy []Reminder
		if err := json.Unmarshal([]byte(raw), &legacy); err != nil {
			return snapshot{}, fmt.Errorf("decode legacy snapshot: %w", err)
		}
		return snapshot{Version: 0, Reminders: legacy}, nil
	}

	var s snapshot
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if s.Version > snapshotVersion {
		return snapshot{}, fmt.Errorf("%w: version %d", errFutureSnapshot, s.Version)
	}
	return s, nil
}
