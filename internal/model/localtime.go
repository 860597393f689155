package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// LocalLayout is the wire format for Event.StartDate / Event.EndDate.
	LocalLayout = "2006-01-02T15:04:05"
	// DateLayout is the calendar date format produced by date recognition.
	DateLayout = "2006-01-02"
)

var ErrEmptyTimestamp = errors.New("empty timestamp")

// acceptedLayouts are tried in order by ParseLocal for offset-less input.
var acceptedLayouts = []string{
	LocalLayout,
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	DateLayout,
}

// FormatLocal renders t's own clock fields in LocalLayout. No zone
// conversion happens; callers pick the zone before formatting.
func FormatLocal(t time.Time) string {
	return t.Format(LocalLayout)
}

// ParseLocal interprets s as wall-clock time in loc. Offset-carrying input
// (RFC 3339) is accepted and converted into loc so that mixed upstream data
// still lands on the same clock.
func ParseLocal(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrEmptyTimestamp
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range acceptedLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.In(loc), nil
	}
	return time.Time{}, fmt.Errorf("parse local timestamp %q: unsupported format", s)
}

// civil reads s as a zone-free clock. UTC is used as the carrier zone because
// it has no DST transitions, so minute arithmetic never skips or repeats a
// wall-clock hour.
func civil(s string) (time.Time, error) {
	return ParseLocal(s, time.UTC)
}

// AddMinutes adds minutes to a LocalLayout timestamp using field arithmetic,
// rolling over day, month and year boundaries.
func AddMinutes(local string, minutes int) (string, error) {
	t, err := civil(local)
	if err != nil {
		return "", err
	}
	return FormatLocal(t.Add(time.Duration(minutes) * time.Minute)), nil
}

// CompareLocal orders two LocalLayout timestamps: -1, 0 or 1.
func CompareLocal(a, b string) (int, error) {
	ta, err := civil(a)
	if err != nil {
		return 0, err
	}
	tb, err := civil(b)
	if err != nil {
		return 0, err
	}
	return ta.Compare(tb), nil
}
