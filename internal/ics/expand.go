package ics

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	appLog "smartcal/internal/log"
	"smartcal/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
	defaultDuration               = time.Hour
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// Location is the zone whose wall clock the resulting events carry.
	// If nil, time.Local is used.
	Location *time.Location

	// RangeStart / RangeEnd bound the occurrences, inclusive.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps a single RRULE. Zero means 5000.
	MaxOccurrencesPerEvent int

	// DefaultReminderMinutes applies to events without a VALARM.
	DefaultReminderMinutes int
}

// ExpandResult holds the expanded events, ordered by start.
type ExpandResult struct {
	Events []model.Event
	// TruncatedEvents records UIDs that hit MaxOccurrencesPerEvent.
	TruncatedEvents []string
}

// Expand turns parsed VEVENTs into concrete events within the range:
// single events, RRULE recurrences minus EXDATEs, RECURRENCE-ID overrides
// and all-day events. Cancelled events and instances are dropped.
func Expand(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)
	uids := make([]string, 0)
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
			continue
		}
		if _, seen := baseByUID[ev.UID]; !seen {
			uids = append(uids, ev.UID)
		}
		baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
	}

	out := make([]model.Event, 0)
	for _, uid := range uids {
		ov := overridesByUID[uid]
		truncated := false

		for _, ev := range baseByUID[uid] {
			var (
				expanded []model.Event
				hitCap   bool
			)
			if ev.RawRRule == "" {
				expanded = expandSingle(ev, ov, cfg)
			} else {
				expanded, hitCap = expandRecurring(ev, ov, cfg)
			}
			truncated = truncated || hitCap
			out = append(out, expanded...)
		}

		if truncated {
			result.TruncatedEvents = append(result.TruncatedEvents, uid)
			appLog.Warn("expand: truncated occurrences", "uid", uid, "cap", cfg.MaxOccurrencesPerEvent)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartDate < out[j].StartDate
	})
	result.Events = out
	return result, nil
}

func expandSingle(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []model.Event {
	if ev.Cancelled {
		return nil
	}
	start, end := ev.Start, ev.End
	if o, ok := findOverrideForStart(overrides, start); ok {
		if o.Cancelled {
			return nil
		}
		ev, start, end = o, o.Start, o.End
	}
	if !overlaps(start, end, cfg.RangeStart, cfg.RangeEnd) {
		return nil
	}
	return []model.Event{toEvent(ev, start, end, cfg)}
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Event, bool) {
	if ev.Cancelled {
		return nil, false
	}

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Widen the lower bound by the event length so occurrences already in
	// progress at RangeStart are kept.
	dur := ev.End.Sub(ev.Start)
	rangeStart := cfg.RangeStart.Add(-dur).In(ev.Start.Location())
	rangeEnd := cfg.RangeEnd.In(ev.Start.Location())

	starts := set.Between(rangeStart, rangeEnd, true)
	hitCap := false
	if len(starts) > cfg.MaxOccurrencesPerEvent {
		starts = starts[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	out := make([]model.Event, 0, len(starts))
	for _, occStart := range starts {
		var occEnd time.Time
		if ev.AllDay {
			occStart = time.Date(occStart.Year(), occStart.Month(), occStart.Day(), 0, 0, 0, 0, occStart.Location())
			occEnd = occStart.AddDate(0, 0, max(1, int(dur/(24*time.Hour))))
		} else {
			occEnd = occStart.Add(dur)
		}

		base, start, end := ev, occStart, occEnd
		if o, ok := findOverrideForStart(overrides, occStart); ok {
			if o.Cancelled {
				continue
			}
			base, start, end = o, o.Start, o.End
		}
		if !overlaps(start, end, cfg.RangeStart, cfg.RangeEnd) {
			continue
		}
		out = append(out, toEvent(base, start, end, cfg))
	}
	return out, hitCap
}

// findOverrideForStart finds the override whose RECURRENCE-ID is the same
// instant as start.
func findOverrideForStart(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

// toEvent renders one occurrence on cfg.Location's wall clock. All-day
// dates are already midnight in that zone and are kept as dates.
func toEvent(ev ParsedEvent, start, end time.Time, cfg ExpandConfig) model.Event {
	if !ev.AllDay {
		start, end = start.In(cfg.Location), end.In(cfg.Location)
		if !end.After(start) {
			end = start.Add(defaultDuration)
		}
	}

	title := ev.Summary
	if title == "" {
		title = "未命名事件"
	}
	desc := ev.Description
	if ev.Location != "" {
		desc = strings.TrimSpace(desc + "\n地点：" + ev.Location)
	}

	reminder := cfg.DefaultReminderMinutes
	if ev.AlarmMinutes != nil {
		reminder = *ev.AlarmMinutes
	}

	startLocal := model.FormatLocal(start)
	return model.Event{
		ID:              occurrenceID(ev, startLocal),
		Title:           title,
		StartDate:       startLocal,
		EndDate:         model.FormatLocal(end),
		Description:     desc,
		Priority:        priorityFromICS(ev.Priority),
		Type:            typeFromCategories(ev.Categories),
		ReminderMinutes: reminder,
		EnableReminder:  ev.AlarmMinutes != nil || !ev.AllDay,
	}
}

// occurrenceID is stable across syncs: the same source, UID and start
// always map to the same event ID.
func occurrenceID(ev ParsedEvent, startLocal string) string {
	name := ev.Source.ID + "\x00" + ev.UID + "\x00" + startLocal
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// priorityFromICS maps RFC 5545 PRIORITY (1 highest, 9 lowest).
func priorityFromICS(p int) model.Priority {
	switch {
	case p >= 1 && p <= 4:
		return model.PriorityHigh
	case p == 5:
		return model.PriorityMedium
	default:
		return model.PriorityLow
	}
}

// priorityToICS is the inverse used by Export.
func priorityToICS(p model.Priority) int {
	switch p {
	case model.PriorityHigh:
		return 1
	case model.PriorityMedium:
		return 5
	default:
		return 9
	}
}

func typeFromCategories(cats []string) model.EventType {
	for _, c := range cats {
		if t := model.EventType(strings.ToLower(c)); t.Valid() {
			return t
		}
	}
	return model.TypePersonal
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aEnd.Before(bStart) && !bEnd.Before(aStart)
}
