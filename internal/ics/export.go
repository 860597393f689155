package ics

import (
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "smartcal/internal/log"
	"smartcal/internal/model"
)

const icalLocalLayout = "20060102T150405"

// Export renders events as a text/calendar document. Wall-clock times are
// written with a TZID for loc; events with a reminder get a DISPLAY VALARM.
// Events without a readable start are skipped.
func Export(events []model.Event, loc *time.Location, calName string) string {
	if loc == nil {
		loc = time.Local
	}

	cal := ical.NewCalendarFor("smartcal")
	cal.SetMethod(ical.MethodPublish)
	if calName != "" {
		cal.SetXWRCalName(calName)
	}
	tzid := tzidFor(loc)
	if tzid != "" {
		cal.SetXWRTimezone(tzid)
	}

	stamp := time.Now()
	exported := 0
	for _, ev := range events {
		start, err := ev.StartIn(loc)
		if err != nil {
			appLog.Warn("export: skipping event without readable start", "id", ev.ID, "start", ev.StartDate, "err", err)
			continue
		}
		end, err := model.ParseLocal(ev.EndDate, loc)
		if err != nil || !end.After(start) {
			end = start.Add(defaultDuration)
		}

		id := ev.ID
		if id == "" {
			id = model.NewID()
		}
		vev := cal.AddEvent(id)
		vev.SetDtStampTime(stamp)
		if !ev.CreatedAt.IsZero() {
			vev.SetCreatedTime(ev.CreatedAt)
		}
		if !ev.UpdatedAt.IsZero() {
			vev.SetModifiedAt(ev.UpdatedAt)
		}
		setTime(vev, ical.ComponentPropertyDtStart, start, tzid)
		setTime(vev, ical.ComponentPropertyDtEnd, end, tzid)

		vev.SetSummary(ev.Title)
		if ev.Description != "" {
			vev.SetDescription(ev.Description)
		}
		if ev.Type.Valid() {
			vev.AddCategory(string(ev.Type))
		}
		vev.SetPriority(priorityToICS(ev.Priority))

		if ev.EnableReminder {
			alarm := vev.AddAlarm()
			alarm.SetAction(ical.ActionDisplay)
			alarm.SetTrigger(fmt.Sprintf("-PT%dM", max(0, ev.ReminderMinutes)))
			alarm.SetProperty(ical.ComponentPropertyDescription, ev.Title)
		}
		exported++
	}

	appLog.Debug("ics export completed", "events", exported, "skipped", len(events)-exported)
	return cal.Serialize()
}

// tzidFor returns an IANA name usable as TZID, or "" when loc has none.
func tzidFor(loc *time.Location) string {
	switch name := loc.String(); name {
	case "", "Local", "UTC":
		return ""
	default:
		return name
	}
}

func setTime(vev *ical.VEvent, prop ical.ComponentProperty, t time.Time, tzid string) {
	if tzid == "" {
		vev.SetProperty(prop, t.UTC().Format(icalLocalLayout+"Z"))
		return
	}
	vev.SetProperty(prop, t.Format(icalLocalLayout), ical.WithTZID(tzid))
}
