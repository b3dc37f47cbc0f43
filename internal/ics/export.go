package ics

import (
	"strconv"
	"time"

	ical "github.com/arran4/golang-ical"

	"eventhub/internal/model"
)

const defaultEventDuration = time.Hour

// ExportOptions tunes the generated calendar.
type ExportOptions struct {
	// Name is written as X-WR-CALNAME when set.
	Name string
	// Duration is the length given to each event, which only has a start
	// instant. Zero means one hour.
	Duration time.Duration
	// Stamp is the DTSTAMP of every entry; zero uses the event start.
	Stamp time.Time
}

// Export renders events as a VCALENDAR. Events without a valid time are
// skipped since DTSTART is mandatory. Order is preserved.
func Export(events []model.Event, opts ExportOptions) string {
	if opts.Duration <= 0 {
		opts.Duration = defaultEventDuration
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//eventhub//events//EN")
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}

	for _, ev := range events {
		if !ev.HasValidTime() {
			continue
		}
		start := ev.OccursAt.UTC()

		ve := cal.AddEvent(ev.ID)
		stamp := opts.Stamp
		if stamp.IsZero() {
			stamp = start
		}
		ve.SetDtStampTime(stamp.UTC())
		ve.SetStartAt(start)
		ve.SetEndAt(start.Add(opts.Duration))
		ve.SetSummary(ev.Title)
		if ev.Location != "" {
			ve.SetLocation(ev.Location)
		}
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		if ev.OrganizerName != "" {
			ve.SetOrganizer("mailto:noreply@eventhub.invalid", ical.WithCN(ev.OrganizerName))
		}
		ve.SetProperty(ical.ComponentProperty(propAttendeeCount), strconv.Itoa(ev.AttendeeCount))
	}

	return cal.Serialize()
}
