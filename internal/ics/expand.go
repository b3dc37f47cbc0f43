package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "eventhub/internal/log"
	"eventhub/internal/model"
)

const defaultMaxOccurrencesPerEvent = 1000

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// SourceID prefixes generated event IDs.
	SourceID string

	// DisplayLocation is the timezone occurrences are converted to.
	// If nil, time.Local is used.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd bound recurring occurrences (inclusive).
	// Non-recurring events are always kept, even outside the window, so that
	// the filter engine sees the whole feed.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps a single RRULE. Zero means the default.
	MaxOccurrencesPerEvent int
}

// ExpandResult wraps the expanded events and the UIDs that hit the cap.
type ExpandResult struct {
	Events          []model.Event
	TruncatedEvents []string
}

// Expand turns parsed VEVENTs into concrete events. It handles single
// events, RRULE recurrence, EXDATE removal and RECURRENCE-ID overrides.
// Output order follows the feed; callers sort through the filter engine.
func Expand(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	overridesByUID := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		}
	}

	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			continue
		}

		if ev.RawRRule == "" || ev.Start.IsZero() {
			out = append(out, toEvent(ev, ev.UID, ev.Start, cfg))
			continue
		}

		occ, hitCap := expandRecurring(ev, overridesByUID[ev.UID], cfg)
		out = append(out, occ...)
		if hitCap {
			result.TruncatedEvents = append(result.TruncatedEvents, ev.UID)
		}
	}

	result.Events = out
	return result, nil
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Event, bool) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		// Keep the first instance rather than dropping the event.
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return []model.Event{toEvent(ev, ev.UID, ev.Start, cfg)}, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	loc := ev.Start.Location()
	starts := set.Between(cfg.RangeStart.In(loc), cfg.RangeEnd.In(loc), true)

	hitCap := false
	if len(starts) > cfg.MaxOccurrencesPerEvent {
		starts = starts[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	out := make([]model.Event, 0, len(starts))
	for _, start := range starts {
		base := ev
		at := start
		if o, ok := findOverride(overrides, start); ok {
			base = o
			at = o.Start
		}
		id := ev.UID + "@" + start.UTC().Format("20060102T150405Z")
		out = append(out, toEvent(base, id, at, cfg))
	}
	return out, hitCap
}

// findOverride finds the override whose RECURRENCE-ID equals start.
func findOverride(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence == nil {
			continue
		}
		if ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

func toEvent(ev ParsedEvent, id string, start time.Time, cfg ExpandConfig) model.Event {
	if cfg.SourceID != "" {
		id = cfg.SourceID + ":" + id
	}
	out := model.Event{
		ID:            id,
		Title:         ev.Summary,
		OrganizerName: ev.Organizer,
		Location:      ev.Location,
		Description:   ev.Description,
		AttendeeCount: ev.AttendeeCount,
	}
	switch {
	case start.IsZero():
	case ev.AllDay:
		// A DATE value names a calendar day, not an instant.
		y, m, d := start.Date()
		out.OccursAt = time.Date(y, m, d, 0, 0, 0, 0, cfg.DisplayLocation)
	default:
		out.OccursAt = start.In(cfg.DisplayLocation)
	}
	return out
}
