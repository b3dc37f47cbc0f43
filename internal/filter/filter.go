// Package filter selects and orders events of a snapshot by a title query
// and a named date bucket. It never reads the wall clock: every boundary is
// derived from the Now value of the query.
package filter

import (
	"errors"
	"slices"
	"strings"
	"time"

	"eventhub/internal/model"
)

// ErrInvalidArgument is returned when no snapshot is supplied.
var ErrInvalidArgument = errors.New("filter: snapshot is nil")

// Bucket names a date range relative to a reference instant.
type Bucket string

const (
	All          Bucket = "all"
	Today        Bucket = "today"
	CurrentWeek  Bucket = "current-week"
	LastWeek     Bucket = "last-week"
	CurrentMonth Bucket = "current-month"
	LastMonth    Bucket = "last-month"
)

// Buckets lists every supported bucket in display order.
var Buckets = []Bucket{All, Today, CurrentWeek, LastWeek, CurrentMonth, LastMonth}

// ParseBucket maps user input onto a Bucket. Anything unknown is All.
func ParseBucket(s string) Bucket {
	b := Bucket(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(Buckets, b) {
		return b
	}
	return All
}

// Range is an inclusive time window: both Start and End belong to it.
type Range struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t lies within r. The zero time is never inside.
func (r Range) Contains(t time.Time) bool {
	if t.IsZero() {
		return false
	}
	return !t.Before(r.Start) && !t.After(r.End)
}

// Query is the full input of one filter run besides the snapshot.
type Query struct {
	Text   string
	Bucket Bucket
	Now    time.Time
}

// Engine holds the calendar convention used for week buckets. The zero
// value opens weeks on Sunday.
type Engine struct {
	WeekStart time.Weekday
}

// Apply runs the zero Engine.
func Apply(snap *model.Snapshot, q Query) ([]model.Event, error) {
	return Engine{}.Apply(snap, q)
}

// Apply returns the events of snap whose title contains q.Text
// (case-insensitively) and whose OccursAt falls in q.Bucket, newest first.
// The snapshot is not modified; the result is always a new slice.
func (e Engine) Apply(snap *model.Snapshot, q Query) ([]model.Event, error) {
	if snap == nil {
		return nil, ErrInvalidArgument
	}

	needle := strings.ToLower(q.Text)
	window, bounded := e.Range(q.Bucket, q.Now)

	out := make([]model.Event, 0, len(snap.Events))
	for _, ev := range snap.Events {
		if needle != "" && !strings.Contains(strings.ToLower(ev.Title), needle) {
			continue
		}
		if bounded && !window.Contains(ev.OccursAt) {
			continue
		}
		out = append(out, ev)
	}

	Sort(out)
	return out, nil
}

// Range returns the inclusive window of b around now. The boolean is false
// for All (and anything unknown), which has no window.
func (e Engine) Range(b Bucket, now time.Time) (Range, bool) {
	day := startOfDay(now)

	switch ParseBucket(string(b)) {
	case Today:
		return dayRange(day, 1), true
	case CurrentWeek:
		return dayRange(e.startOfWeek(day), 7), true
	case LastWeek:
		return dayRange(e.startOfWeek(day).AddDate(0, 0, -7), 7), true
	case CurrentMonth:
		first := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, day.Location())
		return monthRange(first), true
	case LastMonth:
		first := time.Date(day.Year(), day.Month()-1, 1, 0, 0, 0, 0, day.Location())
		return monthRange(first), true
	default:
		return Range{}, false
	}
}

// Sort orders events by OccursAt descending. Events without a valid time go
// last; ties keep their input order.
func Sort(events []model.Event) {
	slices.SortStableFunc(events, func(a, b model.Event) int {
		av, bv := a.HasValidTime(), b.HasValidTime()
		switch {
		case !av && !bv:
			return 0
		case !av:
			return 1
		case !bv:
			return -1
		}
		return b.OccursAt.Compare(a.OccursAt)
	})
}

func (e Engine) startOfWeek(day time.Time) time.Time {
	ws := (int(e.WeekStart)%7 + 7) % 7
	offset := (int(day.Weekday()) - ws + 7) % 7
	return day.AddDate(0, 0, -offset)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// dayRange covers days whole calendar days starting at first (a midnight).
// AddDate keeps DST days correct where a fixed 24h step would not.
func dayRange(first time.Time, days int) Range {
	return Range{
		Start: first,
		End:   first.AddDate(0, 0, days).Add(-time.Nanosecond),
	}
}

func monthRange(first time.Time) Range {
	return Range{
		Start: first,
		End:   first.AddDate(0, 1, 0).Add(-time.Nanosecond),
	}
}
