package model

import "time"

// Event is a single community event as consumed by the filter engine and
// rendered by the CLI / local API.
type Event struct {
	ID            string `json:"id" yaml:"id"`
	Title         string `json:"title" yaml:"title"`
	OrganizerName string `json:"organizer_name" yaml:"organizer_name"`

	// OccursAt is the single instant the event takes place. The zero value
	// marks a missing or unparsable timestamp.
	OccursAt time.Time `json:"occurs_at" yaml:"occurs_at"`

	Location      string `json:"location" yaml:"location"`
	Description   string `json:"description" yaml:"description"`
	AttendeeCount int    `json:"attendee_count" yaml:"attendee_count"`

	// JoinedByCurrentUser is derived client state; the server is authoritative.
	JoinedByCurrentUser bool `json:"joined" yaml:"joined"`
}

// HasValidTime reports whether OccursAt holds a real instant.
func (e Event) HasValidTime() bool {
	return !e.OccursAt.IsZero()
}

// User is the authenticated identity held by the session store.
type User struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Email    string `json:"email" yaml:"email"`
	PhotoURL string `json:"photo_url,omitempty" yaml:"photo_url,omitempty"`
}

// Snapshot is one fetched collection of events. It is treated as immutable
// input: consumers copy before reordering.
type Snapshot struct {
	Events    []Event
	FetchedAt time.Time
	// Source names where the events came from (e.g. "rest", "ics:<id>").
	Source string
}

// Len returns the number of events; a nil snapshot has none.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Events)
}
