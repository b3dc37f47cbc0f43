package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	appLog "eventhub/internal/log"
	"eventhub/internal/model"
)

var (
	ErrNotFound     = errors.New("gateway: not found")
	ErrUnauthorized = errors.New("gateway: unauthorized")
	ErrBodyTooLarge = errors.New("gateway: response body too large")
)

// APIError is a failed call as reported by the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("api error: %d %s", e.Status, e.Message)
}

// Is lets callers match common statuses with errors.Is.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	}
	return false
}

// wireEvent is the backend's event document.
type wireEvent struct {
	ID            string `json:"_id"`
	EventTitle    string `json:"eventTitle"`
	Name          string `json:"name"`
	DateAndTime   string `json:"dateAndTime"`
	Location      string `json:"location"`
	Description   string `json:"description"`
	AttendeeCount int    `json:"attendeeCount"`
	Joined        *bool  `json:"joined,omitempty"`
}

type eventsEnvelope struct {
	Events []wireEvent `json:"events"`
}

// statusEnvelope is the reply of every mutation.
type statusEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

type wireUser struct {
	MongoID  string `json:"_id"`
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	PhotoURL string `json:"photoURL"`
}

type signInEnvelope struct {
	statusEnvelope
	User *wireUser `json:"user"`
}

// EventInput is the editable part of an event, as sent on create/update.
type EventInput struct {
	Title         string
	OrganizerName string
	OccursAt      time.Time
	Location      string
	Description   string
	AttendeeCount int
}

type wireEventInput struct {
	EventTitle    string `json:"eventTitle"`
	Name          string `json:"name,omitempty"`
	DateAndTime   string `json:"dateAndTime"`
	Location      string `json:"location"`
	Description   string `json:"description"`
	AttendeeCount int    `json:"attendeeCount"`
}

// RegisterInput is the sign-up form.
type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	PhotoURL string `json:"photoURL"`
}

type joinRequest struct {
	EventID string `json:"eventId"`
	UserID  string `json:"userId"`
}

type signInRequest struct {
	Email         string `json:"email"`
	Password      string `json:"password"`
	LastLoginTime string `json:"lastLoginTime"`
}

// dateLayouts are tried in order. Layouts without an offset are read in
// the configured location.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp reads the timestamp formats the backend and its forms use.
// It returns the zero time for anything it cannot read.
func ParseTimestamp(v string, loc *time.Location) time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t
		}
	}
	appLog.Debug("gateway: unparsable dateAndTime", "value", v)
	return time.Time{}
}

func formatDateAndTime(t time.Time) string {
	return t.Format(time.RFC3339)
}

func (w wireEvent) toModel(loc *time.Location) model.Event {
	ev := model.Event{
		ID:            w.ID,
		Title:         w.EventTitle,
		OrganizerName: w.Name,
		OccursAt:      ParseTimestamp(w.DateAndTime, loc),
		Location:      w.Location,
		Description:   w.Description,
		AttendeeCount: w.AttendeeCount,
	}
	if ev.AttendeeCount < 0 {
		ev.AttendeeCount = 0
	}
	if w.Joined != nil {
		ev.JoinedByCurrentUser = *w.Joined
	}
	return ev
}

func (in EventInput) toWire() wireEventInput {
	return wireEventInput{
		EventTitle:    in.Title,
		Name:          in.OrganizerName,
		DateAndTime:   formatDateAndTime(in.OccursAt),
		Location:      in.Location,
		Description:   in.Description,
		AttendeeCount: in.AttendeeCount,
	}
}

func (u wireUser) toModel() model.User {
	id := u.ID
	if id == "" {
		id = u.MongoID
	}
	return model.User{ID: id, Name: u.Name, Email: u.Email, PhotoURL: u.PhotoURL}
}

// decodeEvents accepts both the {"events": [...]} envelope and a bare array.
func decodeEvents(body []byte, loc *time.Location) ([]model.Event, error) {
	trimmed := strings.TrimSpace(string(body))
	var items []wireEvent
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("gateway: decode events: %w", err)
		}
	} else {
		var env eventsEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("gateway: decode events: %w", err)
		}
		items = env.Events
	}

	out := make([]model.Event, 0, len(items))
	for _, w := range items {
		out = append(out, w.toModel(loc))
	}
	return out, nil
}

// apiErrorFromBody builds an APIError, preferring the backend's own message.
func apiErrorFromBody(status int, body []byte) *APIError {
	var env statusEnvelope
	_ = json.Unmarshal(body, &env)
	msg := env.Message
	if msg == "" {
		msg = env.Error
	}
	return &APIError{Status: status, Message: msg}
}
