package app

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"eventhub/internal/gateway"
	appLog "eventhub/internal/log"
	"eventhub/internal/model"
)

const maxTitleLen = 100

// ValidationError collects every problem found in a form.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid form: " + strings.Join(e.Problems, "; ")
}

// EventForm is the create/update form as entered by a user.
type EventForm struct {
	Title         string `json:"eventTitle"`
	When          string `json:"dateAndTime"`
	Location      string `json:"location"`
	Description   string `json:"description"`
	AttendeeCount int    `json:"attendeeCount"`
}

// validate trims the form and converts it to gateway input.
func (f EventForm) validate(loc *time.Location) (gateway.EventInput, error) {
	in := gateway.EventInput{
		Title:         strings.TrimSpace(f.Title),
		Location:      strings.TrimSpace(f.Location),
		Description:   strings.TrimSpace(f.Description),
		AttendeeCount: f.AttendeeCount,
	}

	var problems []string
	switch {
	case in.Title == "":
		problems = append(problems, "event title is required")
	case utf8.RuneCountInString(in.Title) > maxTitleLen:
		problems = append(problems, fmt.Sprintf("event title must be at most %d characters", maxTitleLen))
	}
	if strings.TrimSpace(f.When) == "" {
		problems = append(problems, "date and time is required")
	} else {
		in.OccursAt = gateway.ParseTimestamp(f.When, loc)
		if in.OccursAt.IsZero() {
			problems = append(problems, fmt.Sprintf("date and time %q is not a valid timestamp", f.When))
		}
	}
	if in.Location == "" {
		problems = append(problems, "location is required")
	}
	if in.Description == "" {
		problems = append(problems, "description is required")
	}
	if in.AttendeeCount < 0 {
		problems = append(problems, "attendee count cannot be negative")
	}

	if len(problems) > 0 {
		return gateway.EventInput{}, &ValidationError{Problems: problems}
	}
	return in, nil
}

// Login signs in and stores the user in the session.
func (a *App) Login(ctx context.Context, email, password string) (model.User, error) {
	if _, ok := a.sess.Current(); ok {
		return model.User{}, ErrAlreadyLoggedIn
	}
	email = strings.TrimSpace(email)
	var problems []string
	if email == "" {
		problems = append(problems, "email is required")
	}
	if password == "" {
		problems = append(problems, "password is required")
	}
	if len(problems) > 0 {
		return model.User{}, &ValidationError{Problems: problems}
	}

	user, _, err := a.gw.SignIn(ctx, email, password)
	if err != nil {
		return model.User{}, fmt.Errorf("sign in: %w", err)
	}
	if err := a.sess.Set(user); err != nil {
		return model.User{}, err
	}
	appLog.Info("signed in", "user_id", user.ID)
	return user, nil
}

// Register creates an account. It does not sign in.
func (a *App) Register(ctx context.Context, in gateway.RegisterInput) (string, error) {
	if _, ok := a.sess.Current(); ok {
		return "", ErrAlreadyLoggedIn
	}
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.PhotoURL = strings.TrimSpace(in.PhotoURL)

	var problems []string
	if in.Name == "" {
		problems = append(problems, "name is required")
	}
	if !strings.Contains(in.Email, "@") {
		problems = append(problems, "a valid email is required")
	}
	if len(in.Password) < 6 {
		problems = append(problems, "password must be at least 6 characters")
	}
	if len(problems) > 0 {
		return "", &ValidationError{Problems: problems}
	}

	msg, err := a.gw.SignUp(ctx, in)
	if err != nil {
		return "", fmt.Errorf("sign up: %w", err)
	}
	return msg, nil
}

// Logout clears the session and forgets the snapshot. A refresh still in
// flight is dropped when it lands.
func (a *App) Logout() error {
	if err := a.sess.Clear(); err != nil {
		return err
	}
	a.mu.Lock()
	a.snap = nil
	a.patches = make(map[string]model.Event)
	a.removed = make(map[string]bool)
	a.installed = a.issued + 1
	a.issued = a.installed
	a.mu.Unlock()
	return nil
}

// Create posts a new event organized by the signed-in user. It shows up in
// listings after the next Refresh.
func (a *App) Create(ctx context.Context, form EventForm) (string, error) {
	user, err := a.RequireUser()
	if err != nil {
		return "", err
	}
	in, err := form.validate(a.loc)
	if err != nil {
		return "", err
	}
	in.OrganizerName = user.Name

	msg, err := a.gw.CreateEvent(ctx, in)
	if err != nil {
		return "", fmt.Errorf("create event: %w", err)
	}
	appLog.Info("event created", "title", in.Title)
	return msg, nil
}

// Update replaces the editable fields of an event. The change is shown
// locally until the next Refresh.
func (a *App) Update(ctx context.Context, id string, form EventForm) (string, error) {
	if _, err := a.RequireUser(); err != nil {
		return "", err
	}
	if strings.TrimSpace(id) == "" {
		return "", &ValidationError{Problems: []string{"event id is required"}}
	}
	in, err := form.validate(a.loc)
	if err != nil {
		return "", err
	}

	msg, err := a.gw.UpdateEvent(ctx, id, in)
	if err != nil {
		return "", fmt.Errorf("update event: %w", err)
	}

	a.mu.Lock()
	if a.snap != nil {
		if ev, ok := a.lookupLocked(id); ok {
			ev.Title = in.Title
			ev.OccursAt = in.OccursAt
			ev.Location = in.Location
			ev.Description = in.Description
			ev.AttendeeCount = in.AttendeeCount
			a.patches[id] = ev
		}
	}
	a.mu.Unlock()

	appLog.Info("event updated", "event_id", id)
	return msg, nil
}

// Delete removes an event on the backend and hides it locally.
func (a *App) Delete(ctx context.Context, id string) (string, error) {
	if _, err := a.RequireUser(); err != nil {
		return "", err
	}
	if strings.TrimSpace(id) == "" {
		return "", &ValidationError{Problems: []string{"event id is required"}}
	}

	msg, err := a.gw.DeleteEvent(ctx, id)
	if err != nil {
		return "", fmt.Errorf("delete event: %w", err)
	}

	a.mu.Lock()
	a.removed[id] = true
	delete(a.patches, id)
	a.mu.Unlock()

	appLog.Info("event deleted", "event_id", id)
	return msg, nil
}
