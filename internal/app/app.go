// Package app is the headless view layer: it guards operations behind the
// session, holds the latest event snapshot and runs the filter engine over
// it, and forwards mutations to the backend.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"eventhub/internal/filter"
	"eventhub/internal/gateway"
	appLog "eventhub/internal/log"
	"eventhub/internal/model"
	"eventhub/internal/session"
)

var (
	ErrNotAuthenticated = errors.New("not signed in")
	ErrAlreadyLoggedIn  = errors.New("already signed in")
	ErrNotLoaded        = errors.New("events not loaded yet")
	ErrEventNotFound    = errors.New("event not found")
)

// Gateway is the part of the backend client the app drives directly.
type Gateway interface {
	FeaturedEvents(ctx context.Context) ([]model.Event, error)
	MyEvents(ctx context.Context, organizer string) ([]model.Event, error)
	CreateEvent(ctx context.Context, in gateway.EventInput) (string, error)
	UpdateEvent(ctx context.Context, id string, in gateway.EventInput) (string, error)
	DeleteEvent(ctx context.Context, id string) (string, error)
	JoinEvent(ctx context.Context, eventID, userID string) (string, error)
	SignIn(ctx context.Context, email, password string) (model.User, string, error)
	SignUp(ctx context.Context, in gateway.RegisterInput) (string, error)
}

// Options tunes an App.
type Options struct {
	WeekStart time.Weekday
	// Location reads form timestamps that carry no offset.
	Location *time.Location
	// Now is the clock used when a query carries no reference instant.
	Now func() time.Time
}

// App is safe for concurrent use.
type App struct {
	gw     Gateway
	src    gateway.Source
	sess   *session.Store
	engine filter.Engine
	loc    *time.Location
	now    func() time.Time

	mu sync.RWMutex
	// snap is the most recently installed snapshot. Local changes live in
	// patches/removed and are dropped wholesale when snap is replaced.
	snap      *model.Snapshot
	patches   map[string]model.Event
	removed   map[string]bool
	issued    uint64
	installed uint64
}

func New(gw Gateway, src gateway.Source, sess *session.Store, opts Options) *App {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if sess == nil {
		sess = session.NewMemory()
	}
	return &App{
		gw:      gw,
		src:     src,
		sess:    sess,
		engine:  filter.Engine{WeekStart: opts.WeekStart},
		loc:     opts.Location,
		now:     opts.Now,
		patches: make(map[string]model.Event),
		removed: make(map[string]bool),
	}
}

// Session exposes the store the app was built with.
func (a *App) Session() *session.Store {
	return a.sess
}

// RequireUser is the route guard: every private operation goes through it.
func (a *App) RequireUser() (model.User, error) {
	user, ok := a.sess.Current()
	if !ok {
		return model.User{}, ErrNotAuthenticated
	}
	return user, nil
}

// Refresh fetches a new snapshot and installs it in place of the previous
// one, discarding optimistic changes. When refreshes overlap, a response
// older than the installed snapshot is dropped.
func (a *App) Refresh(ctx context.Context) (*model.Snapshot, error) {
	user, err := a.RequireUser()
	if err != nil {
		return nil, err
	}
	if a.src == nil {
		return nil, errors.New("app: no event source configured")
	}

	a.mu.Lock()
	a.issued++
	seq := a.issued
	a.mu.Unlock()

	snap, err := a.src.Fetch(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("refresh events: %w", err)
	}
	if snap == nil {
		snap = &model.Snapshot{FetchedAt: a.now()}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if seq < a.installed {
		appLog.Debug("stale snapshot dropped", "seq", seq, "installed", a.installed)
		return a.snap, nil
	}
	a.snap = snap
	a.installed = seq
	a.patches = make(map[string]model.Event)
	a.removed = make(map[string]bool)

	appLog.Info("snapshot installed", "source", snap.Source, "event_count", snap.Len())
	return snap, nil
}

// EnsureLoaded refreshes only when no snapshot is installed yet.
func (a *App) EnsureLoaded(ctx context.Context) error {
	a.mu.RLock()
	loaded := a.snap != nil
	a.mu.RUnlock()
	if loaded {
		return nil
	}
	_, err := a.Refresh(ctx)
	return err
}

// Events filters the current snapshot (with local changes applied). A zero
// q.Now is filled from the app clock once, so every boundary shares it.
func (a *App) Events(q filter.Query) ([]model.Event, error) {
	if _, err := a.RequireUser(); err != nil {
		return nil, err
	}
	if q.Now.IsZero() {
		q.Now = a.now()
	}

	view, err := a.view()
	if err != nil {
		return nil, err
	}
	return a.engine.Apply(view, q)
}

// Event returns one event of the current view.
func (a *App) Event(id string) (model.Event, error) {
	view, err := a.view()
	if err != nil {
		return model.Event{}, err
	}
	for _, ev := range view.Events {
		if ev.ID == id {
			return ev, nil
		}
	}
	return model.Event{}, ErrEventNotFound
}

// view copies the installed snapshot with patches applied, under one lock,
// so a result never mixes two snapshots.
func (a *App) view() (*model.Snapshot, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.snap == nil {
		return nil, ErrNotLoaded
	}

	events := make([]model.Event, 0, len(a.snap.Events))
	for _, ev := range a.snap.Events {
		if a.removed[ev.ID] {
			continue
		}
		if p, ok := a.patches[ev.ID]; ok {
			ev = p
		}
		events = append(events, ev)
	}
	return &model.Snapshot{Events: events, FetchedAt: a.snap.FetchedAt, Source: a.snap.Source}, nil
}

// JoinResult describes what Join did locally.
type JoinResult struct {
	Event         model.Event
	AlreadyJoined bool
	Message       string
}

// Join marks the event joined locally, then tells the backend. Joining an
// event that is already joined changes nothing and sends nothing. A backend
// failure rolls the local change back; success leaves it until the next
// Refresh replaces the snapshot.
func (a *App) Join(ctx context.Context, id string) (JoinResult, error) {
	user, err := a.RequireUser()
	if err != nil {
		return JoinResult{}, err
	}

	a.mu.Lock()
	if a.snap == nil {
		a.mu.Unlock()
		return JoinResult{}, ErrNotLoaded
	}
	current, ok := a.lookupLocked(id)
	if !ok {
		a.mu.Unlock()
		return JoinResult{}, ErrEventNotFound
	}
	if current.JoinedByCurrentUser {
		a.mu.Unlock()
		return JoinResult{Event: current, AlreadyJoined: true}, nil
	}
	patched := current
	patched.AttendeeCount++
	patched.JoinedByCurrentUser = true
	prev, hadPrev := a.patches[id]
	a.patches[id] = patched
	snap := a.snap
	a.mu.Unlock()

	msg, err := a.gw.JoinEvent(ctx, id, user.ID)
	if err != nil {
		a.mu.Lock()
		if a.snap == snap {
			if hadPrev {
				a.patches[id] = prev
			} else {
				delete(a.patches, id)
			}
		}
		a.mu.Unlock()
		appLog.Error("join failed; local change reverted", err, "event_id", id)
		return JoinResult{}, fmt.Errorf("join event: %w", err)
	}

	appLog.Info("event joined", "event_id", id, "user_id", user.ID)
	return JoinResult{Event: patched, Message: msg}, nil
}

func (a *App) lookupLocked(id string) (model.Event, bool) {
	if a.removed[id] {
		return model.Event{}, false
	}
	if p, ok := a.patches[id]; ok {
		return p, true
	}
	for _, ev := range a.snap.Events {
		if ev.ID == id {
			return ev, true
		}
	}
	return model.Event{}, false
}

// Featured lists the backend's highlighted events; no sign-in needed.
func (a *App) Featured(ctx context.Context) ([]model.Event, error) {
	events, err := a.gw.FeaturedEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("featured events: %w", err)
	}
	return events, nil
}

// MyEvents lists the events organized by the signed-in user, newest first.
func (a *App) MyEvents(ctx context.Context) ([]model.Event, error) {
	user, err := a.RequireUser()
	if err != nil {
		return nil, err
	}
	events, err := a.gw.MyEvents(ctx, user.Name)
	if err != nil {
		return nil, fmt.Errorf("my events: %w", err)
	}
	filter.Sort(events)
	return events, nil
}
