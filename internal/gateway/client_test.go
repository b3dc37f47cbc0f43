package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventhub/internal/ics"
	"eventhub/internal/model"
)

const eventsBody = `{"events":[
 {"_id":"1","eventTitle":"Tech Conference 2024","name":"John Smith","dateAndTime":"2024-12-15T09:00","location":"San Francisco","description":"d","attendeeCount":250},
 {"_id":"2","eventTitle":"Music Festival","name":"Sarah Johnson","dateAndTime":"2024-12-20T18:00:00.000Z","attendeeCount":1500,"joined":true},
 {"_id":"3","eventTitle":"Broken","name":"X","dateAndTime":"sometime soon","attendeeCount":-4}
]}`

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(Options{BaseURL: srv.URL + "/", Location: time.UTC})
	require.NoError(t, err)
	return c
}

func TestListEventsDecodesWireRecords(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/events", r.URL.Path)
		assert.Equal(t, "u-1", r.URL.Query().Get("userId"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		_, _ = io.WriteString(w, eventsBody)
	}))

	events, err := c.ListEvents(context.Background(), "u-1")
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, model.Event{
		ID:            "1",
		Title:         "Tech Conference 2024",
		OrganizerName: "John Smith",
		OccursAt:      time.Date(2024, 12, 15, 9, 0, 0, 0, time.UTC),
		Location:      "San Francisco",
		Description:   "d",
		AttendeeCount: 250,
	}, events[0])
	assert.False(t, events[0].JoinedByCurrentUser)

	assert.True(t, events[1].JoinedByCurrentUser)
	assert.True(t, time.Date(2024, 12, 20, 18, 0, 0, 0, time.UTC).Equal(events[1].OccursAt))

	assert.False(t, events[2].HasValidTime())
	assert.Equal(t, 0, events[2].AttendeeCount)
}

func TestMyEventsEscapesName(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/events/John%20Doe", r.URL.EscapedPath())
		_, _ = io.WriteString(w, `[]`)
	}))

	events, err := c.MyEvents(context.Background(), "John Doe")
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = c.MyEvents(context.Background(), "")
	require.Error(t, err)
}

func TestCachedGetRevalidatesAndFallsBack(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.Header().Set("ETag", `"v1"`)
			_, _ = io.WriteString(w, eventsBody)
		case 2:
			assert.Equal(t, `"v1"`, r.Header.Get("If-None-Match"))
			w.WriteHeader(http.StatusNotModified)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		events, err := c.FeaturedEvents(ctx)
		require.NoError(t, err, "call %d", i+1)
		assert.Len(t, events, 3)
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestOversizedBodyIsRejected(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("ETag", `"big"`)
		_, _ = w.Write(make([]byte, maxBodyBytes+1))
	}))

	_, err := c.FetchRaw(context.Background(), c.endpoint(nil, "feed.ics"))
	require.ErrorIs(t, err, ErrBodyTooLarge)
	assert.Zero(t, c.cache.len(), "a truncated body must not be cached")

	_, err = c.FetchRaw(context.Background(), c.endpoint(nil, "feed.ics"))
	require.ErrorIs(t, err, ErrBodyTooLarge)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCacheAge(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 12, 15, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "unknown", cacheAge(now, cacheEntry{}))
	assert.Equal(t, "1m30s", cacheAge(now, cacheEntry{UpdatedAt: now.Add(-90*time.Second - 200*time.Millisecond)}))
}

func TestMutationPurgesCache(t *testing.T) {
	t.Parallel()

	var gotJoin joinRequest
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/events/features-events":
			_, _ = io.WriteString(w, `{"events":[]}`)
		case "/events/join":
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotJoin))
			_, _ = io.WriteString(w, `{"success":true,"message":"Joined"}`)
		default:
			http.NotFound(w, r)
		}
	}))

	ctx := context.Background()
	_, err := c.FeaturedEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, c.cache.len())

	msg, err := c.JoinEvent(ctx, "e1", "u1")
	require.NoError(t, err)
	assert.Equal(t, "Joined", msg)
	assert.Equal(t, joinRequest{EventID: "e1", UserID: "u1"}, gotJoin)
	assert.Equal(t, 0, c.cache.len())
}

func TestCreateUpdateDeletePayloads(t *testing.T) {
	t.Parallel()

	when := time.Date(2025, 1, 5, 18, 30, 0, 0, time.UTC)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if r.Body != nil && r.ContentLength != 0 {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/events/create-event":
			assert.Equal(t, "Launch", body["eventTitle"])
			assert.Equal(t, "John Doe", body["name"])
			assert.Equal(t, "2025-01-05T18:30:00Z", body["dateAndTime"])
			assert.EqualValues(t, 0, body["attendeeCount"])
			_, _ = io.WriteString(w, `{"success":true,"message":"Event created"}`)
		case r.Method == http.MethodPatch && r.URL.Path == "/events/abc":
			assert.NotContains(t, body, "name")
			_, _ = io.WriteString(w, `{"success":true,"message":"Event updated"}`)
		case r.Method == http.MethodDelete && r.URL.Path == "/events/abc":
			_, _ = io.WriteString(w, `{"success":false,"message":"not yours"}`)
		default:
			http.NotFound(w, r)
		}
	}))

	ctx := context.Background()
	in := EventInput{Title: "Launch", OrganizerName: "John Doe", OccursAt: when, Location: "HQ", Description: "Party"}

	msg, err := c.CreateEvent(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "Event created", msg)

	msg, err = c.UpdateEvent(ctx, "abc", in)
	require.NoError(t, err)
	assert.Equal(t, "Event updated", msg)

	_, err = c.DeleteEvent(ctx, "abc")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "not yours", apiErr.Message)
}

func TestAPIErrorMapping(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"message":"no such event"}`)
	}))

	_, err := c.DeleteEvent(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "no such event")
	assert.False(t, errors.Is(err, ErrUnauthorized))
}

func TestSignIn(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 12, 1, 8, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req signInRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "2024-12-01T08:00:00Z", req.LastLoginTime)
		if req.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"success":false,"message":"Invalid credentials"}`)
			return
		}
		_, _ = io.WriteString(w, `{"success":true,"message":"Welcome","user":{"_id":"m1","name":"John Doe","email":"john@example.com","photoURL":"p.png"}}`)
	}))
	t.Cleanup(srv.Close)

	c, err := New(Options{BaseURL: srv.URL, Now: func() time.Time { return now }})
	require.NoError(t, err)

	user, msg, err := c.SignIn(context.Background(), "john@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "Welcome", msg)
	assert.Equal(t, model.User{ID: "m1", Name: "John Doe", Email: "john@example.com", PhotoURL: "p.png"}, user)

	_, _, err = c.SignIn(context.Background(), "john@example.com", "wrong")
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Contains(t, err.Error(), "Invalid credentials")
}

func TestNewValidatesBaseURL(t *testing.T) {
	t.Parallel()

	_, err := New(Options{})
	require.Error(t, err)
	_, err = New(Options{BaseURL: "ftp://example.com"})
	require.Error(t, err)
}

func TestRedactURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://api.example.com/events?(redacted)", redactURL("https://api.example.com/events?userId=42"))
	assert.Equal(t, "https://api.example.com/events/join", redactURL("https://api.example.com/events/join"))
	assert.Equal(t, "(redacted)", redactURL("not a url"))
}

func TestParseDateAndTime(t *testing.T) {
	t.Parallel()

	berlin := time.FixedZone("CET", 3600)
	assert.True(t, time.Date(2024, 12, 15, 9, 0, 0, 0, berlin).Equal(ParseTimestamp("2024-12-15T09:00", berlin)))
	assert.True(t, time.Date(2024, 12, 15, 9, 0, 0, 0, time.UTC).Equal(ParseTimestamp("2024-12-15T09:00:00Z", berlin)))
	assert.True(t, time.Date(2024, 12, 15, 0, 0, 0, 0, berlin).Equal(ParseTimestamp("2024-12-15", berlin)))
	assert.True(t, ParseTimestamp("", berlin).IsZero())
	assert.True(t, ParseTimestamp("15/12/2024", berlin).IsZero())
}

func TestRESTSource(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, eventsBody)
	}))
	fetched := time.Date(2024, 12, 15, 0, 0, 0, 0, time.UTC)
	src := &RESTSource{Client: c, Now: func() time.Time { return fetched }}

	snap, err := src.Fetch(context.Background(), model.User{ID: "u"})
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Len())
	assert.Equal(t, "rest", snap.Source)
	assert.Equal(t, fetched, snap.FetchedAt)
}

func TestICSSourceFromFile(t *testing.T) {
	t.Parallel()

	when := time.Date(2024, 12, 20, 18, 0, 0, 0, time.UTC)
	body := ics.Export([]model.Event{{ID: "m", Title: "Music Festival", OccursAt: when}}, ics.ExportOptions{})
	path := filepath.Join(t.TempDir(), "feed.ics")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	src := &ICSSource{
		ID:           "local",
		URL:          path,
		Location:     time.UTC,
		HorizonDays:  30,
		BackfillDays: 30,
		Now:          func() time.Time { return when },
	}
	snap, err := src.Fetch(context.Background(), model.User{})
	require.NoError(t, err)
	require.Equal(t, 1, snap.Len())
	assert.Equal(t, "local:m", snap.Events[0].ID)
	assert.Equal(t, "ics:local", snap.Source)
	assert.True(t, when.Equal(snap.Events[0].OccursAt))

	_, err = (&ICSSource{ID: "remote", URL: "https://example.com/feed.ics"}).Fetch(context.Background(), model.User{})
	require.Error(t, err)
}
