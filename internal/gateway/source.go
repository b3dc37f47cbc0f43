package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"eventhub/internal/ics"
	appLog "eventhub/internal/log"
	"eventhub/internal/model"
)

// Source produces a fresh snapshot of events for the signed-in user.
type Source interface {
	Fetch(ctx context.Context, user model.User) (*model.Snapshot, error)
}

// RESTSource reads the backend's event list.
type RESTSource struct {
	Client *Client
	Now    func() time.Time
}

func (s *RESTSource) Fetch(ctx context.Context, user model.User) (*model.Snapshot, error) {
	if s == nil || s.Client == nil {
		return nil, errors.New("gateway: rest source has no client")
	}
	events, err := s.Client.ListEvents(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return &model.Snapshot{Events: events, FetchedAt: nowOr(s.Now), Source: "rest"}, nil
}

// ICSSource reads an iCalendar feed from an http(s) URL or a local file and
// expands recurrences around the fetch time.
type ICSSource struct {
	ID  string
	URL string
	// Client fetches http(s) feeds; required for those.
	Client       *Client
	Location     *time.Location
	HorizonDays  int
	BackfillDays int
	Now          func() time.Time
}

func (s *ICSSource) Fetch(ctx context.Context, _ model.User) (*model.Snapshot, error) {
	if s == nil || s.URL == "" {
		return nil, errors.New("gateway: ics source has no URL")
	}

	body, err := s.read(ctx)
	if err != nil {
		return nil, err
	}

	parsed, err := ics.Parse(s.ID, body)
	if err != nil {
		return nil, fmt.Errorf("gateway: parse ics feed %q: %w", s.ID, err)
	}

	now := nowOr(s.Now)
	loc := s.Location
	if loc == nil {
		loc = time.Local
	}
	res, err := ics.Expand(parsed, ics.ExpandConfig{
		SourceID:        s.ID,
		DisplayLocation: loc,
		RangeStart:      now.AddDate(0, 0, -s.BackfillDays),
		RangeEnd:        now.AddDate(0, 0, s.HorizonDays),
	})
	if err != nil {
		return nil, err
	}
	if len(res.TruncatedEvents) > 0 {
		appLog.Error("ics feed: recurring events truncated at occurrence cap",
			errors.New("max occurrences reached"),
			"id", s.ID,
			"uids", strings.Join(res.TruncatedEvents, ","),
		)
	}
	return &model.Snapshot{Events: res.Events, FetchedAt: now, Source: "ics:" + s.ID}, nil
}

func (s *ICSSource) read(ctx context.Context) ([]byte, error) {
	lower := strings.ToLower(s.URL)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		if s.Client == nil {
			return nil, errors.New("gateway: ics source needs a client for remote feeds")
		}
		return s.Client.FetchRaw(ctx, s.URL)
	}
	path := strings.TrimPrefix(s.URL, "file://")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("gateway: read ics file: %w", err)
	}
	return data, nil
}

func nowOr(now func() time.Time) time.Time {
	if now == nil {
		return time.Now()
	}
	return now()
}
