package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	appLog "eventhub/internal/log"
	"eventhub/internal/model"
)

const (
	defaultTimeout   = 15 * time.Second
	defaultCacheSize = 128
	defaultCacheTTL  = 5 * time.Minute
	maxBodyBytes     = 8 << 20
)

// Options configures a Client.
type Options struct {
	BaseURL string
	// Timeout bounds one HTTP exchange. Ignored when HTTPClient is set.
	Timeout    time.Duration
	HTTPClient *http.Client

	CacheSize int
	CacheTTL  time.Duration

	// Location is used for backend timestamps that carry no offset.
	Location *time.Location

	// Now is used for the sign-in timestamp; defaults to time.Now.
	Now func() time.Time
}

// Client talks to the EventHub REST backend.
type Client struct {
	base  *url.URL
	http  *http.Client
	cache *responseCache
	loc   *time.Location
	now   func() time.Time
}

// New creates a Client for the backend at opts.BaseURL.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("gateway: base URL is empty")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("gateway: parse base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("gateway: unsupported scheme %q", base.Scheme)
	}

	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Client{
		base:  base,
		http:  hc,
		cache: newResponseCache(opts.CacheSize, opts.CacheTTL),
		loc:   opts.Location,
		now:   opts.Now,
	}, nil
}

// ListEvents returns every event, with join flags as seen by userID.
func (c *Client) ListEvents(ctx context.Context, userID string) ([]model.Event, error) {
	q := url.Values{}
	q.Set("userId", userID)
	return c.getEvents(ctx, c.endpoint(q, "events"))
}

// FeaturedEvents returns the backend's highlighted events.
func (c *Client) FeaturedEvents(ctx context.Context) ([]model.Event, error) {
	return c.getEvents(ctx, c.endpoint(nil, "events", "features-events"))
}

// MyEvents returns the events organized by the named user.
func (c *Client) MyEvents(ctx context.Context, organizer string) ([]model.Event, error) {
	if organizer == "" {
		return nil, errors.New("gateway: organizer name is empty")
	}
	return c.getEvents(ctx, c.endpoint(nil, "events", organizer))
}

// CreateEvent posts a new event and returns the backend's message.
func (c *Client) CreateEvent(ctx context.Context, in EventInput) (string, error) {
	return c.mutate(ctx, http.MethodPost, c.endpoint(nil, "events", "create-event"), in.toWire())
}

// UpdateEvent patches an existing event.
func (c *Client) UpdateEvent(ctx context.Context, id string, in EventInput) (string, error) {
	if id == "" {
		return "", errors.New("gateway: event id is empty")
	}
	payload := in.toWire()
	// The organizer is fixed at creation.
	payload.Name = ""
	return c.mutate(ctx, http.MethodPatch, c.endpoint(nil, "events", id), payload)
}

// DeleteEvent removes an event.
func (c *Client) DeleteEvent(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", errors.New("gateway: event id is empty")
	}
	return c.mutate(ctx, http.MethodDelete, c.endpoint(nil, "events", id), nil)
}

// JoinEvent registers userID as an attendee of eventID.
func (c *Client) JoinEvent(ctx context.Context, eventID, userID string) (string, error) {
	if eventID == "" || userID == "" {
		return "", errors.New("gateway: event id and user id are required")
	}
	return c.mutate(ctx, http.MethodPost, c.endpoint(nil, "events", "join"), joinRequest{EventID: eventID, UserID: userID})
}

// SignIn exchanges credentials for the user record.
func (c *Client) SignIn(ctx context.Context, email, password string) (model.User, string, error) {
	req := signInRequest{
		Email:         email,
		Password:      password,
		LastLoginTime: c.now().UTC().Format(time.RFC3339),
	}
	var env signInEnvelope
	if err := c.do(ctx, http.MethodPost, c.endpoint(nil, "users", "signin"), req, &env); err != nil {
		return model.User{}, "", err
	}
	if !env.Success {
		return model.User{}, "", &APIError{Status: http.StatusUnauthorized, Message: firstNonEmpty(env.Message, env.Error, "sign in rejected")}
	}
	if env.User == nil {
		return model.User{}, "", errors.New("gateway: sign in response has no user")
	}
	return env.User.toModel(), env.Message, nil
}

// SignUp creates an account. The user still has to sign in afterwards.
func (c *Client) SignUp(ctx context.Context, in RegisterInput) (string, error) {
	return c.mutate(ctx, http.MethodPost, c.endpoint(nil, "users", "signup"), in)
}

// FetchRaw GETs an arbitrary absolute URL through the response cache. It
// is used for iCalendar feeds.
func (c *Client) FetchRaw(ctx context.Context, rawURL string) ([]byte, error) {
	body, _, err := c.cachedGet(ctx, rawURL)
	return body, err
}

func (c *Client) getEvents(ctx context.Context, u string) ([]model.Event, error) {
	body, _, err := c.cachedGet(ctx, u)
	if err != nil {
		return nil, err
	}
	return decodeEvents(body, c.loc)
}

func (c *Client) mutate(ctx context.Context, method, u string, payload any) (string, error) {
	var env statusEnvelope
	if err := c.do(ctx, method, u, payload, &env); err != nil {
		return "", err
	}
	if !env.Success {
		return "", &APIError{Status: http.StatusUnprocessableEntity, Message: firstNonEmpty(env.Message, env.Error, "request rejected")}
	}
	c.cache.purge()
	return env.Message, nil
}

// cachedGet performs a conditional GET. A 304, a network error or a 5xx
// with a cached body answers from the cache. The bool reports that.
func (c *Client) cachedGet(ctx context.Context, u string) ([]byte, bool, error) {
	cached, hasCached := c.cache.get(u)

	req, err := c.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, false, err
	}
	if hasCached {
		if cached.ETag != "" {
			req.Header.Set("If-None-Match", cached.ETag)
		}
		if cached.LastModified != "" {
			req.Header.Set("If-Modified-Since", cached.LastModified)
		}
	}

	appLog.Debug("gateway request", "method", req.Method, "url", redactURL(u), "request_id", req.Header.Get("X-Request-ID"))

	resp, err := c.http.Do(req)
	if err != nil {
		if hasCached && ctx.Err() == nil {
			appLog.Error("gateway network error, using cached body", err, "url", redactURL(u), "cache_age", cacheAge(c.now(), cached))
			return cached.Body, true, nil
		}
		return nil, false, fmt.Errorf("gateway: GET %s: %w", redactURL(u), err)
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return nil, false, err
	}

	switch {
	case resp.StatusCode == http.StatusNotModified:
		if !hasCached {
			return nil, false, errors.New("gateway: received 304 Not Modified but no cached body available")
		}
		appLog.Debug("gateway not modified; using cache", "url", redactURL(u))
		return cached.Body, true, nil

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		c.cache.put(u, cacheEntry{
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			Body:         body,
			UpdatedAt:    c.now().UTC(),
		})
		return body, false, nil

	case resp.StatusCode >= 500 && hasCached:
		appLog.Error("gateway non-OK, using cached body", errors.New(resp.Status), "url", redactURL(u), "status", resp.StatusCode, "cache_age", cacheAge(c.now(), cached))
		return cached.Body, true, nil

	default:
		return nil, false, apiErrorFromBody(resp.StatusCode, body)
	}
}

// do sends a JSON request and decodes a JSON reply into out.
func (c *Client) do(ctx context.Context, method, u string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("gateway: encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, u, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	appLog.Debug("gateway request", "method", method, "url", redactURL(u), "request_id", req.Header.Get("X-Request-ID"))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: %s %s: %w", method, redactURL(u), err)
	}
	defer resp.Body.Close()

	data, err := readBody(resp)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiErrorFromBody(resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("gateway: decode response: %w", err)
	}
	return nil
}

// readBody reads at most maxBodyBytes. A longer body is an error rather than
// a silently truncated document.
func readBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("gateway: read body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, maxBodyBytes)
	}
	return body, nil
}

func (c *Client) newRequest(ctx context.Context, method, u string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("gateway: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	return req, nil
}

// endpoint joins escaped path segments onto the base URL.
func (c *Client) endpoint(q url.Values, segments ...string) string {
	u := *c.base
	escaped := make([]string, 0, len(segments))
	for _, s := range segments {
		escaped = append(escaped, url.PathEscape(s))
	}
	u.Path = strings.TrimRight(c.base.Path, "/") + "/" + strings.Join(segments, "/")
	u.RawPath = strings.TrimRight(c.base.EscapedPath(), "/") + "/" + strings.Join(escaped, "/")
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// redactURL keeps scheme, host and path; query strings may carry user ids
// or feed tokens.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "(redacted)"
	}
	out := u.Scheme + "://" + u.Host + u.EscapedPath()
	if u.RawQuery != "" {
		out += "?(redacted)"
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
