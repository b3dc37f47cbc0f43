package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"eventhub/internal/app"
	"eventhub/internal/config"
	"eventhub/internal/filter"
	"eventhub/internal/gateway"
	"eventhub/internal/ics"
	appLog "eventhub/internal/log"
	"eventhub/internal/model"
)

const (
	featuredCacheTTL = 30 * time.Second
	maxRequestBody   = 1 << 20
)

// Server exposes the app controller as a small local JSON API.
type Server struct {
	cfg *config.Config
	app *app.App
	mux *http.ServeMux
	now func() time.Time

	// Featured events need no session and are requested on every landing
	// view, so they are kept for a short while.
	featuredMu    sync.RWMutex
	featuredCache *featuredCache
}

type featuredCache struct {
	events    []model.Event
	updatedAt time.Time
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, a *app.App) *Server {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	s := &Server{
		cfg: cfg,
		app: a,
		mux: http.NewServeMux(),
		now: time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="EventHub", charset="UTF-8"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Run serves on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	appLog.Info("shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/session", s.handleSessionGet)
	s.mux.HandleFunc("POST /api/session", s.handleSessionPost)
	s.mux.HandleFunc("DELETE /api/session", s.handleSessionDelete)
	s.mux.HandleFunc("POST /api/users", s.handleRegister)

	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("POST /api/events", s.handleCreate)
	s.mux.HandleFunc("GET /api/events.ics", s.handleExport)
	s.mux.HandleFunc("GET /api/events/featured", s.handleFeatured)
	s.mux.HandleFunc("GET /api/events/mine", s.handleMine)
	s.mux.HandleFunc("GET /api/events/{id}", s.handleEvent)
	s.mux.HandleFunc("PATCH /api/events/{id}", s.handleUpdate)
	s.mux.HandleFunc("DELETE /api/events/{id}", s.handleDelete)
	s.mux.HandleFunc("POST /api/events/{id}/join", s.handleJoin)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type messageResponse struct {
	Message string `json:"message,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleSessionGet(w http.ResponseWriter, _ *http.Request) {
	user, err := s.app.RequireUser()
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleSessionPost(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user, err := s.app.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, _ *http.Request) {
	if err := s.app.Logout(); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req gateway.RegisterInput
	if !decodeBody(w, r, &req) {
		return
	}
	msg, err := s.app.Register(r.Context(), req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, messageResponse{Message: msg})
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Events []model.Event `json:"events"`
	Query  string        `json:"query"`
	Bucket filter.Bucket `json:"bucket"`
	Now    time.Time     `json:"now"`
}

// handleEvents runs the filter over the current snapshot.
//
// GET /api/events?q=music&bucket=current-week
//   - q:      case-insensitive title substring
//   - bucket: all, today, current-week, last-week, current-month, last-month
//   - now:    optional reference instant (RFC3339), mostly for reproducible links
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if err := s.app.EnsureLoaded(r.Context()); err != nil {
		writeAppError(w, err)
		return
	}

	params := r.URL.Query()
	query := filter.Query{
		Text:   params.Get("q"),
		Bucket: filter.ParseBucket(params.Get("bucket")),
		Now:    s.now(),
	}
	if raw := params.Get("now"); raw != "" {
		at := gateway.ParseTimestamp(raw, s.location())
		if at.IsZero() {
			writeError(w, http.StatusBadRequest, "now must be an RFC3339 timestamp")
			return
		}
		query.Now = at
	}
	query.Now = query.Now.In(s.location())

	events, err := s.app.Events(query)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{
		Events: events,
		Query:  query.Text,
		Bucket: query.Bucket,
		Now:    query.Now,
	})
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	if _, err := s.app.RequireUser(); err != nil {
		writeAppError(w, err)
		return
	}
	if err := s.app.EnsureLoaded(r.Context()); err != nil {
		writeAppError(w, err)
		return
	}
	ev, err := s.app.Event(r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleFeatured(w http.ResponseWriter, r *http.Request) {
	now := s.now()

	s.featuredMu.RLock()
	fc := s.featuredCache
	s.featuredMu.RUnlock()
	if fc != nil && now.Sub(fc.updatedAt) < featuredCacheTTL {
		writeJSON(w, http.StatusOK, eventsResponse{Events: fc.events, Bucket: filter.All, Now: now})
		return
	}

	events, err := s.app.Featured(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}

	s.featuredMu.Lock()
	s.featuredCache = &featuredCache{events: events, updatedAt: now}
	s.featuredMu.Unlock()

	writeJSON(w, http.StatusOK, eventsResponse{Events: events, Bucket: filter.All, Now: now})
}

func (s *Server) handleMine(w http.ResponseWriter, r *http.Request) {
	events, err := s.app.MyEvents(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: events, Bucket: filter.All, Now: s.now()})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var form app.EventForm
	if !decodeBody(w, r, &form) {
		return
	}
	msg, err := s.app.Create(r.Context(), form)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, messageResponse{Message: msg})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var form app.EventForm
	if !decodeBody(w, r, &form) {
		return
	}
	msg, err := s.app.Update(r.Context(), r.PathValue("id"), form)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msg})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	msg, err := s.app.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msg})
}

type joinResponse struct {
	Event         model.Event `json:"event"`
	AlreadyJoined bool        `json:"already_joined"`
	Message       string      `json:"message,omitempty"`
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	if err := s.app.EnsureLoaded(r.Context()); err != nil {
		writeAppError(w, err)
		return
	}
	res, err := s.app.Join(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, joinResponse{Event: res.Event, AlreadyJoined: res.AlreadyJoined, Message: res.Message})
}

type refreshResponse struct {
	Source     string    `json:"source"`
	EventCount int       `json:"event_count"`
	FetchedAt  time.Time `json:"fetched_at"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	snap, err := s.app.Refresh(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{Source: snap.Source, EventCount: snap.Len(), FetchedAt: snap.FetchedAt})
}

// handleExport renders the filtered list as an iCalendar feed. It accepts the
// same q and bucket parameters as /api/events.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if err := s.app.EnsureLoaded(r.Context()); err != nil {
		writeAppError(w, err)
		return
	}
	now := s.now().In(s.location())
	params := r.URL.Query()
	events, err := s.app.Events(filter.Query{
		Text:   params.Get("q"),
		Bucket: filter.ParseBucket(params.Get("bucket")),
		Now:    now,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}

	body := ics.Export(events, ics.ExportOptions{Name: "EventHub", Stamp: now})
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="eventhub.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, body)
}

func (s *Server) location() *time.Location {
	loc, err := s.cfg.Location()
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", s.cfg.Timezone)
	}
	return loc
}

// decodeBody reads a JSON request body into v, answering 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// writeAppError maps controller and gateway errors onto HTTP statuses.
func writeAppError(w http.ResponseWriter, err error) {
	var verr *app.ValidationError
	var apiErr *gateway.APIError

	switch {
	case errors.Is(err, app.ErrNotAuthenticated):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, app.ErrAlreadyLoggedIn):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, validationResponse{Error: "validation failed", Problems: verr.Problems})
	case errors.Is(err, app.ErrEventNotFound), errors.Is(err, gateway.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrNotLoaded):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &apiErr):
		status := apiErr.Status
		if status < 400 || status >= 500 {
			status = http.StatusBadGateway
		}
		writeError(w, status, apiErr.Error())
	default:
		appLog.Error("request failed", err)
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

type validationResponse struct {
	Error    string   `json:"error"`
	Problems []string `json:"problems"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
