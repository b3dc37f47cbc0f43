// Package scheduler refreshes the event snapshot on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"eventhub/internal/app"
	appLog "eventhub/internal/log"
	"eventhub/internal/model"
)

const defaultTimeout = 2 * time.Minute

// Refresher installs a new snapshot.
type Refresher interface {
	Refresh(ctx context.Context) (*model.Snapshot, error)
}

// Scheduler runs Refresher.Refresh on a standard five-field cron spec.
type Scheduler struct {
	cron      *cron.Cron
	refresher Refresher
	spec      string
	timeout   time.Duration

	mu       sync.Mutex
	ctx      context.Context
	started  bool
	stopOnce sync.Once
	stopped  chan struct{}
}

// New validates spec and prepares a Scheduler. timeout bounds one refresh;
// zero means two minutes.
func New(spec string, r Refresher, timeout time.Duration) (*Scheduler, error) {
	if r == nil {
		return nil, errors.New("scheduler: refresher is nil")
	}
	spec = strings.TrimSpace(spec)
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(spec); err != nil {
		return nil, fmt.Errorf("scheduler: invalid cron expression %q: %w", spec, err)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		refresher: r,
		spec:      spec,
		timeout:   timeout,
		ctx:       context.Background(),
		stopped:   make(chan struct{}),
	}, nil
}

// Start runs one refresh right away, then follows the schedule until ctx is
// cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler: already started")
	}

	if _, err := s.cron.AddFunc(s.spec, func() { s.RunOnce() }); err != nil {
		return fmt.Errorf("scheduler: register refresh: %w", err)
	}
	s.ctx = ctx
	s.started = true
	s.cron.Start()
	appLog.Info("scheduler started", "schedule", s.spec)

	go s.RunOnce()
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.stopped:
		}
	}()
	return nil
}

// RunOnce performs a single refresh. Failures are logged and reported but
// never stop the schedule.
func (s *Scheduler) RunOnce() error {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	if parent.Err() != nil {
		return parent.Err()
	}

	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	started := time.Now()
	snap, err := s.refresher.Refresh(ctx)
	switch {
	case errors.Is(err, app.ErrNotAuthenticated):
		appLog.Info("scheduled refresh skipped: nobody signed in")
		return err
	case err != nil:
		appLog.Error("scheduled refresh failed", err, "elapsed", time.Since(started).String())
		return err
	}
	appLog.Debug("scheduled refresh done", "event_count", snap.Len(), "elapsed", time.Since(started).String())
	return nil
}

// Stop halts the schedule and waits for a running refresh. Safe to call
// more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()
		close(s.stopped)
		appLog.Info("scheduler stopped")
	})
}

// Done is closed once the scheduler has fully stopped.
func (s *Scheduler) Done() <-chan struct{} {
	return s.stopped
}
