// Package sweeper forces permission requests that sat too long in an
// intermediate status into TIMED_OUT. It runs on a fixed schedule against
// the persisted projection, so it keeps working across restarts and in a
// separate process from the one that created the requests.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"permitflow/permission"
)

// Committer commits forced transitions. The outbox implements it, so sweeps
// are durable and re-trigger the normal downstream handlers.
type Committer interface {
	Commit(ctx context.Context, ev permission.Event) error
}

// StaleQuerier finds requests whose latest event is older than the cutoff.
type StaleQuerier interface {
	ListStale(ctx context.Context, before time.Time, statuses ...permission.Status) ([]permission.Request, error)
}

// Sweeper is the periodic staleness job.
type Sweeper struct {
	store    StaleQuerier
	outbox   Committer
	stale    time.Duration
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// New builds a sweeper with the connector's stale window and run interval.
func New(store StaleQuerier, outbox Committer, stale, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:    store,
		outbox:   outbox,
		stale:    stale,
		interval: interval,
		now:      time.Now,
		logger:   logger,
	}
}

// WithClock replaces the time source, for tests.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Run sweeps on every tick until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if _, err := s.SweepOnce(ctx); err != nil {
					s.logger.Error("sweep failed", "error", err)
				}
			}
		}
	})
	return g.Wait()
}

// SweepOnce scans for stale requests and forces them out, returning how many
// were timed out. A request in VALIDATED is first marked
// SENT_TO_PERMISSION_ADMINISTRATOR and then TIMED_OUT; a request already
// sent gets only TIMED_OUT. Requests another sweep advanced in the meantime
// are skipped: the outbox revalidates the transition against the stored
// status, so a concurrent run turns into a no-op instead of a duplicate.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.stale)
	stale, err := s.store.ListStale(ctx, cutoff,
		permission.StatusValidated,
		permission.StatusSentToPermissionAdministrator,
	)
	if err != nil {
		return 0, fmt.Errorf("sweeper: query stale requests: %w", err)
	}

	timedOut := 0
	for _, req := range stale {
		if err := s.sweep(ctx, req); err != nil {
			if permission.IsStateTransitionError(err) {
				s.logger.Info("stale request already advanced, skipping",
					"permissionId", req.PermissionID,
					"status", req.Status)
				continue
			}
			return timedOut, err
		}
		timedOut++
		s.logger.Info("timed out stale permission request",
			"permissionId", req.PermissionID,
			"staleSince", req.LatestEventAt)
	}
	return timedOut, nil
}

func (s *Sweeper) sweep(ctx context.Context, req permission.Request) error {
	if req.Status == permission.StatusValidated {
		// Model the request as implicitly sent and then abandoned.
		ev := permission.NewSimpleEvent(req.PermissionID, permission.StatusSentToPermissionAdministrator, s.now())
		if err := s.outbox.Commit(ctx, ev); err != nil {
			return err
		}
	}
	return s.outbox.Commit(ctx, permission.NewSimpleEvent(req.PermissionID, permission.StatusTimedOut, s.now()))
}
