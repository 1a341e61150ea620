package callback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// IdempotencyRepository defines the data access required by the service.
type IdempotencyRepository interface {
	InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error
	DeleteIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error
}

// Decider applies the administrator's verdict to the permission lifecycle.
// The permission service implements it; every decision flows through the
// outbox.
type Decider interface {
	Accept(ctx context.Context, permissionID, dataSource string) error
	Reject(ctx context.Context, permissionID string) error
	Invalidate(ctx context.Context, permissionID string) error
}

// Service ingests administrator decision callbacks exactly once.
type Service struct {
	pool    TxBeginner
	repo    IdempotencyRepository
	decider Decider
	logger  *slog.Logger
}

// NewService wires the callback ingestion service.
func NewService(pool TxBeginner, repo IdempotencyRepository, decider Decider, logger *slog.Logger) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		pool:    pool,
		repo:    repo,
		decider: decider,
		logger:  logger,
	}
}

// HandleAdministratorCallback reserves the callback's idempotency key and
// commits the decision. Replays (duplicate keys) are silently acknowledged.
// When committing the decision fails, the reservation is released again so
// the administrator's retry is not treated as a replay.
func (s *Service) HandleAdministratorCallback(ctx context.Context, cb AdministratorCallback) error {
	if cb.IdempotencyKey == "" {
		return fmt.Errorf("callback: missing idempotency key")
	}
	if cb.PermissionID == "" {
		return fmt.Errorf("callback: missing permission id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("callback: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.InsertIdempotencyKey(ctx, tx, cb.IdempotencyKey); err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			s.logger.Info("ignoring replayed administrator callback",
				"permissionId", cb.PermissionID,
				"idempotencyKey", cb.IdempotencyKey)
			return nil
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("callback: commit idempotency tx: %w", err)
	}

	if err := s.applyDecision(ctx, cb); err != nil {
		s.releaseKey(ctx, cb.IdempotencyKey)
		return err
	}

	return nil
}

func (s *Service) applyDecision(ctx context.Context, cb AdministratorCallback) error {
	switch cb.Decision {
	case DecisionAccepted:
		return s.decider.Accept(ctx, cb.PermissionID, cb.DataSource)
	case DecisionRejected:
		return s.decider.Reject(ctx, cb.PermissionID)
	case DecisionInvalid:
		return s.decider.Invalidate(ctx, cb.PermissionID)
	default:
		return fmt.Errorf("callback: unknown decision %q", cb.Decision)
	}
}

// releaseKey is best effort; a leaked key only suppresses one retry and is
// visible in the error log.
func (s *Service) releaseKey(ctx context.Context, key string) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		s.logger.Error("failed to release idempotency key", "idempotencyKey", key, "error", err)
		return
	}
	defer tx.Rollback(ctx)

	if err := s.repo.DeleteIdempotencyKey(ctx, tx, key); err != nil {
		s.logger.Error("failed to release idempotency key", "idempotencyKey", key, "error", err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		s.logger.Error("failed to release idempotency key", "idempotencyKey", key, "error", err)
	}
}
