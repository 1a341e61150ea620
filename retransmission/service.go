package retransmission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"permitflow/connector"
	"permitflow/permission"
	"permitflow/timeframe"
)

// RequestFinder resolves the projection a retransmission is validated against.
type RequestFinder interface {
	FindByPermissionID(ctx context.Context, permissionID string) (permission.Request, error)
}

// Service validates retransmission requests against the stored permission
// before handing them to the correlator. Every invalid request is answered
// with an immediate Failure result; nothing is published for it.
type Service struct {
	finder     RequestFinder
	correlator *Correlator
	cfg        connector.Config
	now        func() time.Time
	logger     *slog.Logger
}

// NewService wires the validating retransmission front.
func NewService(finder RequestFinder, correlator *Correlator, cfg connector.Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		finder:     finder,
		correlator: correlator,
		cfg:        cfg,
		now:        time.Now,
		logger:     logger,
	}
}

// WithClock replaces the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// RequestRetransmission validates and publishes a retransmission request.
// The returned Pending resolves to exactly one result; validation failures
// resolve immediately without touching the outbound channel.
func (s *Service) RequestRetransmission(ctx context.Context, req Request) (*Pending, error) {
	s.logger.Info("validating retransmission request",
		"permissionId", req.PermissionID,
		"from", req.From,
		"to", req.To)

	now := s.now().In(s.cfg.TimeZone)

	stored, err := s.finder.FindByPermissionID(ctx, req.PermissionID)
	if err != nil {
		if errors.Is(err, permission.ErrNotFound) {
			s.logger.Warn("no permission with this id found", "permissionId", req.PermissionID)
			return resolved(Failed(req.PermissionID, now, "permission request not found")), nil
		}
		return nil, fmt.Errorf("retransmission: resolve permission %s: %w", req.PermissionID, err)
	}

	if stored.Status != permission.StatusAccepted && stored.Status != permission.StatusFulfilled {
		s.logger.Warn("retransmission only allowed for accepted or fulfilled permissions",
			"permissionId", req.PermissionID,
			"status", stored.Status)
		return resolved(Failed(req.PermissionID, now, fmt.Sprintf("no active permission in status %s", stored.Status))), nil
	}

	if stored.Start == nil || stored.End == nil {
		return resolved(Failed(req.PermissionID, now, "permission has no granted timeframe")), nil
	}
	if timeframe.Date(req.From).Before(*stored.Start) || timeframe.Date(req.To).After(*stored.End) {
		s.logger.Warn("retransmission range outside permission timeframe",
			"permissionId", req.PermissionID)
		return resolved(Failed(req.PermissionID, now, "requested range not within permission timeframe")), nil
	}
	if !timeframe.Date(req.To).Before(timeframe.Date(now)) {
		s.logger.Warn("retransmission to date must lie in the past", "permissionId", req.PermissionID)
		return resolved(Failed(req.PermissionID, now, "to date must be before today")), nil
	}

	req.ConnectorID = s.cfg.ID
	return s.correlator.Publish(ctx, req)
}

// resolved builds an already-completed Pending for validation failures.
func resolved(res Result) *Pending {
	ch := make(chan Result, 1)
	ch <- res
	return &Pending{permissionID: res.PermissionID, ch: ch}
}
