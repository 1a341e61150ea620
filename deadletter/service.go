package deadletter

import (
	"context"
	"log/slog"

	"permitflow/retransmission"
)

// Service wraps the repository and adapts it to the hooks the engine
// exposes for anomaly reporting.
type Service struct {
	repo        *Repository
	connectorID string
	logger      *slog.Logger
}

func NewService(repo *Repository, connectorID string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, connectorID: connectorID, logger: logger}
}

func (s *Service) List(ctx context.Context, connectorID string, onlyOpen bool) ([]Record, error) {
	return s.repo.List(ctx, connectorID, onlyOpen)
}

func (s *Service) Resolve(ctx context.Context, id string) (Record, error) {
	return s.repo.Resolve(ctx, id)
}

// Record satisfies the outbox dead-letter hook. Recording is best effort:
// the original failure is already on its way to the caller, so a failure
// here is only logged.
func (s *Service) Record(ctx context.Context, permissionID, kind, detail string) {
	if _, err := s.repo.Create(ctx, s.connectorID, permissionID, Kind(kind), detail); err != nil {
		s.logger.Error("failed to record dead letter",
			"permissionId", permissionID,
			"kind", kind,
			"error", err)
	}
}

// DroppedResultHandler adapts the repository to the correlator's dropped
// response hook.
func (s *Service) DroppedResultHandler() func(retransmission.Result) {
	return func(res retransmission.Result) {
		ctx := context.Background()
		detail := string(res.Kind)
		if res.Reason != "" {
			detail += ": " + res.Reason
		}
		if _, err := s.repo.Create(ctx, s.connectorID, res.PermissionID, KindDroppedResponse, detail); err != nil {
			s.logger.Error("failed to record dropped retransmission result",
				"permissionId", res.PermissionID,
				"error", err)
		}
	}
}
