package permission

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"permitflow/dataneed"
	"permitflow/timeframe"
)

// DataNeedCalculator resolves a data need into the tagged calculation result
// the service folds into VALIDATED or MALFORMED.
type DataNeedCalculator interface {
	Calculate(ctx context.Context, dataNeedID string) (dataneed.CalculationResult, error)
}

// AdministratorPort forwards a validated request to the regional permission
// administrator. Implementations wrap the connector-specific protocol.
type AdministratorPort interface {
	SendPermissionRequest(ctx context.Context, req Request) error
}

// ValidationError carries the field-level errors of a MALFORMED request. It
// is surfaced synchronously to the caller; the matching MALFORMED event has
// already been committed when it is returned.
type ValidationError struct {
	PermissionID string
	Errors       []AttributeError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, attr := range e.Errors {
		parts[i] = attr.Attribute + ": " + attr.Message
	}
	return fmt.Sprintf("permission %s malformed: %s", e.PermissionID, strings.Join(parts, "; "))
}

// Service drives the permission request lifecycle. Every state change goes
// through the outbox; the service never mutates state directly.
type Service struct {
	outbox      *Outbox
	store       EventStore
	calc        DataNeedCalculator
	admin       AdministratorPort
	idGenerator func() string
	now         func() time.Time
}

// CreateParams is the inbound request to establish a new permission.
type CreateParams struct {
	ConnectionID    string
	DataNeedID      string
	MeteringPointID string
}

// NewService wires the lifecycle service.
func NewService(outbox *Outbox, store EventStore, calc DataNeedCalculator, admin AdministratorPort) *Service {
	return &Service{
		outbox:      outbox,
		store:       store,
		calc:        calc,
		admin:       admin,
		idGenerator: uuid.NewString,
		now:         time.Now,
	}
}

// WithIDGenerator replaces the permission id source, for tests.
func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

// WithClock replaces the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateAndSend creates a new permission request, validates it against the
// data need, and forwards it to the permission administrator. The request
// ends MALFORMED (with a ValidationError returned) when the identifier or
// the data need cannot be used, and UNABLE_TO_SEND when the administrator
// could not be reached.
func (s *Service) CreateAndSend(ctx context.Context, params CreateParams) (Request, error) {
	if params.ConnectionID == "" {
		return Request{}, fmt.Errorf("permission: missing connection id")
	}
	if params.DataNeedID == "" {
		return Request{}, fmt.Errorf("permission: missing data need id")
	}

	permissionID := s.idGenerator()
	if err := s.outbox.Commit(ctx, NewCreatedEvent(permissionID, params.ConnectionID, params.DataNeedID, s.now())); err != nil {
		return Request{}, err
	}

	if errs := validateMeteringPointID(params.MeteringPointID); len(errs) > 0 {
		return Request{}, s.malformed(ctx, permissionID, errs)
	}

	result, err := s.calc.Calculate(ctx, params.DataNeedID)
	if err != nil {
		return Request{}, err
	}

	var (
		tf          timeframe.Timeframe
		granularity string
	)
	switch r := result.(type) {
	case dataneed.NotFoundResult:
		return Request{}, s.malformed(ctx, permissionID, []AttributeError{
			{Attribute: "dataNeedId", Message: fmt.Sprintf("data need %s not found", r.DataNeedID)},
		})
	case dataneed.NotSupportedResult:
		return Request{}, s.malformed(ctx, permissionID, []AttributeError{
			{Attribute: "dataNeedId", Message: r.Reason},
		})
	case dataneed.AccountingPointResult:
		tf = r.Permission
	case dataneed.ValidatedHistoricalResult:
		tf = r.Timeframe
		granularity = string(r.Granularities[0])
	default:
		return Request{}, fmt.Errorf("permission: unexpected calculation result %T", result)
	}

	if err := s.outbox.Commit(ctx, NewValidatedEvent(permissionID, s.now(), tf, granularity)); err != nil {
		return Request{}, err
	}

	req, err := s.store.FindByPermissionID(ctx, permissionID)
	if err != nil {
		return Request{}, err
	}

	if err := s.admin.SendPermissionRequest(ctx, req); err != nil {
		if commitErr := s.outbox.Commit(ctx, NewSimpleEvent(permissionID, StatusUnableToSend, s.now())); commitErr != nil {
			return Request{}, commitErr
		}
		return Request{}, fmt.Errorf("permission %s: send to administrator: %w", permissionID, err)
	}

	if err := s.outbox.Commit(ctx, NewSimpleEvent(permissionID, StatusSentToPermissionAdministrator, s.now())); err != nil {
		return Request{}, err
	}

	return s.store.FindByPermissionID(ctx, permissionID)
}

// Resend retries forwarding a request stuck in UNABLE_TO_SEND.
func (s *Service) Resend(ctx context.Context, permissionID string) error {
	req, err := s.store.FindByPermissionID(ctx, permissionID)
	if err != nil {
		return err
	}
	if err := s.outbox.Commit(ctx, NewSimpleEvent(permissionID, StatusValidated, s.now())); err != nil {
		return err
	}
	if err := s.admin.SendPermissionRequest(ctx, req); err != nil {
		if commitErr := s.outbox.Commit(ctx, NewSimpleEvent(permissionID, StatusUnableToSend, s.now())); commitErr != nil {
			return commitErr
		}
		return fmt.Errorf("permission %s: send to administrator: %w", permissionID, err)
	}
	return s.outbox.Commit(ctx, NewSimpleEvent(permissionID, StatusSentToPermissionAdministrator, s.now()))
}

// Accept records the administrator's grant together with the data source it
// applies to.
func (s *Service) Accept(ctx context.Context, permissionID, dataSource string) error {
	req, err := s.store.FindByPermissionID(ctx, permissionID)
	if err != nil {
		return err
	}

	tf := timeframe.Timeframe{}
	if req.Start != nil && req.End != nil {
		tf = timeframe.Timeframe{Start: *req.Start, End: *req.End}
	}
	granularity := ""
	if req.Granularity != nil {
		granularity = *req.Granularity
	}

	return s.outbox.Commit(ctx, NewAcceptedEvent(permissionID, s.now(), tf, granularity, dataSource))
}

// Reject records the administrator's refusal. Terminal.
func (s *Service) Reject(ctx context.Context, permissionID string) error {
	return s.commitSimple(ctx, permissionID, StatusRejected)
}

// Invalidate records that the administrator deemed the request invalid. Terminal.
func (s *Service) Invalidate(ctx context.Context, permissionID string) error {
	return s.commitSimple(ctx, permissionID, StatusInvalid)
}

// Revoke records the customer withdrawing an accepted permission. Terminal.
func (s *Service) Revoke(ctx context.Context, permissionID string) error {
	return s.commitSimple(ctx, permissionID, StatusRevoked)
}

// Terminate records the requesting application ending the permission. Terminal.
func (s *Service) Terminate(ctx context.Context, permissionID string) error {
	return s.commitSimple(ctx, permissionID, StatusTerminated)
}

// Fulfill records that all granted data was delivered. Terminal.
func (s *Service) Fulfill(ctx context.Context, permissionID string) error {
	return s.commitSimple(ctx, permissionID, StatusFulfilled)
}

// TimeLimit records that the permission's granted window expired. Terminal.
func (s *Service) TimeLimit(ctx context.Context, permissionID string) error {
	return s.commitSimple(ctx, permissionID, StatusTimeLimit)
}

// GetByPermissionID returns the current projection of a request.
func (s *Service) GetByPermissionID(ctx context.Context, permissionID string) (Request, error) {
	return s.store.FindByPermissionID(ctx, permissionID)
}

// List pages through the projection with filters.
func (s *Service) List(ctx context.Context, filters Filters) ([]Request, int, error) {
	return s.store.List(ctx, filters)
}

// History returns a request's persisted events in commit order.
func (s *Service) History(ctx context.Context, permissionID string) ([]StoredEvent, error) {
	return s.store.History(ctx, permissionID)
}

func (s *Service) commitSimple(ctx context.Context, permissionID string, status Status) error {
	if _, err := s.store.FindByPermissionID(ctx, permissionID); err != nil {
		return err
	}
	return s.outbox.Commit(ctx, NewSimpleEvent(permissionID, status, s.now()))
}

func (s *Service) malformed(ctx context.Context, permissionID string, errs []AttributeError) error {
	if err := s.outbox.Commit(ctx, NewMalformedEvent(permissionID, s.now(), errs)); err != nil {
		return err
	}
	return &ValidationError{PermissionID: permissionID, Errors: errs}
}

func validateMeteringPointID(id string) []AttributeError {
	switch {
	case id == "":
		return []AttributeError{{Attribute: "meteringPointId", Message: "metering point id is required"}}
	case len(id) < 5 || len(id) > 50:
		return []AttributeError{{Attribute: "meteringPointId", Message: "metering point id must be 5 to 50 characters"}}
	}
	for _, r := range id {
		alnum := r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r == '-'
		if !alnum {
			return []AttributeError{{Attribute: "meteringPointId", Message: "metering point id must be alphanumeric"}}
		}
	}
	return nil
}
