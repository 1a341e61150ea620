package permission

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"permitflow/dataneed"
)

func newTestService(t *testing.T, calc DataNeedCalculator, admin AdministratorPort) (*Service, *memStore, *recordingPublisher) {
	t.Helper()
	store := newMemStore()
	pub := &recordingPublisher{}
	outbox := NewOutbox(store, DefaultGraph(), pub, nil)
	svc := NewService(outbox, store, calc, admin).
		WithIDGenerator(sequentialIDs()).
		WithClock(fixedClock(mustTime(t, "2024-04-17T12:00:00Z")))
	return svc, store, pub
}

func TestCreateAndSend_HappyPath(t *testing.T) {
	calc := &fakeCalculator{result: dataneed.ValidatedHistoricalResult{
		Granularities: []dataneed.Granularity{dataneed.GranularityHour},
		Timeframe:     tfRange(t, "2024-03-01T00:00:00Z", "2024-04-01T00:00:00Z"),
	}}
	admin := &fakeAdministrator{}
	svc, store, pub := newTestService(t, calc, admin)

	req, err := svc.CreateAndSend(context.Background(), CreateParams{
		ConnectionID:    "conn-1",
		DataNeedID:      "need-1",
		MeteringPointID: "ES0021000000001",
	})
	if err != nil {
		t.Fatalf("create and send: %v", err)
	}

	if req.Status != StatusSentToPermissionAdministrator {
		t.Errorf("expected SENT_TO_PERMISSION_ADMINISTRATOR, got %s", req.Status)
	}
	if req.Granularity == nil || *req.Granularity != "PT1H" {
		t.Errorf("expected granularity PT1H folded into projection, got %+v", req.Granularity)
	}

	want := []Status{StatusCreated, StatusValidated, StatusSentToPermissionAdministrator}
	assertStatuses(t, store, req.PermissionID, want)

	if got := pub.emitted(); len(got) != len(want) {
		t.Errorf("expected %d published events, got %d", len(want), len(got))
	}
	if admin.sent != 1 {
		t.Errorf("expected one administrator send, got %d", admin.sent)
	}
}

func TestCreateAndSend_InvalidMeteringPointEndsMalformed(t *testing.T) {
	calc := &fakeCalculator{}
	svc, store, _ := newTestService(t, calc, &fakeAdministrator{})

	_, err := svc.CreateAndSend(context.Background(), CreateParams{
		ConnectionID:    "conn-1",
		DataNeedID:      "need-1",
		MeteringPointID: "x!",
	})

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Errors) == 0 || verr.Errors[0].Attribute != "meteringPointId" {
		t.Fatalf("expected meteringPointId attribute error, got %+v", verr.Errors)
	}

	assertStatuses(t, store, verr.PermissionID, []Status{StatusCreated, StatusMalformed})
	if calc.calls != 0 {
		t.Errorf("calculation must not run for malformed input")
	}
}

func TestCreateAndSend_UnknownDataNeedEndsMalformed(t *testing.T) {
	calc := &fakeCalculator{result: dataneed.NotFoundResult{DataNeedID: "need-404"}}
	svc, store, _ := newTestService(t, calc, &fakeAdministrator{})

	_, err := svc.CreateAndSend(context.Background(), CreateParams{
		ConnectionID:    "conn-1",
		DataNeedID:      "need-404",
		MeteringPointID: "ES0021000000001",
	})

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	assertStatuses(t, store, verr.PermissionID, []Status{StatusCreated, StatusMalformed})
}

func TestCreateAndSend_UnsupportedNeedEndsMalformed(t *testing.T) {
	calc := &fakeCalculator{result: dataneed.NotSupportedResult{Reason: "data need is disabled"}}
	svc, store, _ := newTestService(t, calc, &fakeAdministrator{})

	_, err := svc.CreateAndSend(context.Background(), CreateParams{
		ConnectionID:    "conn-1",
		DataNeedID:      "need-1",
		MeteringPointID: "ES0021000000001",
	})

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Errors[0].Message != "data need is disabled" {
		t.Errorf("expected calculator reason to surface, got %+v", verr.Errors)
	}
	assertStatuses(t, store, verr.PermissionID, []Status{StatusCreated, StatusMalformed})
}

func TestCreateAndSend_AdministratorUnreachable(t *testing.T) {
	calc := &fakeCalculator{result: dataneed.AccountingPointResult{
		Permission: tfRange(t, "2024-03-01T00:00:00Z", "2024-04-01T00:00:00Z"),
	}}
	admin := &fakeAdministrator{err: errors.New("administrator unreachable")}
	svc, store, _ := newTestService(t, calc, admin)

	_, err := svc.CreateAndSend(context.Background(), CreateParams{
		ConnectionID:    "conn-1",
		DataNeedID:      "need-1",
		MeteringPointID: "ES0021000000001",
	})
	if err == nil {
		t.Fatal("expected send failure to surface")
	}

	assertStatuses(t, store, "perm-1", []Status{StatusCreated, StatusValidated, StatusUnableToSend})
}

func TestResend_RecoversFromUnableToSend(t *testing.T) {
	calc := &fakeCalculator{result: dataneed.AccountingPointResult{
		Permission: tfRange(t, "2024-03-01T00:00:00Z", "2024-04-01T00:00:00Z"),
	}}
	admin := &fakeAdministrator{err: errors.New("administrator unreachable")}
	svc, store, _ := newTestService(t, calc, admin)

	ctx := context.Background()
	if _, err := svc.CreateAndSend(ctx, CreateParams{
		ConnectionID:    "conn-1",
		DataNeedID:      "need-1",
		MeteringPointID: "ES0021000000001",
	}); err == nil {
		t.Fatal("expected first send to fail")
	}

	admin.err = nil
	if err := svc.Resend(ctx, "perm-1"); err != nil {
		t.Fatalf("resend: %v", err)
	}

	assertStatuses(t, store, "perm-1", []Status{
		StatusCreated, StatusValidated, StatusUnableToSend,
		StatusValidated, StatusSentToPermissionAdministrator,
	})
}

func TestAccept_FoldsDataSourceIntoProjection(t *testing.T) {
	calc := &fakeCalculator{result: dataneed.ValidatedHistoricalResult{
		Granularities: []dataneed.Granularity{dataneed.GranularityDay},
		Timeframe:     tfRange(t, "2024-03-01T00:00:00Z", "2024-04-01T00:00:00Z"),
	}}
	svc, store, _ := newTestService(t, calc, &fakeAdministrator{})

	ctx := context.Background()
	req, err := svc.CreateAndSend(ctx, CreateParams{
		ConnectionID:    "conn-1",
		DataNeedID:      "need-1",
		MeteringPointID: "ES0021000000001",
	})
	if err != nil {
		t.Fatalf("create and send: %v", err)
	}

	if err := svc.Accept(ctx, req.PermissionID, "dso-42"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	accepted, err := store.FindByPermissionID(ctx, req.PermissionID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if accepted.Status != StatusAccepted {
		t.Errorf("expected ACCEPTED, got %s", accepted.Status)
	}
	if accepted.DataSource == nil || *accepted.DataSource != "dso-42" {
		t.Errorf("expected data source folded, got %+v", accepted.DataSource)
	}
	if accepted.Start == nil || !accepted.Start.Equal(mustTime(t, "2024-03-01T00:00:00Z")) {
		t.Errorf("expected validated timeframe carried over, got %+v", accepted.Start)
	}
}

func TestInvalidate_EndsSentRequest(t *testing.T) {
	calc := &fakeCalculator{result: dataneed.AccountingPointResult{
		Permission: tfRange(t, "2024-03-01T00:00:00Z", "2024-04-01T00:00:00Z"),
	}}
	svc, store, _ := newTestService(t, calc, &fakeAdministrator{})

	ctx := context.Background()
	req, err := svc.CreateAndSend(ctx, CreateParams{
		ConnectionID:    "conn-1",
		DataNeedID:      "need-1",
		MeteringPointID: "ES0021000000001",
	})
	if err != nil {
		t.Fatalf("create and send: %v", err)
	}

	if err := svc.Invalidate(ctx, req.PermissionID); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	assertStatuses(t, store, req.PermissionID, []Status{
		StatusCreated, StatusValidated, StatusSentToPermissionAdministrator, StatusInvalid,
	})

	if err := svc.Accept(ctx, req.PermissionID, "dso-1"); !IsStateTransitionError(err) {
		t.Fatalf("expected state transition error after INVALID, got %v", err)
	}
}

func TestTerminalOperations_RequireExistingRequest(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeCalculator{}, &fakeAdministrator{})

	if err := svc.Reject(context.Background(), "perm-missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func assertStatuses(t *testing.T, store *memStore, permissionID string, want []Status) {
	t.Helper()
	got := store.statuses(permissionID)
	if len(got) != len(want) {
		t.Fatalf("expected statuses %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected statuses %v, got %v", want, got)
		}
	}
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("perm-%d", n)
	}
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

type fakeCalculator struct {
	result dataneed.CalculationResult
	err    error
	calls  int
}

func (f *fakeCalculator) Calculate(ctx context.Context, dataNeedID string) (dataneed.CalculationResult, error) {
	f.calls++
	return f.result, f.err
}

type fakeAdministrator struct {
	sent int
	err  error
}

func (f *fakeAdministrator) SendPermissionRequest(ctx context.Context, req Request) error {
	if f.err != nil {
		return f.err
	}
	f.sent++
	return nil
}
