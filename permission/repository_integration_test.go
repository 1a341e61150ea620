package permission

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TestPGStore_Integration connects to a real PostgreSQL via DATABASE_URL and
// verifies the transactional append path: sequence assignment, projection
// consistency, transition rejection, and the stale query.
func TestPGStore_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	if !tableExists(ctx, t, pool, "permission_events") || !tableExists(ctx, t, pool, "permission_requests") {
		t.Skip("database schema missing; apply migrations/0001_init.sql first")
	}

	store := NewPGStore(pool)
	graph := DefaultGraph()
	permissionID := fmt.Sprintf("perm-it-%d", time.Now().UnixNano())

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		_, _ = pool.Exec(ctx2, `DELETE FROM permission_events WHERE permission_id = $1`, permissionID)
		_, _ = pool.Exec(ctx2, `DELETE FROM permission_requests WHERE permission_id = $1`, permissionID)
	})

	now := time.Now().UTC().Truncate(time.Microsecond)

	seq, err := store.Append(ctx, graph, NewCreatedEvent(permissionID, "conn-it", "need-it", now))
	if err != nil {
		t.Fatalf("append created: %v", err)
	}
	if seq != 1 {
		t.Fatalf("expected seq 1, got %d", seq)
	}

	tf := tfRange(t, "2024-03-01T00:00:00Z", "2024-04-01T00:00:00Z")
	if seq, err = store.Append(ctx, graph, NewValidatedEvent(permissionID, now.Add(time.Second), tf, "PT1H")); err != nil {
		t.Fatalf("append validated: %v", err)
	}
	if seq != 2 {
		t.Fatalf("expected seq 2, got %d", seq)
	}

	// Illegal transition commits nothing.
	if _, err := store.Append(ctx, graph, NewSimpleEvent(permissionID, StatusAccepted, now.Add(2*time.Second))); !IsStateTransitionError(err) {
		t.Fatalf("expected StateTransitionError, got %v", err)
	}

	req, err := store.FindByPermissionID(ctx, permissionID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if req.Status != StatusValidated {
		t.Fatalf("expected projection status VALIDATED, got %s", req.Status)
	}
	if req.ConnectionID != "conn-it" || req.DataNeedID != "need-it" {
		t.Fatalf("created payload not folded: %+v", req)
	}
	if req.Granularity == nil || *req.Granularity != "PT1H" {
		t.Fatalf("validated payload not folded: %+v", req)
	}

	history, err := store.History(ctx, permissionID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 events, got %d", len(history))
	}
	for i, ev := range history {
		if ev.Seq != i+1 {
			t.Fatalf("expected dense sequence, got %+v", history)
		}
	}
	if history[len(history)-1].Status != req.Status {
		t.Fatalf("projection status %s does not match last event %s", req.Status, history[len(history)-1].Status)
	}

	stale, err := store.ListStale(ctx, time.Now().Add(time.Hour), StatusValidated, StatusSentToPermissionAdministrator)
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	found := false
	for _, r := range stale {
		if r.PermissionID == permissionID {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the VALIDATED request in the stale listing")
	}
}

// TestPGStore_ConcurrentAppends_Integration races conflicting transitions for
// one permission id; the advisory lock must let exactly one of them through.
func TestPGStore_ConcurrentAppends_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	if !tableExists(ctx, t, pool, "permission_events") {
		t.Skip("database schema missing; apply migrations/0001_init.sql first")
	}

	store := NewPGStore(pool)
	graph := DefaultGraph()
	permissionID := fmt.Sprintf("perm-race-%d", time.Now().UnixNano())

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		_, _ = pool.Exec(ctx2, `DELETE FROM permission_events WHERE permission_id = $1`, permissionID)
		_, _ = pool.Exec(ctx2, `DELETE FROM permission_requests WHERE permission_id = $1`, permissionID)
	})

	if _, err := store.Append(ctx, graph, NewCreatedEvent(permissionID, "conn-race", "need-race", time.Now().UTC())); err != nil {
		t.Fatalf("append created: %v", err)
	}

	// MALFORMED and VALIDATED are both legal after CREATED but terminal vs.
	// ongoing; only one concurrent commit may win.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	events := []Event{
		NewSimpleEvent(permissionID, StatusMalformed, time.Now().UTC()),
		NewSimpleEvent(permissionID, StatusValidated, time.Now().UTC()),
	}
	for i, ev := range events {
		wg.Add(1)
		go func(i int, ev Event) {
			defer wg.Done()
			_, errs[i] = store.Append(ctx, graph, ev)
		}(i, ev)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			if !IsStateTransitionError(err) {
				t.Fatalf("expected only transition rejections, got %v", err)
			}
			failures++
		}
	}

	history, err := store.History(ctx, permissionID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}

	// Neither status is legal after the other, so exactly one commit wins.
	if failures != 1 {
		t.Fatalf("expected exactly one rejected commit, got %d (%v)", failures, errs)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 events after one rejection, got %d", len(history))
	}
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	err := pool.QueryRow(ctx, `SELECT EXISTS (
		SELECT 1 FROM information_schema.tables WHERE table_name = $1
	)`, name).Scan(&exists)
	if err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
