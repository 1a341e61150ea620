package permission

import (
	"context"
	"sync"
	"testing"
	"time"

	"permitflow/timeframe"
)

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse time %q: %v", value, err)
	}
	return ts
}

func tfRange(t *testing.T, start, end string) timeframe.Timeframe {
	t.Helper()
	return timeframe.Timeframe{Start: mustTime(t, start), End: mustTime(t, end)}
}

// memStore is an in-memory EventStore with the same transition checking and
// projection folding as the SQL store.
type memStore struct {
	mu       sync.Mutex
	events   map[string][]StoredEvent
	requests map[string]Request
	failNext error
}

func newMemStore() *memStore {
	return &memStore{
		events:   make(map[string][]StoredEvent),
		requests: make(map[string]Request),
	}
}

func (m *memStore) failOnce(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

func (m *memStore) Append(ctx context.Context, graph Graph, ev Event) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return 0, err
	}

	current := Status("")
	req, exists := m.requests[ev.PermissionID]
	if exists {
		current = req.Status
	}
	if err := graph.Check(ev.PermissionID, current, ev.Status); err != nil {
		return 0, err
	}

	seq := len(m.events[ev.PermissionID]) + 1
	m.events[ev.PermissionID] = append(m.events[ev.PermissionID], StoredEvent{
		PermissionID: ev.PermissionID,
		Seq:          seq,
		Status:       ev.Status,
		OccurredAt:   ev.OccurredAt,
	})

	if !exists {
		req = Request{CreatedAt: ev.OccurredAt}
	}
	apply(&req, ev)
	req.UpdatedAt = ev.OccurredAt
	m.requests[ev.PermissionID] = req

	return seq, nil
}

func (m *memStore) FindByPermissionID(ctx context.Context, permissionID string) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[permissionID]
	if !ok {
		return Request{}, ErrNotFound
	}
	return req, nil
}

func (m *memStore) History(ctx context.Context, permissionID string) ([]StoredEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StoredEvent(nil), m.events[permissionID]...), nil
}

func (m *memStore) ListStale(ctx context.Context, before time.Time, statuses ...Status) ([]Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	match := make(map[Status]struct{}, len(statuses))
	for _, st := range statuses {
		match[st] = struct{}{}
	}

	var stale []Request
	for _, req := range m.requests {
		if _, ok := match[req.Status]; !ok {
			continue
		}
		if req.LatestEventAt.Before(before) {
			stale = append(stale, req)
		}
	}
	return stale, nil
}

func (m *memStore) List(ctx context.Context, filters Filters) ([]Request, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var list []Request
	for _, req := range m.requests {
		if filters.Status != "" && req.Status != filters.Status {
			continue
		}
		if filters.ConnectionID != "" && req.ConnectionID != filters.ConnectionID {
			continue
		}
		list = append(list, req)
	}
	return list, len(list), nil
}

func (m *memStore) statuses(permissionID string) []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, 0, len(m.events[permissionID]))
	for _, ev := range m.events[permissionID] {
		out = append(out, ev.Status)
	}
	return out
}

// recordingPublisher captures emitted events and optionally fails.
type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *recordingPublisher) Emit(ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) emitted() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}
