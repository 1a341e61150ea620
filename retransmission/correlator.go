package retransmission

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// OutboundPort carries retransmission requests to the connector-specific
// polling collaborator. The collaborator must eventually produce exactly one
// correlated Result per request; the correlator registers no timeout of its
// own.
type OutboundPort interface {
	Send(ctx context.Context, req Request) error
}

// Correlator turns the fire-and-forget outbound request into an awaitable
// result by registering a single-use completion slot per permission id.
// Pending slots are memory-only: requests in flight across a restart are
// lost and must be re-issued by the caller.
type Correlator struct {
	mu        sync.Mutex
	pending   map[string]chan Result
	out       OutboundPort
	logger    *slog.Logger
	onDropped func(Result)
}

// NewCorrelator builds a correlator over the outbound port.
func NewCorrelator(out OutboundPort, logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{
		pending: make(map[string]chan Result),
		out:     out,
		logger:  logger,
	}
}

// WithDroppedHandler observes unmatched correlated results, e.g. to record
// them as dead letters.
func (c *Correlator) WithDroppedHandler(fn func(Result)) *Correlator {
	c.onDropped = fn
	return c
}

// Pending is the awaitable side of one published retransmission request.
type Pending struct {
	permissionID string
	ch           chan Result
	correlator   *Correlator
}

// Publish sends the request outbound and registers its completion slot
// atomically with respect to Resolve. A second publish for the same
// permission id while the first is still pending replaces the earlier slot;
// the earlier caller's Await will never resolve. That is a caller error and
// is logged loudly.
func (c *Correlator) Publish(ctx context.Context, req Request) (*Pending, error) {
	if req.PermissionID == "" {
		return nil, fmt.Errorf("retransmission: missing permission id")
	}

	ch := make(chan Result, 1)

	c.mu.Lock()
	if _, exists := c.pending[req.PermissionID]; exists {
		c.logger.Warn("replacing in-flight retransmission registration; earlier caller will not resolve",
			"permissionId", req.PermissionID)
	}
	c.pending[req.PermissionID] = ch
	c.mu.Unlock()

	if err := c.out.Send(ctx, req); err != nil {
		c.release(req.PermissionID, ch)
		return nil, fmt.Errorf("retransmission: publish %s: %w", req.PermissionID, err)
	}

	return &Pending{permissionID: req.PermissionID, ch: ch, correlator: c}, nil
}

// Await blocks until the correlated result arrives or ctx is cancelled.
// Cancellation releases the registration so a late response cannot resolve
// a caller that already gave up.
func (p *Pending) Await(ctx context.Context) (Result, error) {
	select {
	case res := <-p.ch:
		return res, nil
	case <-ctx.Done():
		if p.correlator != nil {
			p.correlator.release(p.permissionID, p.ch)
		}
		// The result may have raced the cancellation; prefer it if so.
		select {
		case res := <-p.ch:
			return res, nil
		default:
		}
		return Result{}, ctx.Err()
	}
}

// Resolve completes the pending slot registered for the result's permission
// id. Late, duplicate, or unknown results are dropped with a warning; that
// is not an error condition for the inbound handler.
func (c *Correlator) Resolve(res Result) bool {
	c.mu.Lock()
	ch, ok := c.pending[res.PermissionID]
	if ok {
		delete(c.pending, res.PermissionID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("dropping correlated result with no pending request",
			"permissionId", res.PermissionID,
			"kind", res.Kind)
		if c.onDropped != nil {
			c.onDropped(res)
		}
		return false
	}

	ch <- res
	return true
}

// PendingCount reports the number of outstanding registrations.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// release removes the registration only if it still points at ch, so a
// replacement registration made in the meantime survives.
func (c *Correlator) release(permissionID string, ch chan Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if current, ok := c.pending[permissionID]; ok && current == ch {
		delete(c.pending, permissionID)
	}
}
