package permission

import (
	"context"
	"log/slog"
)

// Publisher fans a committed event out to subscribers. The bus implements it.
type Publisher interface {
	Emit(ev Event) error
}

// DeadLetterer records commit anomalies for operator follow-up. Optional.
type DeadLetterer interface {
	Record(ctx context.Context, permissionID, kind, detail string)
}

// Outbox is the sole entry point for permission state changes: it persists
// the event first and publishes it on the bus only when persistence
// succeeded. A handler reacting to a published event can therefore always
// find that event in the persisted history.
type Outbox struct {
	store       EventStore
	graph       Graph
	pub         Publisher
	logger      *slog.Logger
	deadLetters DeadLetterer
}

// NewOutbox builds the outbox for one connector's transition graph.
func NewOutbox(store EventStore, graph Graph, pub Publisher, logger *slog.Logger) *Outbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Outbox{store: store, graph: graph, pub: pub, logger: logger}
}

// WithDeadLetters routes persistence failures into the dead-letter log.
func (o *Outbox) WithDeadLetters(dl DeadLetterer) *Outbox {
	o.deadLetters = dl
	return o
}

// Commit persists ev and then publishes it. On persistence failure nothing
// is published, the state is unchanged, and the error is returned to the
// caller; an illegal transition is rejected without committing anything.
func (o *Outbox) Commit(ctx context.Context, ev Event) error {
	if _, err := o.store.Append(ctx, o.graph, ev); err != nil {
		if IsStateTransitionError(err) {
			o.logger.Warn("rejected illegal permission transition",
				"permissionId", ev.PermissionID,
				"status", ev.Status,
				"error", err)
			return err
		}
		o.logger.Error("failed to persist permission event; nothing published",
			"permissionId", ev.PermissionID,
			"status", ev.Status,
			"error", err)
		if o.deadLetters != nil {
			o.deadLetters.Record(ctx, ev.PermissionID, "persistence_failure", err.Error())
		}
		return err
	}

	if err := o.pub.Emit(ev); err != nil {
		// The event is durable; replay recovers it even though fan-out failed.
		o.logger.Error("failed to publish committed permission event",
			"permissionId", ev.PermissionID,
			"status", ev.Status,
			"error", err)
		if o.deadLetters != nil {
			o.deadLetters.Record(ctx, ev.PermissionID, "publish_failure", err.Error())
		}
		return err
	}

	return nil
}
