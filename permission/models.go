package permission

import (
	"time"

	"permitflow/timeframe"
)

// Status is the lifecycle status of a permission request. The ordered
// statuses of a request's persisted events always form a path through the
// connector's transition graph.
type Status string

const (
	StatusCreated                         Status = "CREATED"
	StatusMalformed                       Status = "MALFORMED"
	StatusValidated                       Status = "VALIDATED"
	StatusUnableToSend                    Status = "UNABLE_TO_SEND"
	StatusSentToPermissionAdministrator   Status = "SENT_TO_PERMISSION_ADMINISTRATOR"
	StatusTimedOut                        Status = "TIMED_OUT"
	StatusInvalid                         Status = "INVALID"
	StatusRejected                        Status = "REJECTED"
	StatusAccepted                        Status = "ACCEPTED"
	StatusRevoked                         Status = "REVOKED"
	StatusTimeLimit                       Status = "TIME_LIMIT"
	StatusFulfilled                       Status = "FULFILLED"
	StatusTerminated                      Status = "TERMINATED"
)

// AttributeError is a field-level validation failure carried by a MALFORMED
// event and surfaced to the caller as a structured response.
type AttributeError struct {
	Attribute string `json:"attribute"`
	Message   string `json:"message"`
}

// Event is one immutable entry in a permission request's history. Payload is
// status-specific and stored as JSONB next to the event row.
type Event struct {
	PermissionID string
	Status       Status
	OccurredAt   time.Time
	Payload      any
}

// CreatedPayload carries the data of the initial CREATED event.
type CreatedPayload struct {
	ConnectionID string `json:"connectionId"`
	DataNeedID   string `json:"dataNeedId"`
}

// MalformedPayload carries the validation failures of a MALFORMED event.
type MalformedPayload struct {
	Errors []AttributeError `json:"errors"`
}

// ValidatedPayload carries the calculated timeframe and chosen granularity of
// a VALIDATED event.
type ValidatedPayload struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Granularity string    `json:"granularity,omitempty"`
}

// AcceptedPayload carries the administrator-confirmed timeframe plus
// data-source information of an ACCEPTED event.
type AcceptedPayload struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Granularity string    `json:"granularity,omitempty"`
	DataSource  string    `json:"dataSource,omitempty"`
}

// NewCreatedEvent starts a request's history.
func NewCreatedEvent(permissionID, connectionID, dataNeedID string, at time.Time) Event {
	return Event{
		PermissionID: permissionID,
		Status:       StatusCreated,
		OccurredAt:   at,
		Payload:      CreatedPayload{ConnectionID: connectionID, DataNeedID: dataNeedID},
	}
}

// NewMalformedEvent terminates a request that failed validation.
func NewMalformedEvent(permissionID string, at time.Time, errs []AttributeError) Event {
	return Event{
		PermissionID: permissionID,
		Status:       StatusMalformed,
		OccurredAt:   at,
		Payload:      MalformedPayload{Errors: errs},
	}
}

// NewValidatedEvent records a successfully calculated timeframe.
func NewValidatedEvent(permissionID string, at time.Time, tf timeframe.Timeframe, granularity string) Event {
	return Event{
		PermissionID: permissionID,
		Status:       StatusValidated,
		OccurredAt:   at,
		Payload:      ValidatedPayload{Start: tf.Start, End: tf.End, Granularity: granularity},
	}
}

// NewAcceptedEvent records the permission administrator's grant.
func NewAcceptedEvent(permissionID string, at time.Time, tf timeframe.Timeframe, granularity, dataSource string) Event {
	return Event{
		PermissionID: permissionID,
		Status:       StatusAccepted,
		OccurredAt:   at,
		Payload:      AcceptedPayload{Start: tf.Start, End: tf.End, Granularity: granularity, DataSource: dataSource},
	}
}

// NewSimpleEvent records a status change that carries no payload.
func NewSimpleEvent(permissionID string, status Status, at time.Time) Event {
	return Event{PermissionID: permissionID, Status: status, OccurredAt: at}
}

// StoredEvent is an event as read back from the event store.
type StoredEvent struct {
	PermissionID string
	Seq          int
	Status       Status
	OccurredAt   time.Time
	Payload      []byte
}

// Request is the read-optimized projection of a permission request: the
// status of its most recently committed event plus denormalized fields used
// by handlers and the stale query. It is rebuilt transactionally as each
// event is persisted and can always be reconstructed from the event log.
type Request struct {
	PermissionID  string
	ConnectionID  string
	DataNeedID    string
	Status        Status
	Start         *time.Time
	End           *time.Time
	Granularity   *string
	DataSource    *string
	LatestEventAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Filters narrows List queries over the projection.
type Filters struct {
	Status       Status
	ConnectionID string
	DataNeedID   string
	Page         int
	PageSize     int
	SortKey      string
	SortOrder    string
}

// apply folds one event into the projection.
func apply(req *Request, ev Event) {
	req.PermissionID = ev.PermissionID
	req.Status = ev.Status
	req.LatestEventAt = ev.OccurredAt

	switch p := ev.Payload.(type) {
	case CreatedPayload:
		req.ConnectionID = p.ConnectionID
		req.DataNeedID = p.DataNeedID
	case ValidatedPayload:
		start, end := p.Start, p.End
		req.Start, req.End = &start, &end
		if p.Granularity != "" {
			g := p.Granularity
			req.Granularity = &g
		}
	case AcceptedPayload:
		start, end := p.Start, p.End
		req.Start, req.End = &start, &end
		if p.Granularity != "" {
			g := p.Granularity
			req.Granularity = &g
		}
		if p.DataSource != "" {
			ds := p.DataSource
			req.DataSource = &ds
		}
	}
}

// Replay reconstructs the projection from a request's full event history,
// verifying every step against the transition graph.
func Replay(graph Graph, events []Event) (Request, error) {
	var req Request
	current := Status("")
	for _, ev := range events {
		if err := graph.Check(ev.PermissionID, current, ev.Status); err != nil {
			return Request{}, err
		}
		apply(&req, ev)
		current = ev.Status
	}
	return req, nil
}
