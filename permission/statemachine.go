package permission

import (
	"errors"
	"fmt"
)

// StateTransitionError reports an attempted transition that is not legal from
// the request's current status. No event is committed when it is returned.
type StateTransitionError struct {
	PermissionID string
	From         Status
	To           Status
}

func (e *StateTransitionError) Error() string {
	if e.From == "" {
		return fmt.Sprintf("permission %s: history must start with %s, got %s", e.PermissionID, StatusCreated, e.To)
	}
	return fmt.Sprintf("permission %s: illegal transition %s -> %s", e.PermissionID, e.From, e.To)
}

// IsStateTransitionError reports whether err is (or wraps) a transition rejection.
func IsStateTransitionError(err error) bool {
	var ste *StateTransitionError
	return errors.As(err, &ste)
}

// Graph is the legal transition table of one connector. A status missing
// from the edge map is terminal: no further events are accepted after it.
type Graph struct {
	edges map[Status][]Status
}

// DefaultGraph is the shared permission process every region connector
// starts from:
//
//	CREATED -> VALIDATED -> SENT_TO_PERMISSION_ADMINISTRATOR -> ACCEPTED -> FULFILLED | TERMINATED
//
// with validation failure (MALFORMED), administrator rejection (REJECTED),
// the sweeper's forced TIMED_OUT, the VALIDATED <-> UNABLE_TO_SEND retry
// loop, and the ACCEPTED-side exits (REVOKED, TIME_LIMIT).
func DefaultGraph() Graph {
	return Graph{edges: map[Status][]Status{
		StatusCreated:      {StatusValidated, StatusMalformed, StatusTimedOut},
		StatusValidated:    {StatusSentToPermissionAdministrator, StatusUnableToSend, StatusTimedOut},
		StatusUnableToSend: {StatusValidated, StatusTimedOut},
		StatusSentToPermissionAdministrator: {
			StatusAccepted,
			StatusRejected,
			StatusInvalid,
			StatusTimedOut,
		},
		StatusAccepted: {
			StatusFulfilled,
			StatusTerminated,
			StatusRevoked,
			StatusTimeLimit,
			StatusTimedOut,
		},
	}}
}

// With returns a copy of the graph widened by the given extra edges.
// Connectors whose national process has additional legal transitions extend
// the shared graph this way instead of replacing it.
func (g Graph) With(extra map[Status][]Status) Graph {
	edges := make(map[Status][]Status, len(g.edges)+len(extra))
	for from, tos := range g.edges {
		edges[from] = append([]Status(nil), tos...)
	}
	for from, tos := range extra {
		for _, to := range tos {
			if !contains(edges[from], to) {
				edges[from] = append(edges[from], to)
			}
		}
	}
	return Graph{edges: edges}
}

// Allows reports whether an event with status to may follow current. The
// empty current status stands for "no events yet"; only CREATED is legal then.
func (g Graph) Allows(current, to Status) bool {
	if current == "" {
		return to == StatusCreated
	}
	return contains(g.edges[current], to)
}

// Terminal reports whether no further events are accepted after s.
func (g Graph) Terminal(s Status) bool {
	return len(g.edges[s]) == 0
}

// Check returns a StateTransitionError when the step is not legal.
func (g Graph) Check(permissionID string, current, to Status) error {
	if !g.Allows(current, to) {
		return &StateTransitionError{PermissionID: permissionID, From: current, To: to}
	}
	return nil
}

func contains(haystack []Status, needle Status) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
