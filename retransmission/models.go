package retransmission

import "time"

// Request asks the connector-specific polling collaborator to re-fetch data
// for an already-accepted permission.
type Request struct {
	ConnectorID  string
	PermissionID string
	From         time.Time
	To           time.Time
}

// Kind tags the single result produced for every retransmission request.
type Kind string

const (
	KindSuccess          Kind = "success"
	KindFailure          Kind = "failure"
	KindDataNotAvailable Kind = "data_not_available"
)

// Result is the correlated outcome of one retransmission request. Exactly
// one result is produced per request; Reason is set for failures only.
type Result struct {
	Kind         Kind
	PermissionID string
	At           time.Time
	Reason       string
}

// Succeeded builds a success result.
func Succeeded(permissionID string, at time.Time) Result {
	return Result{Kind: KindSuccess, PermissionID: permissionID, At: at}
}

// Failed builds a failure result carrying the reason.
func Failed(permissionID string, at time.Time, reason string) Result {
	return Result{Kind: KindFailure, PermissionID: permissionID, At: at, Reason: reason}
}

// NoData reports that the upstream holds no data for the requested range.
func NoData(permissionID string, at time.Time) Result {
	return Result{Kind: KindDataNotAvailable, PermissionID: permissionID, At: at}
}
