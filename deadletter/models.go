package deadletter

import "time"

// Status represents the lifecycle of a dead-letter record.
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
)

// Kind classifies why the entry was dead-lettered.
type Kind string

const (
	KindPersistenceFailure Kind = "persistence_failure"
	KindPublishFailure     Kind = "publish_failure"
	KindDroppedResponse    Kind = "dropped_response"
)

// Record mirrors the dead_letters table.
type Record struct {
	ID           string
	ConnectorID  string
	PermissionID string
	Kind         Kind
	Detail       string
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ResolvedAt   *time.Time
}
