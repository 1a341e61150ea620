package callback

// Decision is the permission administrator's verdict delivered on the
// asynchronous callback channel.
type Decision string

const (
	DecisionAccepted Decision = "accepted"
	DecisionRejected Decision = "rejected"
	DecisionInvalid  Decision = "invalid"
)

// AdministratorCallback is the normalized callback payload. Administrators
// may deliver the same decision more than once; IdempotencyKey deduplicates
// replays.
type AdministratorCallback struct {
	PermissionID   string
	IdempotencyKey string
	Decision       Decision
	DataSource     string
}
