package auth

import "time"

type Role string

const (
	RoleEligibleParty Role = "eligible_party"
	RoleAdministrator Role = "administrator"
	RoleOperator      Role = "operator"
)

// Client is the domain representation of an authenticated connector client.
// It mirrors the connector_clients table and should not include JSON
// annotations so it can be reused by different presentation layers.
type Client struct {
	ID          string
	ClientID    string
	Name        string
	SecretHash  string
	ConnectorID string
	Role        Role
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RegisterRequest contains client registration data supplied by callers.
type RegisterRequest struct {
	ClientID    string `json:"client_id"`
	Secret      string `json:"secret"`
	Name        string `json:"name"`
	ConnectorID string `json:"connector_id"`
	Role        Role   `json:"role"`
}

// LoginRequest contains client credentials.
type LoginRequest struct {
	ClientID string `json:"client_id"`
	Secret   string `json:"secret"`
}
