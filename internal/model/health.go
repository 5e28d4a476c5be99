package model

import "time"

// ConnectionState is the coarse health of a (principal, provider) connection.
type ConnectionState string

// Connection states.
const (
	StateHealthy      ConnectionState = "healthy"
	StateDegraded     ConnectionState = "degraded"
	StateUnhealthy    ConnectionState = "unhealthy"
	StateDisconnected ConnectionState = "disconnected"
)

// HealthStatus is an immutable snapshot of a connection. It is rebuilt on every probe,
// never patched in place.
type HealthStatus struct {
	Provider                Provider               `json:"provider"`
	PrincipalID             int64                  `json:"principal_id"`
	Status                  ConnectionState        `json:"status"`
	LastSuccessfulOperation *time.Time             `json:"last_successful_operation,omitempty"`
	ConsecutiveFailures     int64                  `json:"consecutive_failures"`
	LastErrorKind           ErrorKind              `json:"last_error_kind,omitempty"`
	LastErrorMessage        string                 `json:"last_error_message,omitempty"`
	TokenExpiresAt          *time.Time             `json:"token_expires_at,omitempty"`
	RequiresReconnection    bool                   `json:"requires_reconnection"`
	ProviderSpecificData    map[string]interface{} `json:"provider_specific_data,omitempty"`
	CheckedAt               time.Time              `json:"checked_at"`
}

// IsHealthy reports whether the connection can be used right now.
func (h HealthStatus) IsHealthy() bool {
	return h.Status == StateHealthy
}

// HasError reports whether the snapshot carries a classified failure.
func (h HealthStatus) HasError() bool {
	return h.LastErrorKind != ""
}

// TokenExpired reports whether the token had expired at the time of the check.
func (h HealthStatus) TokenExpired() bool {
	return h.TokenExpiresAt != nil && !h.TokenExpiresAt.After(h.CheckedAt)
}

// LiveTestResult is the outcome of a lightweight provider API call.
type LiveTestResult struct {
	Successful bool      `json:"successful"`
	Message    string    `json:"message"`
	ErrorKind  ErrorKind `json:"error_kind,omitempty"`
}

// TokenGrant is what a provider returns from a successful token refresh.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// RefreshOutcome is the result of a coordinated token refresh.
type RefreshOutcome struct {
	Successful      bool      `json:"successful"`
	WasAlreadyValid bool      `json:"was_already_valid"`
	InProgress      bool      `json:"in_progress"`
	Message         string    `json:"message"`
	ErrorKind       ErrorKind `json:"error_kind,omitempty"`
	Cause           error     `json:"-"`
}

// Succeeded reports whether the credential is usable after the call.
func (o *RefreshOutcome) Succeeded() bool {
	return o != nil && (o.Successful || o.WasAlreadyValid)
}
