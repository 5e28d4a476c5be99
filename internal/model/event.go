package model

import (
	"encoding/json"
	"time"
)

// AlertType identifies one throttling bucket of alerts.
type AlertType string

// Alert types.
const (
	AlertCriticalError       AlertType = "critical_error"
	AlertEscalation          AlertType = "escalation"
	AlertErrorRate           AlertType = "error_rate"
	AlertConsecutiveFailures AlertType = "consecutive_failures"
)

// AlertSeverity grades an alert for routing.
type AlertSeverity string

// Alert severities.
const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// Alert is raised by the error tracker and delivered by a Notifier.
type Alert struct {
	Type        AlertType     `json:"type"`
	Severity    AlertSeverity `json:"severity"`
	Provider    Provider      `json:"provider"`
	PrincipalID int64         `json:"principal_id"`
	ErrorKind   ErrorKind     `json:"error_kind,omitempty"`
	Operation   string        `json:"operation,omitempty"`
	Count       int64         `json:"count"`
	Message     string        `json:"message"`
	Timestamp   time.Time     `json:"timestamp"`
}

// RefreshFailureNotice tells a principal that recovery gave up or needs them.
type RefreshFailureNotice struct {
	PrincipalID  int64     `json:"principal_id"`
	Provider     Provider  `json:"provider"`
	ErrorKind    ErrorKind `json:"error_kind"`
	AttemptCount int64     `json:"attempt_count"`
	Detail       string    `json:"detail"`
}

// ErrorRecord is one append-only failure entry in an hourly bucket.
type ErrorRecord struct {
	ID          string            `json:"id"`
	Provider    Provider          `json:"provider"`
	PrincipalID int64             `json:"principal_id"`
	ErrorKind   ErrorKind         `json:"error_kind"`
	Operation   string            `json:"operation"`
	Message     string            `json:"message"`
	Timestamp   time.Time         `json:"timestamp"`
	Context     map[string]string `json:"context,omitempty"`
}

// Outcome of a recorded operation.
type Outcome string

// Outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// MetricEvent is the structured record handed to a metrics sink.
type MetricEvent struct {
	Timestamp   time.Time     `json:"timestamp"`
	Provider    Provider      `json:"provider"`
	PrincipalID int64         `json:"principal_id"`
	Operation   string        `json:"operation"`
	ErrorKind   ErrorKind     `json:"error_kind,omitempty"`
	Duration    time.Duration `json:"duration"`
	Bytes       int64         `json:"bytes,omitempty"`
	Outcome     Outcome       `json:"outcome"`
}

// Job is a unit of delayed work placed on a scheduler lane.
type Job struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Lane       string          `json:"lane"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	ReadyAt    time.Time       `json:"ready_at"`
}

// Job types.
const (
	JobTypeUploadRetry        = "upload_retry"
	JobTypeConnectionRecovery = "connection_recovery"
)

// UploadRetryPayload is the payload of an upload_retry job.
type UploadRetryPayload struct {
	UploadID    int64    `json:"upload_id"`
	PrincipalID int64    `json:"principal_id"`
	Provider    Provider `json:"provider"`
	Batch       int      `json:"batch"`
}

// ConnectionRecoveryPayload is the payload of a connection_recovery job.
type ConnectionRecoveryPayload struct {
	PrincipalID int64    `json:"principal_id"`
	Provider    Provider `json:"provider"`
	Attempt     int64    `json:"attempt"`
}
