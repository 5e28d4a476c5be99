package biz

import (
	"context"
	"time"

	"CloudRelay/internal/data"
	"CloudRelay/internal/model"
)

// StateStore is the shared key-value store behind counters, buckets, locks and summaries.
type StateStore interface {
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	SetIfAbsent(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error

	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	SetInt(ctx context.Context, key string, value int64, ttl time.Duration) error
	GetInt(ctx context.Context, key string) (int64, error)

	IncrField(ctx context.Context, key, field string, n int64, ttl time.Duration) (int64, error)
	Fields(ctx context.Context, key string) (map[string]int64, error)

	PushCapped(ctx context.Context, key string, value interface{}, limit int64, ttl time.Duration) error
	List(ctx context.Context, key string) ([]string, error)

	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Unlock(ctx context.Context, key, token string) (bool, error)
}

// CredentialRepo persists delegated provider credentials.
type CredentialRepo interface {
	GetCredential(ctx context.Context, principalID int64, provider model.Provider) (*data.Credential, error)
	ListExpiringCredentials(ctx context.Context, threshold time.Time) ([]*data.Credential, error)
	UpdateTokens(ctx context.Context, id int64, grant model.TokenGrant, now time.Time) error
	RecordError(ctx context.Context, id int64, kind model.ErrorKind, message string) error
}

// PendingUploadRepo is the queue of uploads waiting for a healthy connection.
type PendingUploadRepo interface {
	ListRecoverableUploads(ctx context.Context, principalID int64, provider model.Provider, limit int) ([]*data.PendingUpload, error)
	MarkRecoverySkipped(ctx context.Context, id int64, reason string) error
	MarkRequeued(ctx context.Context, id int64) error
	LatestErrorKind(ctx context.Context, principalID int64, provider model.Provider) (model.ErrorKind, error)
}

// Notifier delivers principal and operator notifications.
type Notifier interface {
	SendConnectionRestored(ctx context.Context, principalID int64, provider model.Provider) error
	SendRefreshFailure(ctx context.Context, notice *model.RefreshFailureNotice) error
	SendAlert(ctx context.Context, alert *model.Alert) error
}

// Scheduler places delayed jobs on named lanes.
type Scheduler interface {
	Enqueue(ctx context.Context, job *model.Job, delay time.Duration, lane string) (string, error)
}

// MetricsSink receives every recorded operation and batch summary.
type MetricsSink interface {
	Record(ctx context.Context, event *model.MetricEvent) error
	RecordBatch(ctx context.Context, run *model.BatchRun) error
}

// HealthProber checks a principal's connection to a provider.
type HealthProber interface {
	ValidateConnectionHealth(ctx context.Context, principalID int64, provider model.Provider) (*model.HealthStatus, error)
	PerformLiveAPITest(ctx context.Context, principalID int64, provider model.Provider) (*model.LiveTestResult, error)
}

// RefreshCoordinator guarantees at most one token refresh in flight per (principal, provider).
type RefreshCoordinator interface {
	CoordinateRefresh(ctx context.Context, principalID int64, provider model.Provider) *model.RefreshOutcome
}

// ProviderClient is the slice of a provider SDK adapter the engine needs.
type ProviderClient interface {
	Provider() model.Provider
	RefreshToken(ctx context.Context, cred *data.Credential) (*model.TokenGrant, error)
	Ping(ctx context.Context, cred *data.Credential) error
}
