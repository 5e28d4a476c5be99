package biz

import (
	"context"
	"time"

	"CloudRelay/internal/conf"
	"CloudRelay/internal/data"
	"CloudRelay/internal/model"
	pkglog "CloudRelay/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/sync/singleflight"
)

// OperationTokenRefresh is the operation name refreshes are tracked under.
const OperationTokenRefresh = "token_refresh"

// TokenRefreshCoordinator refreshes credentials with at most one refresh in flight per
// (principal, provider): callers in this process share one call, other processes fail fast
// on the Redis lock.
type TokenRefreshCoordinator struct {
	store      StateStore
	creds      CredentialRepo
	registry   *ProviderRegistry
	classifier *ErrorClassifier
	tracker    *ErrorTracker
	metrics    *MetricsAggregator
	group      singleflight.Group
	lockTTL    time.Duration
	margin     time.Duration
	logger     *pkglog.LogHelper
	now        func() time.Time
}

// NewTokenRefreshCoordinator creates a refresh coordinator.
func NewTokenRefreshCoordinator(
	store StateStore,
	creds CredentialRepo,
	registry *ProviderRegistry,
	classifier *ErrorClassifier,
	tracker *ErrorTracker,
	metrics *MetricsAggregator,
	c *conf.BatchRefresh,
	logger log.Logger,
) *TokenRefreshCoordinator {
	rc := &TokenRefreshCoordinator{
		store:      store,
		creds:      creds,
		registry:   registry,
		classifier: classifier,
		tracker:    tracker,
		metrics:    metrics,
		lockTTL:    60 * time.Second,
		margin:     5 * time.Minute,
		logger:     pkglog.NewLogHelper(logger),
		now:        time.Now,
	}
	if c != nil {
		if c.RefreshLockTTL > 0 {
			rc.lockTTL = c.RefreshLockTTL
		}
		if c.ValidityMargin > 0 {
			rc.margin = c.ValidityMargin
		}
	}
	return rc
}

// CoordinateRefresh refreshes the principal's credential unless it is still valid or another
// refresh already holds the lock. It never returns nil.
func (c *TokenRefreshCoordinator) CoordinateRefresh(ctx context.Context, principalID int64, provider model.Provider) *model.RefreshOutcome {
	key := refreshLockKey(provider, principalID)
	v, _, _ := c.group.Do(key, func() (interface{}, error) {
		return c.refresh(ctx, principalID, provider, key), nil
	})
	return v.(*model.RefreshOutcome)
}

func (c *TokenRefreshCoordinator) refresh(ctx context.Context, principalID int64, provider model.Provider, lockKey string) *model.RefreshOutcome {
	token, ok, err := c.store.TryLock(ctx, lockKey, c.lockTTL)
	if err != nil {
		c.logger.Errorw("msg", "refresh lock unavailable", "provider", provider, "principal_id", principalID, "error", err)
		return &model.RefreshOutcome{Message: "refresh lock unavailable", ErrorKind: model.ErrorKindUnknown, Cause: err}
	}
	if !ok {
		return &model.RefreshOutcome{InProgress: true, Message: "refresh already in progress"}
	}
	defer func() {
		if _, err := c.store.Unlock(context.WithoutCancel(ctx), lockKey, token); err != nil {
			c.logger.Warnw("msg", "failed to release refresh lock", "key", lockKey, "error", err)
		}
	}()

	cred, err := c.creds.GetCredential(ctx, principalID, provider)
	if err != nil {
		if data.IsCredentialNotFound(err) {
			return &model.RefreshOutcome{Message: "no credential stored", ErrorKind: model.ErrorKindInvalidCredentials, Cause: err}
		}
		return &model.RefreshOutcome{Message: "failed to load credential", ErrorKind: model.ErrorKindUnknown, Cause: err}
	}

	now := c.now()
	if cred.ValidFor(now, c.margin) {
		return &model.RefreshOutcome{WasAlreadyValid: true, Message: "token still valid"}
	}
	if !cred.IsConnected() {
		return &model.RefreshOutcome{Message: "credential is disconnected", ErrorKind: model.ErrorKindInvalidCredentials}
	}

	client, err := c.registry.Client(provider)
	if err != nil {
		return c.fail(ctx, cred, c.classifier.ClassifyRefresh(provider, err), err, now, 0)
	}

	grant, err := client.RefreshToken(ctx, cred)
	elapsed := c.now().Sub(now)
	if err != nil {
		return c.fail(ctx, cred, c.classifier.ClassifyRefresh(provider, err), err, now, elapsed)
	}
	if grant == nil || grant.AccessToken == "" {
		c.record(ctx, cred, model.ErrorKindUnknown, now, elapsed)
		return &model.RefreshOutcome{Message: "provider returned an empty grant", ErrorKind: model.ErrorKindUnknown}
	}

	if err := c.creds.UpdateTokens(ctx, cred.ID, *grant, now); err != nil {
		c.logger.Errorw("msg", "failed to persist refreshed tokens", "credential_id", cred.ID, "error", err)
		c.record(ctx, cred, model.ErrorKindUnknown, now, elapsed)
		return &model.RefreshOutcome{Message: "failed to persist refreshed tokens", ErrorKind: model.ErrorKindUnknown, Cause: err}
	}
	c.record(ctx, cred, "", now, elapsed)
	if err := c.tracker.TrackSuccess(ctx, principalID, provider, OperationTokenRefresh); err != nil {
		c.logger.Warnw("msg", "failed to reset refresh streak", "provider", provider, "principal_id", principalID, "error", err)
	}

	c.logger.Refresh("token refreshed", "provider", provider, "principal_id", principalID, "expires_in", grant.ExpiresIn, "duration", elapsed)
	return &model.RefreshOutcome{Successful: true, Message: "token refreshed"}
}

func (c *TokenRefreshCoordinator) fail(ctx context.Context, cred *data.Credential, kind model.ErrorKind, cause error, started time.Time, elapsed time.Duration) *model.RefreshOutcome {
	c.record(ctx, cred, kind, started, elapsed)
	if err := c.creds.RecordError(ctx, cred.ID, kind, cause.Error()); err != nil {
		c.logger.Warnw("msg", "failed to record credential error", "credential_id", cred.ID, "error", err)
	}
	if _, err := c.tracker.TrackFailure(ctx, &Failure{
		PrincipalID: cred.PrincipalID,
		Provider:    cred.Provider,
		Kind:        kind,
		Operation:   OperationTokenRefresh,
		Message:     cause.Error(),
	}); err != nil {
		c.logger.Warnw("msg", "failed to track refresh failure", "credential_id", cred.ID, "error", err)
	}

	c.logger.Warnw("msg", "token refresh failed",
		"provider", cred.Provider,
		"principal_id", cred.PrincipalID,
		"error_kind", kind,
		"error", cause)
	return &model.RefreshOutcome{Message: cause.Error(), ErrorKind: kind, Cause: cause}
}

// record publishes one refresh attempt against the provider; an empty kind is a success.
func (c *TokenRefreshCoordinator) record(ctx context.Context, cred *data.Credential, kind model.ErrorKind, started time.Time, elapsed time.Duration) {
	err := c.metrics.RecordOperation(ctx, &OperationEvent{
		PrincipalID: cred.PrincipalID,
		Provider:    cred.Provider,
		Operation:   OperationTokenRefresh,
		Success:     kind == "",
		ErrorKind:   kind,
		Duration:    elapsed,
		Timestamp:   started,
	})
	if err != nil {
		c.logger.Warnw("msg", "failed to record refresh metrics", "credential_id", cred.ID, "error", err)
	}
}
