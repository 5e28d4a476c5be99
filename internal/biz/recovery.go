package biz

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"CloudRelay/internal/conf"
	"CloudRelay/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// OperationConnectionRecovery is the operation name recovery runs are recorded under.
const OperationConnectionRecovery = "connection_recovery"

// RecoveryResult is the typed outcome of one recovery run.
type RecoveryResult struct {
	Success        bool             `json:"success"`
	Message        string           `json:"message"`
	Strategy       RecoveryStrategy `json:"strategy"`
	ErrorKind      model.ErrorKind  `json:"error_kind,omitempty"`
	Cause          error            `json:"-"`
	Requeued       int              `json:"requeued"`
	Attempts       int64            `json:"attempts,omitempty"`
	Notified       bool             `json:"notified"`
	RetryScheduled bool             `json:"retry_scheduled"`
}

// RecoveryExecutor probes a broken connection, picks a strategy for its error kind, runs it
// and then requeues work, schedules a silent retry or tells the principal.
type RecoveryExecutor struct {
	prober     HealthProber
	refresher  RefreshCoordinator
	uploads    PendingUploadRepo
	requeuer   *UploadRequeuer
	notifier   Notifier
	scheduler  Scheduler
	store      StateStore
	metrics    *MetricsAggregator
	resolver   *StrategyResolver
	health     *expirable.LRU[string, model.HealthStatus]
	lane       string
	attemptTTL time.Duration
	logger     *log.Helper
	now        func() time.Time
}

// NewRecoveryExecutor creates a recovery executor.
func NewRecoveryExecutor(
	prober HealthProber,
	refresher RefreshCoordinator,
	uploads PendingUploadRepo,
	requeuer *UploadRequeuer,
	notifier Notifier,
	scheduler Scheduler,
	store StateStore,
	metrics *MetricsAggregator,
	resolver *StrategyResolver,
	c *conf.Recovery,
	logger log.Logger,
) *RecoveryExecutor {
	lane := "connection-recovery"
	attemptTTL := 24 * time.Hour
	cacheSize := 10000
	cacheTTL := 10 * time.Minute
	if c != nil {
		if c.Lane != "" {
			lane = c.Lane
		}
		if c.AttemptTTL > 0 {
			attemptTTL = c.AttemptTTL
		}
		if c.HealthCacheSize > 0 {
			cacheSize = c.HealthCacheSize
		}
		if c.HealthCacheTTL > 0 {
			cacheTTL = c.HealthCacheTTL
		}
	}

	return &RecoveryExecutor{
		prober:     prober,
		refresher:  refresher,
		uploads:    uploads,
		requeuer:   requeuer,
		notifier:   notifier,
		scheduler:  scheduler,
		store:      store,
		metrics:    metrics,
		resolver:   resolver,
		health:     expirable.NewLRU[string, model.HealthStatus](cacheSize, nil, cacheTTL),
		lane:       lane,
		attemptTTL: attemptTTL,
		logger:     log.NewHelper(logger),
		now:        time.Now,
	}
}

// Recover runs one recovery attempt for (principal, provider). It never returns nil and never
// panics; every failure is folded into the result.
func (e *RecoveryExecutor) Recover(ctx context.Context, principalID int64, provider model.Provider) (result *RecoveryResult) {
	start := e.now()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Errorw("msg", "recovery panicked", "provider", provider, "principal_id", principalID, "panic", r)
			result = &RecoveryResult{
				Strategy:  StrategyUnknown,
				ErrorKind: model.ErrorKindUnknown,
				Message:   fmt.Sprintf("recovery aborted: %v", r),
			}
		}
		e.record(ctx, principalID, provider, result, e.now().Sub(start))
	}()

	return e.recover(ctx, principalID, provider)
}

// CachedHealth returns the last snapshot probed for (principal, provider), if still cached.
func (e *RecoveryExecutor) CachedHealth(principalID int64, provider model.Provider) (model.HealthStatus, bool) {
	return e.health.Get(healthCacheKey(principalID, provider))
}

func (e *RecoveryExecutor) recover(ctx context.Context, principalID int64, provider model.Provider) *RecoveryResult {
	status := e.probe(ctx, principalID, provider)
	if status != nil && status.IsHealthy() {
		return &RecoveryResult{
			Success:  true,
			Strategy: StrategyNoActionNeeded,
			Message:  "connection is healthy",
			Requeued: e.requeue(ctx, principalID, provider),
		}
	}

	kind := e.determineErrorKind(ctx, principalID, provider, status)
	strategy := e.resolver.Resolve(kind)

	result := &RecoveryResult{Strategy: strategy, ErrorKind: kind}
	e.execute(ctx, principalID, provider, result)

	if result.Success {
		e.onSuccess(ctx, principalID, provider, result)
	} else {
		e.onFailure(ctx, principalID, provider, result)
	}

	e.logger.Infow("msg", "connection recovery finished",
		"provider", provider,
		"principal_id", principalID,
		"strategy", result.Strategy,
		"error_kind", result.ErrorKind,
		"success", result.Success,
		"requeued", result.Requeued,
		"notified", result.Notified,
		"retry_scheduled", result.RetryScheduled)
	return result
}

// probe validates the connection and caches the fresh snapshot. A failed probe returns nil.
func (e *RecoveryExecutor) probe(ctx context.Context, principalID int64, provider model.Provider) *model.HealthStatus {
	status, err := e.prober.ValidateConnectionHealth(ctx, principalID, provider)
	if err != nil {
		e.logger.Warnw("msg", "health probe failed", "provider", provider, "principal_id", principalID, "error", err)
		return nil
	}
	e.health.Add(healthCacheKey(principalID, provider), *status)
	return status
}

// determineErrorKind prefers the cached snapshot's error, then the latest failed upload.
func (e *RecoveryExecutor) determineErrorKind(ctx context.Context, principalID int64, provider model.Provider, status *model.HealthStatus) model.ErrorKind {
	if cached, ok := e.CachedHealth(principalID, provider); ok && cached.HasError() {
		return cached.LastErrorKind
	}

	kind, err := e.uploads.LatestErrorKind(ctx, principalID, provider)
	if err != nil {
		e.logger.Warnw("msg", "failed to load latest upload error", "provider", provider, "principal_id", principalID, "error", err)
	}
	if kind != "" {
		return kind
	}

	if status != nil && status.RequiresReconnection {
		return model.ErrorKindInvalidCredentials
	}
	return ""
}

// execute runs the strategy and fills in success, message and the kind observed while executing.
func (e *RecoveryExecutor) execute(ctx context.Context, principalID int64, provider model.Provider, result *RecoveryResult) {
	switch result.Strategy {
	case StrategyNoActionNeeded:
		result.Success = true
		result.Message = "no action needed"

	case StrategyTokenRefresh:
		outcome := e.refresher.CoordinateRefresh(ctx, principalID, provider)
		result.Success = outcome.Succeeded()
		result.Message = outcome.Message
		result.Cause = outcome.Cause
		if outcome.ErrorKind != "" {
			result.ErrorKind = outcome.ErrorKind
		}

	case StrategyNetworkRetry, StrategyQuotaWait, StrategyServiceRetry:
		live, err := e.prober.PerformLiveAPITest(ctx, principalID, provider)
		if err != nil {
			result.Message = "live API test failed"
			result.Cause = err
			return
		}
		result.Success = live.Successful
		result.Message = live.Message
		if live.ErrorKind != "" {
			result.ErrorKind = live.ErrorKind
		}

	case StrategyHealthCheckRetry:
		status := e.probe(ctx, principalID, provider)
		if status == nil {
			result.Message = "health check failed"
			return
		}
		result.Success = status.IsHealthy()
		result.Message = fmt.Sprintf("connection is %s", status.Status)
		if status.HasError() {
			result.ErrorKind = status.LastErrorKind
		}

	case StrategyUserInterventionRequired:
		result.Message = "user action required: " + result.ErrorKind.Description()

	default:
		result.Message = "no recovery strategy available"
	}
}

func (e *RecoveryExecutor) onSuccess(ctx context.Context, principalID int64, provider model.Provider, result *RecoveryResult) {
	result.Requeued = e.requeue(ctx, principalID, provider)

	if err := e.notifier.SendConnectionRestored(ctx, principalID, provider); err != nil {
		e.logger.Warnw("msg", "failed to send connection restored notification", "provider", provider, "principal_id", principalID, "error", err)
	}
	if err := e.store.Delete(ctx, recoveryAttemptsKey(provider, principalID)); err != nil {
		e.logger.Warnw("msg", "failed to reset recovery attempts", "provider", provider, "principal_id", principalID, "error", err)
	}
}

// onFailure surfaces the failure to the principal when only they can fix it or the kind's retry
// budget is spent; otherwise it schedules a silent retry. A kind allowing n retries is surfaced on
// failure n+1, so kinds allowing none are surfaced at once.
func (e *RecoveryExecutor) onFailure(ctx context.Context, principalID int64, provider model.Provider, result *RecoveryResult) {
	attempts, err := e.store.Incr(ctx, recoveryAttemptsKey(provider, principalID), e.attemptTTL)
	if err != nil {
		e.logger.Warnw("msg", "failed to count recovery attempt", "provider", provider, "principal_id", principalID, "error", err)
	}
	result.Attempts = attempts

	kind := result.ErrorKind
	if kind == "" {
		kind = model.ErrorKindUnknown
	}

	if kind.RequiresUserIntervention() || (attempts > 0 && attempts > int64(kind.MaxRetryAttempts())) {
		notice := &model.RefreshFailureNotice{
			PrincipalID:  principalID,
			Provider:     provider,
			ErrorKind:    kind,
			AttemptCount: attempts,
			Detail:       kind.Description(),
		}
		if err := e.notifier.SendRefreshFailure(ctx, notice); err != nil {
			e.logger.Warnw("msg", "failed to send refresh failure notification", "provider", provider, "principal_id", principalID, "error", err)
			return
		}
		result.Notified = true
		return
	}

	payload, err := json.Marshal(model.ConnectionRecoveryPayload{
		PrincipalID: principalID,
		Provider:    provider,
		Attempt:     attempts,
	})
	if err != nil {
		e.logger.Errorw("msg", "failed to encode recovery retry", "error", err)
		return
	}

	delay := e.resolver.RetryDelay(result.Strategy)
	if _, err := e.scheduler.Enqueue(ctx, &model.Job{Type: model.JobTypeConnectionRecovery, Payload: payload}, delay, e.lane); err != nil {
		e.logger.Errorw("msg", "failed to schedule recovery retry", "provider", provider, "principal_id", principalID, "error", err)
		return
	}
	result.RetryScheduled = true
}

func (e *RecoveryExecutor) requeue(ctx context.Context, principalID int64, provider model.Provider) int {
	res, err := e.requeuer.Requeue(ctx, principalID, provider)
	if err != nil {
		e.logger.Warnw("msg", "failed to requeue pending uploads", "provider", provider, "principal_id", principalID, "error", err)
	}
	if res == nil {
		return 0
	}
	return res.Requeued
}

func (e *RecoveryExecutor) record(ctx context.Context, principalID int64, provider model.Provider, result *RecoveryResult, elapsed time.Duration) {
	if result == nil {
		return
	}
	err := e.metrics.RecordOperation(ctx, &OperationEvent{
		PrincipalID: principalID,
		Provider:    provider,
		Operation:   OperationConnectionRecovery,
		Success:     result.Success,
		ErrorKind:   result.ErrorKind,
		Duration:    elapsed,
	})
	if err != nil {
		e.logger.Warnw("msg", "failed to record recovery metrics", "provider", provider, "principal_id", principalID, "error", err)
	}
}

func healthCacheKey(principalID int64, provider model.Provider) string {
	return fmt.Sprintf("%s:%d", provider, principalID)
}
