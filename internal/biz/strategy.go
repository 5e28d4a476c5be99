package biz

import (
	"time"

	"CloudRelay/internal/conf"
	"CloudRelay/internal/model"
)

// RecoveryStrategy is the remedy chosen for an error kind.
type RecoveryStrategy string

// Recovery strategies.
const (
	StrategyNoActionNeeded           RecoveryStrategy = "no_action_needed"
	StrategyTokenRefresh             RecoveryStrategy = "token_refresh"
	StrategyNetworkRetry             RecoveryStrategy = "network_retry"
	StrategyQuotaWait                RecoveryStrategy = "quota_wait"
	StrategyServiceRetry             RecoveryStrategy = "service_retry"
	StrategyHealthCheckRetry         RecoveryStrategy = "health_check_retry"
	StrategyUserInterventionRequired RecoveryStrategy = "user_intervention_required"
	StrategyUnknown                  RecoveryStrategy = "unknown"
)

// ResolveStrategy maps an error kind to its recovery strategy. It is a pure, total function;
// unlisted kinds fall back to a health check retry.
func ResolveStrategy(kind model.ErrorKind) RecoveryStrategy {
	switch kind {
	case model.ErrorKindTokenExpired, model.ErrorKindInvalidCredentials:
		return StrategyTokenRefresh
	case model.ErrorKindNetworkError, model.ErrorKindTimeout:
		return StrategyNetworkRetry
	case model.ErrorKindAPIQuotaExceeded, model.ErrorKindTokenRefreshRateLimited:
		return StrategyQuotaWait
	case model.ErrorKindServiceUnavailable:
		return StrategyServiceRetry
	case model.ErrorKindInsufficientPermissions,
		model.ErrorKindFolderAccessDenied,
		model.ErrorKindStorageQuotaExceeded,
		model.ErrorKindFileTooLarge,
		model.ErrorKindInvalidFileType,
		model.ErrorKindProviderNotConfigured:
		return StrategyUserInterventionRequired
	default:
		return StrategyHealthCheckRetry
	}
}

// StrategyResolver pairs ResolveStrategy with the configured retry delays.
type StrategyResolver struct {
	delays map[RecoveryStrategy]time.Duration
}

// NewStrategyResolver creates a resolver from the recovery configuration.
func NewStrategyResolver(c *conf.Recovery) *StrategyResolver {
	delays := map[RecoveryStrategy]time.Duration{
		StrategyTokenRefresh:     time.Minute,
		StrategyNetworkRetry:     time.Minute,
		StrategyQuotaWait:        15 * time.Minute,
		StrategyServiceRetry:     5 * time.Minute,
		StrategyHealthCheckRetry: 2 * time.Minute,
	}
	if c != nil {
		setDelay(delays, StrategyTokenRefresh, c.NetworkDelay)
		setDelay(delays, StrategyNetworkRetry, c.NetworkDelay)
		setDelay(delays, StrategyQuotaWait, c.QuotaDelay)
		setDelay(delays, StrategyServiceRetry, c.ServiceDelay)
		setDelay(delays, StrategyHealthCheckRetry, c.HealthCheckDelay)
	}
	return &StrategyResolver{delays: delays}
}

func setDelay(delays map[RecoveryStrategy]time.Duration, s RecoveryStrategy, d time.Duration) {
	if d > 0 {
		delays[s] = d
	}
}

// Resolve returns the strategy for kind.
func (r *StrategyResolver) Resolve(kind model.ErrorKind) RecoveryStrategy {
	return ResolveStrategy(kind)
}

// RetryDelay is how long to wait before retrying after strategy failed.
// Strategies that never retry report 0.
func (r *StrategyResolver) RetryDelay(strategy RecoveryStrategy) time.Duration {
	return r.delays[strategy]
}
