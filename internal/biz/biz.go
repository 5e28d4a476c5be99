// Package biz contains the connection health, error classification and recovery logic.
// Storage and transport live behind the interfaces in interfaces.go.
package biz

import (
	"CloudRelay/internal/data"

	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewErrorClassifier,
	NewStrategyResolver,
	NewErrorTracker,
	NewMetricsAggregator,
	NewOperationReporter,
	NewProviderRegistry,
	NewHealthChecker,
	NewTokenRefreshCoordinator,
	NewUploadRequeuer,
	NewRecoveryExecutor,
	NewBatchRefreshOrchestrator,
	// Bind data layer implementations to biz layer interfaces
	wire.Bind(new(StateStore), new(*data.RedisStore)),
	wire.Bind(new(CredentialRepo), new(*data.CredentialRepo)),
	wire.Bind(new(PendingUploadRepo), new(*data.PendingUploadRepo)),
	wire.Bind(new(Notifier), new(*data.Notifier)),
	wire.Bind(new(Scheduler), new(*data.RedisScheduler)),
	wire.Bind(new(MetricsSink), new(*data.PrometheusSink)),
	wire.Bind(new(HealthProber), new(*HealthChecker)),
	wire.Bind(new(RefreshCoordinator), new(*TokenRefreshCoordinator)),
)
