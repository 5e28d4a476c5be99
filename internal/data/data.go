// Package data provides data access layer implementations.
// It handles database connections, the shared Redis store, job lanes and outbound notifications.
package data

import (
	"CloudRelay/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewRedisClient,
	NewRedisStore,
	NewMySQLClient,
	NewCredentialRepo,
	NewPendingUploadRepo,
	NewRedisScheduler,
	NewNotifier,
	NewMetricsRegistry,
	NewPrometheusSink,
)

// Data contains all data layer dependencies.
type Data struct {
	// redisClient backs counters, locks and job lanes
	redisClient *redis.Client
	store       *RedisStore
	// Note: MySQL DB is not stored here, it's injected directly to repositories
}

// NewData creates a new Data instance with all data layer dependencies.
// Redis connection failure does not prevent application startup (graceful degradation).
func NewData(_ *conf.Data, logger log.Logger, rdb *redis.Client, store *RedisStore) (*Data, func(), error) {
	helper := log.NewHelper(logger)

	if rdb == nil {
		helper.Warn("Redis client is nil, counters and locks will be unavailable")
	}

	d := &Data{
		redisClient: rdb,
		store:       store,
	}

	cleanup := func() {
		helper.Info("closing the data resources")
		// Redis cleanup is handled by NewRedisClient's cleanup function
	}

	return d, cleanup, nil
}

// Store returns the shared state store.
func (d *Data) Store() *RedisStore {
	return d.store
}

// GetRedisClient returns the Redis client for advanced operations.
func (d *Data) GetRedisClient() *redis.Client {
	return d.redisClient
}
