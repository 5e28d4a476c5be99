package biz

import (
	"strconv"
	"time"

	"CloudRelay/internal/data"
	"CloudRelay/internal/model"
)

// hourLayout names hourly buckets, always in UTC.
const hourLayout = "2006010215"

const (
	batchLockKey   = "token_refresh:batch:lock"
	batchLatestKey = "token_refresh:batch:latest"
)

func hourBucket(t time.Time) string {
	return t.UTC().Format(hourLayout)
}

func principal(id int64) string {
	return strconv.FormatInt(id, 10)
}

func errorBucketKey(provider model.Provider, principalID int64, hour string) string {
	return data.BuildKey("errors", provider.String(), principal(principalID), hour)
}

func errorRecordsKey(provider model.Provider, principalID int64, hour string) string {
	return data.BuildKey("errors", provider.String(), principal(principalID), "records", hour)
}

// providerErrorsKey counts tracked failures of every principal of a provider in one hour.
func providerErrorsKey(provider model.Provider, hour string) string {
	return data.BuildKey("errors", provider.String(), "all", hour)
}

func consecutiveKey(provider model.Provider, principalID int64, operation string) string {
	return data.BuildKey("errors", provider.String(), principal(principalID), "consecutive", operation)
}

func alertKey(provider model.Provider, principalID int64, alertType model.AlertType) string {
	return data.BuildKey("alerts", provider.String(), principal(principalID), string(alertType))
}

func metricsBucketKey(provider model.Provider, operation, hour string) string {
	return data.BuildKey("metrics", provider.String(), operation, hour)
}

func metricsDurationsKey(provider model.Provider, operation, hour string) string {
	return data.BuildKey("metrics", provider.String(), operation, "durations", hour)
}

func metricsOpsKey(provider model.Provider, hour string) string {
	return data.BuildKey("metrics", provider.String(), "ops", hour)
}

func recoveryAttemptsKey(provider model.Provider, principalID int64) string {
	return data.BuildKey("recovery", "attempts", provider.String(), principal(principalID))
}

func refreshLockKey(provider model.Provider, principalID int64) string {
	return data.BuildKey("token_refresh", "lock", provider.String(), principal(principalID))
}

func batchSummaryKey(batchID string) string {
	return data.BuildKey("token_refresh", "batch", batchID)
}
