package biz

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"CloudRelay/internal/conf"
	"CloudRelay/internal/model"
	pkglog "CloudRelay/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// Failure is one failed provider operation handed to the tracker.
type Failure struct {
	PrincipalID int64
	Provider    model.Provider
	Kind        model.ErrorKind
	Operation   string
	Message     string
	Context     map[string]string
}

// TrackResult reports the counters after a failure was recorded and the alerts actually sent.
type TrackResult struct {
	Record      *model.ErrorRecord
	HourlyTotal int64
	Consecutive int64
	Alerts      []*model.Alert
}

// HourlyErrorStats are the counters of one hourly bucket.
type HourlyErrorStats struct {
	Hour        string
	Total       int64
	ByKind      map[model.ErrorKind]int64
	ByOperation map[string]int64
}

// ErrorTracker keeps hourly error buckets and consecutive-failure streaks and raises throttled alerts.
type ErrorTracker struct {
	store    StateStore
	notifier Notifier
	cfg      conf.Alerting
	logger   *pkglog.LogHelper
	now      func() time.Time
}

// NewErrorTracker creates an error tracker. Zero configuration values fall back to defaults.
func NewErrorTracker(store StateStore, notifier Notifier, c *conf.Alerting, logger log.Logger) *ErrorTracker {
	cfg := conf.Alerting{
		HourlyRecordCap:      100,
		RecordTTL:            24 * time.Hour,
		RateThreshold:        10,
		EscalationThreshold:  20,
		ConsecutiveThreshold: 5,
		ThrottleWindow:       time.Hour,
	}
	if c != nil {
		if c.HourlyRecordCap > 0 {
			cfg.HourlyRecordCap = c.HourlyRecordCap
		}
		if c.RecordTTL > 0 {
			cfg.RecordTTL = c.RecordTTL
		}
		if c.RateThreshold > 0 {
			cfg.RateThreshold = c.RateThreshold
		}
		if c.EscalationThreshold > 0 {
			cfg.EscalationThreshold = c.EscalationThreshold
		}
		if c.ConsecutiveThreshold > 0 {
			cfg.ConsecutiveThreshold = c.ConsecutiveThreshold
		}
		if c.ThrottleWindow > 0 {
			cfg.ThrottleWindow = c.ThrottleWindow
		}
	}

	return &ErrorTracker{
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		logger:   pkglog.NewLogHelper(logger),
		now:      time.Now,
	}
}

// TrackFailure records a failure and evaluates the alert conditions.
func (t *ErrorTracker) TrackFailure(ctx context.Context, f *Failure) (*TrackResult, error) {
	now := t.now().UTC()
	hour := hourBucket(now)

	kind := f.Kind
	if kind == "" {
		kind = model.ErrorKindUnknown
	}
	operation := f.Operation
	if operation == "" {
		operation = "unknown"
	}

	record := &model.ErrorRecord{
		ID:          uuid.NewString(),
		Provider:    f.Provider,
		PrincipalID: f.PrincipalID,
		ErrorKind:   kind,
		Operation:   operation,
		Message:     f.Message,
		Timestamp:   now,
		Context:     f.Context,
	}

	ttl := t.cfg.RecordTTL
	if err := t.store.PushCapped(ctx, errorRecordsKey(f.Provider, f.PrincipalID, hour), record, int64(t.cfg.HourlyRecordCap), ttl); err != nil {
		return nil, fmt.Errorf("failed to append error record: %w", err)
	}

	bucket := errorBucketKey(f.Provider, f.PrincipalID, hour)
	total, err := t.store.IncrField(ctx, bucket, "total", 1, ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to count error: %w", err)
	}
	if _, err := t.store.IncrField(ctx, bucket, "kind:"+string(kind), 1, ttl); err != nil {
		return nil, fmt.Errorf("failed to count error kind: %w", err)
	}
	if _, err := t.store.IncrField(ctx, bucket, "op:"+operation, 1, ttl); err != nil {
		return nil, fmt.Errorf("failed to count error operation: %w", err)
	}

	if _, err := t.store.Incr(ctx, providerErrorsKey(f.Provider, hour), ttl); err != nil {
		return nil, fmt.Errorf("failed to count provider error: %w", err)
	}

	consecutive, err := t.store.Incr(ctx, consecutiveKey(f.Provider, f.PrincipalID, operation), ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to count consecutive failures: %w", err)
	}

	t.logger.Debugw("msg", "failure tracked",
		"provider", f.Provider,
		"principal_id", f.PrincipalID,
		"error_kind", kind,
		"operation", operation,
		"hourly_total", total,
		"consecutive", consecutive)

	return &TrackResult{
		Record:      record,
		HourlyTotal: total,
		Consecutive: consecutive,
		Alerts:      t.evaluateAlerts(ctx, record, total, consecutive),
	}, nil
}

// TrackSuccess ends the failure streak of an operation.
func (t *ErrorTracker) TrackSuccess(ctx context.Context, principalID int64, provider model.Provider, operation string) error {
	if err := t.store.SetInt(ctx, consecutiveKey(provider, principalID, operation), 0, t.cfg.RecordTTL); err != nil {
		return fmt.Errorf("failed to reset consecutive failures: %w", err)
	}
	return nil
}

// ConsecutiveFailures returns the current failure streak of an operation.
func (t *ErrorTracker) ConsecutiveFailures(ctx context.Context, principalID int64, provider model.Provider, operation string) (int64, error) {
	return t.store.GetInt(ctx, consecutiveKey(provider, principalID, operation))
}

// HourlyStats returns the counters of the bucket containing at.
func (t *ErrorTracker) HourlyStats(ctx context.Context, principalID int64, provider model.Provider, at time.Time) (*HourlyErrorStats, error) {
	hour := hourBucket(at)
	fields, err := t.store.Fields(ctx, errorBucketKey(provider, principalID, hour))
	if err != nil {
		return nil, err
	}

	stats := &HourlyErrorStats{
		Hour:        hour,
		ByKind:      make(map[model.ErrorKind]int64),
		ByOperation: make(map[string]int64),
	}
	for field, n := range fields {
		switch {
		case field == "total":
			stats.Total = n
		case strings.HasPrefix(field, "kind:"):
			stats.ByKind[model.ErrorKind(strings.TrimPrefix(field, "kind:"))] = n
		case strings.HasPrefix(field, "op:"):
			stats.ByOperation[strings.TrimPrefix(field, "op:")] = n
		}
	}
	return stats, nil
}

// RecentErrors returns the records of the last hours buckets, newest first.
func (t *ErrorTracker) RecentErrors(ctx context.Context, principalID int64, provider model.Provider, hours int) ([]*model.ErrorRecord, error) {
	if hours <= 0 {
		hours = 1
	}

	now := t.now()
	var records []*model.ErrorRecord
	for h := 0; h < hours; h++ {
		hour := hourBucket(now.Add(-time.Duration(h) * time.Hour))
		entries, err := t.store.List(ctx, errorRecordsKey(provider, principalID, hour))
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			var rec model.ErrorRecord
			if err := json.Unmarshal([]byte(entry), &rec); err != nil {
				t.logger.Warnw("msg", "skipping malformed error record", "hour", hour, "error", err)
				continue
			}
			records = append(records, &rec)
		}
	}
	return records, nil
}
