package biz

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"CloudRelay/internal/conf"
	"CloudRelay/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// Transfer operations report throughput.
const (
	OperationUpload   = "upload"
	OperationDownload = "download"
)

// OperationEvent is one provider operation to be recorded.
type OperationEvent struct {
	PrincipalID int64
	Provider    model.Provider
	Operation   string
	Success     bool
	ErrorKind   model.ErrorKind
	Duration    time.Duration
	Bytes       int64
	Timestamp   time.Time
}

// OperationStats aggregates one (provider, operation) over a window of hourly buckets.
type OperationStats struct {
	Provider      model.Provider `json:"provider"`
	Operation     string         `json:"operation"`
	Total         int64          `json:"total"`
	Success       int64          `json:"success"`
	Failure       int64          `json:"failure"`
	SuccessRate   float64        `json:"success_rate"`
	AvgDurationMs float64        `json:"avg_duration_ms"`
	P95DurationMs int64          `json:"p95_duration_ms"`
	Bytes         int64          `json:"bytes"`
	// ThroughputBps is bytes per second of elapsed operation time; only set for transfers.
	ThroughputBps float64 `json:"throughput_bps,omitempty"`
}

// HealthReport is the derived health of a provider.
type HealthReport struct {
	Provider      model.Provider `json:"provider"`
	Score         float64        `json:"score"`
	Grade         string         `json:"grade"`
	SuccessRate   float64        `json:"success_rate"`
	AvgDurationMs float64        `json:"avg_duration_ms"`
	ErrorRate     float64        `json:"error_rate"`
	Total         int64          `json:"total"`
}

// MetricsAggregator keeps hourly operation counters and duration samples and derives health scores.
type MetricsAggregator struct {
	store     StateStore
	sink      MetricsSink
	sampleCap int64
	ttl       time.Duration
	logger    *log.Helper
	now       func() time.Time
}

// NewMetricsAggregator creates a metrics aggregator.
func NewMetricsAggregator(store StateStore, sink MetricsSink, c *conf.Metrics, logger log.Logger) *MetricsAggregator {
	m := &MetricsAggregator{
		store:     store,
		sink:      sink,
		sampleCap: 1000,
		ttl:       24 * time.Hour,
		logger:    log.NewHelper(logger),
		now:       time.Now,
	}
	if c != nil {
		if c.SampleCap > 0 {
			m.sampleCap = int64(c.SampleCap)
		}
		if c.TTL > 0 {
			m.ttl = c.TTL
		}
	}
	return m
}

// RecordOperation counts ev in its hourly bucket and forwards it to the sink.
func (m *MetricsAggregator) RecordOperation(ctx context.Context, ev *OperationEvent) error {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = m.now()
	}
	hour := hourBucket(ts)
	bucket := metricsBucketKey(ev.Provider, ev.Operation, hour)
	durationMs := ev.Duration.Milliseconds()

	outcome := model.OutcomeSuccess
	if !ev.Success {
		outcome = model.OutcomeFailure
	}

	counters := []struct {
		field string
		n     int64
	}{
		{"total", 1},
		{string(outcome), 1},
		{"duration_ms", durationMs},
		{"bytes", ev.Bytes},
	}
	for _, c := range counters {
		if _, err := m.store.IncrField(ctx, bucket, c.field, c.n, m.ttl); err != nil {
			return fmt.Errorf("failed to record %s metrics: %w", ev.Operation, err)
		}
	}

	if err := m.store.PushCapped(ctx, metricsDurationsKey(ev.Provider, ev.Operation, hour), durationMs, m.sampleCap, m.ttl); err != nil {
		return fmt.Errorf("failed to record %s duration sample: %w", ev.Operation, err)
	}
	if _, err := m.store.IncrField(ctx, metricsOpsKey(ev.Provider, hour), ev.Operation, 1, m.ttl); err != nil {
		return fmt.Errorf("failed to index operation %s: %w", ev.Operation, err)
	}

	event := &model.MetricEvent{
		Timestamp:   ts,
		Provider:    ev.Provider,
		PrincipalID: ev.PrincipalID,
		Operation:   ev.Operation,
		ErrorKind:   ev.ErrorKind,
		Duration:    ev.Duration,
		Bytes:       ev.Bytes,
		Outcome:     outcome,
	}
	if err := m.sink.Record(ctx, event); err != nil {
		m.logger.Warnw("msg", "metrics sink rejected event", "operation", ev.Operation, "error", err)
	}

	return nil
}

// RecordBatchRun publishes a batch refresh summary.
func (m *MetricsAggregator) RecordBatchRun(ctx context.Context, run *model.BatchRun) error {
	m.logger.Infow("msg", "batch refresh run recorded",
		"batch_id", run.BatchID,
		"status", run.Status,
		"total", run.TotalTokens,
		"processed", run.Processed,
		"successful", run.Successful,
		"failed", run.Failed,
		"success_rate", run.SuccessRate,
		"duration", run.Duration)
	return m.sink.RecordBatch(ctx, run)
}

// OperationStats aggregates (provider, operation) over the last hours buckets.
func (m *MetricsAggregator) OperationStats(ctx context.Context, provider model.Provider, operation string, hours int) (*OperationStats, error) {
	if hours <= 0 {
		hours = 1
	}

	stats := &OperationStats{Provider: provider, Operation: operation}
	var durationMs int64
	var samples []int64

	now := m.now()
	for h := 0; h < hours; h++ {
		hour := hourBucket(now.Add(-time.Duration(h) * time.Hour))

		fields, err := m.store.Fields(ctx, metricsBucketKey(provider, operation, hour))
		if err != nil {
			return nil, err
		}
		stats.Total += fields["total"]
		stats.Success += fields[string(model.OutcomeSuccess)]
		stats.Failure += fields[string(model.OutcomeFailure)]
		stats.Bytes += fields["bytes"]
		durationMs += fields["duration_ms"]

		entries, err := m.store.List(ctx, metricsDurationsKey(provider, operation, hour))
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if v, err := strconv.ParseInt(entry, 10, 64); err == nil {
				samples = append(samples, v)
			}
		}
	}

	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Success) / float64(stats.Total) * 100
		stats.AvgDurationMs = float64(durationMs) / float64(stats.Total)
	}
	stats.P95DurationMs = Percentile95(samples)

	if (operation == OperationUpload || operation == OperationDownload) && durationMs > 0 {
		stats.ThroughputBps = float64(stats.Bytes) / (float64(durationMs) / 1000)
	}

	return stats, nil
}

// HealthScore derives the provider's health from every operation seen in the window.
// The success rate spans the window. The error rate is the failures the error tracker saw
// this hour per operation recorded this hour, so a failed operation outcome is not charged
// twice by the same counters.
func (m *MetricsAggregator) HealthScore(ctx context.Context, provider model.Provider, hours int) (*HealthReport, error) {
	if hours <= 0 {
		hours = 1
	}

	now := m.now()
	operations := make(map[string]struct{})
	for h := 0; h < hours; h++ {
		ops, err := m.store.Fields(ctx, metricsOpsKey(provider, hourBucket(now.Add(-time.Duration(h)*time.Hour))))
		if err != nil {
			return nil, err
		}
		for op := range ops {
			operations[op] = struct{}{}
		}
	}

	report := &HealthReport{Provider: provider, SuccessRate: 100}
	var success, durationMs, hourTotal int64
	currentHour := hourBucket(now)

	for op := range operations {
		for h := 0; h < hours; h++ {
			hour := hourBucket(now.Add(-time.Duration(h) * time.Hour))
			fields, err := m.store.Fields(ctx, metricsBucketKey(provider, op, hour))
			if err != nil {
				return nil, err
			}
			report.Total += fields["total"]
			success += fields[string(model.OutcomeSuccess)]
			durationMs += fields["duration_ms"]
			if hour == currentHour {
				hourTotal += fields["total"]
			}
		}
	}

	if report.Total > 0 {
		report.SuccessRate = float64(success) / float64(report.Total) * 100
		report.AvgDurationMs = float64(durationMs) / float64(report.Total)
	}
	tracked, err := m.store.GetInt(ctx, providerErrorsKey(provider, currentHour))
	if err != nil {
		return nil, err
	}
	if tracked > 0 {
		// errors with no recorded traffic count as all activity failing
		report.ErrorRate = float64(tracked) / float64(max(hourTotal, tracked)) * 100
	}

	report.Score = ComputeHealthScore(report.SuccessRate, report.AvgDurationMs, report.ErrorRate)
	report.Grade = Grade(report.Score)
	return report, nil
}

// Percentile95 returns the 95th percentile sample, the sorted value at index floor(95n/100)-1
// clamped to the slice. It returns 0 for no samples.
func Percentile95(samples []int64) int64 {
	n := len(samples)
	if n == 0 {
		return 0
	}

	sorted := make([]int64, n)
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := 95*n/100 - 1
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}

// ComputeHealthScore starts at 100 and deducts for a low success rate, slow responses and a
// high error rate. Rates are percentages. The result is clamped to [0, 100].
func ComputeHealthScore(successRate, avgDurationMs, errorRate float64) float64 {
	score := 100.0

	if successRate < 95 {
		score -= (95 - successRate) * 2
	}
	if avgDurationMs > 2000 {
		score -= math.Min(20, (avgDurationMs-2000)/100)
	}
	if errorRate > 5 {
		score -= (errorRate - 5) * 3
	}

	return math.Max(0, math.Min(100, score))
}

// Grade maps a health score to a letter.
func Grade(score float64) string {
	switch {
	case score >= 95:
		return "A"
	case score >= 85:
		return "B"
	case score >= 75:
		return "C"
	case score >= 65:
		return "D"
	default:
		return "F"
	}
}
