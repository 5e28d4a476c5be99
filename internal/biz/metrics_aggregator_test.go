package biz

import (
	"context"
	"testing"
	"time"

	"CloudRelay/internal/conf"
	"CloudRelay/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAggregator(t *testing.T) (*MetricsAggregator, *recordingSink) {
	t.Helper()
	_, store := newTestStore(t)
	sink := &recordingSink{}
	agg := NewMetricsAggregator(store, sink, &conf.Metrics{}, testLogger)

	now := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)
	agg.now = func() time.Time { return now }
	return agg, sink
}

func TestPercentile95(t *testing.T) {
	tests := []struct {
		name    string
		samples []int64
		want    int64
	}{
		{"empty", nil, 0},
		{"single", []int64{42}, 42},
		{"ten samples", []int64{1000, 100, 900, 200, 800, 300, 700, 400, 600, 500}, 900},
		{"twenty samples", func() []int64 {
			s := make([]int64, 20)
			for i := range s {
				s[i] = int64(i + 1)
			}
			return s
		}(), 19},
		{"two samples", []int64{7, 3}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Percentile95(tt.samples))
		})
	}
}

func TestPercentile95_DoesNotMutateInput(t *testing.T) {
	samples := []int64{3, 1, 2}
	Percentile95(samples)
	assert.Equal(t, []int64{3, 1, 2}, samples)
}

func TestComputeHealthScore(t *testing.T) {
	tests := []struct {
		name        string
		successRate float64
		avgMs       float64
		errorRate   float64
		wantScore   float64
		wantGrade   string
	}{
		{"perfect", 100, 1000, 0, 100, "A"},
		{"low success", 60, 1000, 0, 30, "F"},
		{"slow", 100, 2500, 0, 95, "A"},
		{"slowness capped", 100, 60000, 0, 80, "C"},
		{"mixed", 90, 3000, 10, 65, "D"},
		{"clamped at zero", 0, 10000, 100, 0, "F"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := ComputeHealthScore(tt.successRate, tt.avgMs, tt.errorRate)
			assert.InDelta(t, tt.wantScore, score, 1e-9)
			assert.Equal(t, tt.wantGrade, Grade(score))
		})
	}
}

func TestGrade_Boundaries(t *testing.T) {
	assert.Equal(t, "A", Grade(95))
	assert.Equal(t, "B", Grade(94.9))
	assert.Equal(t, "B", Grade(85))
	assert.Equal(t, "C", Grade(75))
	assert.Equal(t, "D", Grade(65))
	assert.Equal(t, "F", Grade(64.9))
}

func TestMetricsAggregator_OperationStats(t *testing.T) {
	agg, sink := newTestAggregator(t)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		require.NoError(t, agg.RecordOperation(ctx, &OperationEvent{
			PrincipalID: 7,
			Provider:    model.ProviderGoogleDrive,
			Operation:   OperationUpload,
			Success:     i != 10,
			Duration:    time.Duration(i*100) * time.Millisecond,
			Bytes:       1000,
		}))
	}

	stats, err := agg.OperationStats(ctx, model.ProviderGoogleDrive, OperationUpload, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), stats.Total)
	assert.Equal(t, int64(9), stats.Success)
	assert.Equal(t, int64(1), stats.Failure)
	assert.InDelta(t, 90.0, stats.SuccessRate, 1e-9)
	assert.InDelta(t, 550.0, stats.AvgDurationMs, 1e-9)
	assert.Equal(t, int64(900), stats.P95DurationMs)
	assert.Equal(t, int64(10000), stats.Bytes)
	// 10000 bytes over 5.5s
	assert.InDelta(t, 10000/5.5, stats.ThroughputBps, 1e-6)

	require.Len(t, sink.events, 10)
	assert.Equal(t, model.OutcomeFailure, sink.events[9].Outcome)
	assert.Equal(t, model.OutcomeSuccess, sink.events[0].Outcome)
}

func TestMetricsAggregator_OperationStatsWindow(t *testing.T) {
	agg, _ := newTestAggregator(t)
	ctx := context.Background()
	now := agg.now()

	record := func(at time.Time) {
		require.NoError(t, agg.RecordOperation(ctx, &OperationEvent{
			Provider:  model.ProviderDropbox,
			Operation: "list",
			Success:   true,
			Duration:  200 * time.Millisecond,
			Timestamp: at,
		}))
	}
	record(now)
	record(now.Add(-time.Hour))
	record(now.Add(-5 * time.Hour))

	stats, err := agg.OperationStats(ctx, model.ProviderDropbox, "list", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)
	assert.Zero(t, stats.ThroughputBps, "throughput only applies to transfers")

	stats, err = agg.OperationStats(ctx, model.ProviderDropbox, "list", 24)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
}

func TestMetricsAggregator_SampleCap(t *testing.T) {
	_, store := newTestStore(t)
	agg := NewMetricsAggregator(store, &recordingSink{}, &conf.Metrics{SampleCap: 3}, testLogger)
	ctx := context.Background()

	for _, ms := range []int{100, 200, 300, 400, 500} {
		require.NoError(t, agg.RecordOperation(ctx, &OperationEvent{
			Provider:  model.ProviderOneDrive,
			Operation: OperationDownload,
			Success:   true,
			Duration:  time.Duration(ms) * time.Millisecond,
		}))
	}

	samples, err := store.List(ctx, metricsDurationsKey(model.ProviderOneDrive, OperationDownload, hourBucket(agg.now())))
	require.NoError(t, err)
	assert.Equal(t, []string{"500", "400", "300"}, samples)
}

func TestMetricsAggregator_HealthScore(t *testing.T) {
	agg, _ := newTestAggregator(t)
	ctx := context.Background()

	report, err := agg.HealthScore(ctx, model.ProviderAmazonS3, 24)
	require.NoError(t, err)
	assert.Equal(t, int64(0), report.Total)
	assert.InDelta(t, 100.0, report.Score, 1e-9, "no traffic is healthy")
	assert.Equal(t, "A", report.Grade)

	for i := 0; i < 10; i++ {
		op := OperationUpload
		if i%2 == 0 {
			op = "list"
		}
		require.NoError(t, agg.RecordOperation(ctx, &OperationEvent{
			Provider:  model.ProviderAmazonS3,
			Operation: op,
			Success:   i >= 2,
			Duration:  500 * time.Millisecond,
		}))
	}

	report, err = agg.HealthScore(ctx, model.ProviderAmazonS3, 24)
	require.NoError(t, err)
	assert.Equal(t, int64(10), report.Total)
	assert.InDelta(t, 80.0, report.SuccessRate, 1e-9)
	assert.Zero(t, report.ErrorRate, "failed outcomes only move the success rate")
	assert.InDelta(t, 500.0, report.AvgDurationMs, 1e-9)
	// 100 - (95-80)*2
	assert.InDelta(t, 70.0, report.Score, 1e-9)
	assert.Equal(t, "D", report.Grade)
}

func TestMetricsAggregator_HealthScoreSixtyPercentSuccess(t *testing.T) {
	agg, _ := newTestAggregator(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, agg.RecordOperation(ctx, &OperationEvent{
			Provider:  model.ProviderDropbox,
			Operation: OperationUpload,
			Success:   i < 6,
			Duration:  time.Second,
			Bytes:     1024,
		}))
	}

	report, err := agg.HealthScore(ctx, model.ProviderDropbox, 24)
	require.NoError(t, err)
	assert.InDelta(t, 60.0, report.SuccessRate, 1e-9)
	assert.InDelta(t, 1000.0, report.AvgDurationMs, 1e-9)
	assert.Zero(t, report.ErrorRate)
	assert.InDelta(t, 30.0, report.Score, 1e-9)
	assert.Equal(t, "F", report.Grade)
}

func TestMetricsAggregator_HealthScoreErrorRateFromTracker(t *testing.T) {
	_, store := newTestStore(t)
	agg := NewMetricsAggregator(store, &recordingSink{}, &conf.Metrics{}, testLogger)
	tracker := NewErrorTracker(store, &recordingNotifier{}, &conf.Alerting{}, testLogger)
	now := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)
	agg.now = func() time.Time { return now }
	tracker.now = agg.now
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		require.NoError(t, agg.RecordOperation(ctx, &OperationEvent{
			Provider:  model.ProviderDropbox,
			Operation: OperationUpload,
			Success:   true,
			Duration:  100 * time.Millisecond,
		}))
	}
	// two principals, three health check failures between them
	for _, id := range []int64{1, 2, 2} {
		_, err := tracker.TrackFailure(ctx, &Failure{PrincipalID: id, Provider: model.ProviderDropbox, Kind: model.ErrorKindServiceUnavailable, Operation: "health_check"})
		require.NoError(t, err)
	}
	// another provider does not leak in
	_, err := tracker.TrackFailure(ctx, &Failure{PrincipalID: 1, Provider: model.ProviderOneDrive, Kind: model.ErrorKindTimeout, Operation: "health_check"})
	require.NoError(t, err)

	report, err := agg.HealthScore(ctx, model.ProviderDropbox, 24)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, report.SuccessRate, 1e-9)
	assert.InDelta(t, 15.0, report.ErrorRate, 1e-9)
	// 100 - (15-5)*3
	assert.InDelta(t, 70.0, report.Score, 1e-9)

	// tracked errors from earlier hours are not this hour's error rate
	now = now.Add(time.Hour)
	report, err = agg.HealthScore(ctx, model.ProviderDropbox, 24)
	require.NoError(t, err)
	assert.Zero(t, report.ErrorRate)
}

func TestMetricsAggregator_HealthScoreErrorsWithoutTraffic(t *testing.T) {
	_, store := newTestStore(t)
	agg := NewMetricsAggregator(store, &recordingSink{}, &conf.Metrics{}, testLogger)
	tracker := NewErrorTracker(store, &recordingNotifier{}, &conf.Alerting{}, testLogger)
	ctx := context.Background()

	_, err := tracker.TrackFailure(ctx, &Failure{PrincipalID: 9, Provider: model.ProviderAmazonS3, Kind: model.ErrorKindNetworkError, Operation: "health_check"})
	require.NoError(t, err)

	report, err := agg.HealthScore(ctx, model.ProviderAmazonS3, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), report.Total)
	assert.InDelta(t, 100.0, report.ErrorRate, 1e-9)
	assert.Zero(t, report.Score)
	assert.Equal(t, "F", report.Grade)
}

func TestMetricsAggregator_RecordBatchRun(t *testing.T) {
	agg, sink := newTestAggregator(t)

	run := &model.BatchRun{BatchID: "b1", Status: model.BatchCompleted, TotalTokens: 3, Processed: 3, Successful: 3}
	require.NoError(t, agg.RecordBatchRun(context.Background(), run))
	require.Len(t, sink.batches, 1)
	assert.Equal(t, "b1", sink.batches[0].BatchID)
}
