package data

import (
	"context"
	"testing"
	"time"

	"CloudRelay/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusSink_Record(t *testing.T) {
	reg := NewMetricsRegistry()
	sink := NewPrometheusSink(reg, log.DefaultLogger)
	ctx := context.Background()

	require.NoError(t, sink.Record(ctx, &model.MetricEvent{
		Provider:  model.ProviderDropbox,
		Operation: "upload",
		Duration:  300 * time.Millisecond,
		Bytes:     2048,
		Outcome:   model.OutcomeSuccess,
	}))
	require.NoError(t, sink.Record(ctx, &model.MetricEvent{
		Provider:  model.ProviderDropbox,
		Operation: "upload",
		Duration:  time.Second,
		ErrorKind: model.ErrorKindTimeout,
		Outcome:   model.OutcomeFailure,
	}))

	assert.Equal(t, 1.0, testutil.ToFloat64(sink.operations.WithLabelValues("dropbox", "upload", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.operations.WithLabelValues("dropbox", "upload", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.errors.WithLabelValues("dropbox", "upload", "timeout")))
	assert.Equal(t, 2048.0, testutil.ToFloat64(sink.bytes.WithLabelValues("dropbox", "upload")))
	assert.Equal(t, 1, testutil.CollectAndCount(sink.latency))
}

func TestPrometheusSink_RecordBatch(t *testing.T) {
	reg := NewMetricsRegistry()
	sink := NewPrometheusSink(reg, log.DefaultLogger)

	require.NoError(t, sink.RecordBatch(context.Background(), &model.BatchRun{
		Status:      model.BatchCircuitBroken,
		TotalTokens: 18,
		Processed:   12,
		Successful:  8,
		Failed:      4,
	}))

	assert.Equal(t, 1.0, testutil.ToFloat64(sink.batchRuns.WithLabelValues("circuit_broken")))
	assert.Equal(t, 4.0, testutil.ToFloat64(sink.batchLast.WithLabelValues("failed")))
	assert.Equal(t, 12.0, testutil.ToFloat64(sink.batchLast.WithLabelValues("processed")))
}

func TestPrometheusSink_SeparateRegistries(t *testing.T) {
	// each registry accepts its own set of collectors
	assert.NotPanics(t, func() {
		NewPrometheusSink(NewMetricsRegistry(), log.DefaultLogger)
		NewPrometheusSink(NewMetricsRegistry(), log.DefaultLogger)
	})
}
