package data

import (
	"context"

	"CloudRelay/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NewMetricsRegistry creates the registry served on /metrics.
func NewMetricsRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// PrometheusSink exports operation events and batch summaries as Prometheus series.
type PrometheusSink struct {
	operations *prometheus.CounterVec
	errors     *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	bytes      *prometheus.CounterVec
	batchRuns  *prometheus.CounterVec
	batchLast  *prometheus.GaugeVec
	logger     *log.Helper
}

// NewPrometheusSink registers the engine's collectors on reg.
func NewPrometheusSink(reg *prometheus.Registry, logger log.Logger) *PrometheusSink {
	factory := promauto.With(reg)

	return &PrometheusSink{
		// operations tracks every recorded provider operation
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloudrelay_operations_total",
				Help: "Total number of provider operations",
			},
			[]string{"provider", "operation", "outcome"},
		),
		errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloudrelay_operation_errors_total",
				Help: "Total number of failed provider operations by error kind",
			},
			[]string{"provider", "operation", "error_kind"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cloudrelay_operation_duration_seconds",
				Help:    "Provider operation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "operation"},
		),
		bytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloudrelay_operation_bytes_total",
				Help: "Bytes transferred by provider operations",
			},
			[]string{"provider", "operation"},
		),
		batchRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloudrelay_batch_refresh_runs_total",
				Help: "Batch token refresh runs by terminal status",
			},
			[]string{"status"},
		),
		// batchLast holds the token counts of the most recent run
		batchLast: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cloudrelay_batch_refresh_last_tokens",
				Help: "Token counts of the latest batch refresh run",
			},
			[]string{"result"},
		),
		logger: log.NewHelper(logger),
	}
}

// Record exports one operation event.
func (s *PrometheusSink) Record(_ context.Context, event *model.MetricEvent) error {
	provider := event.Provider.String()

	s.operations.WithLabelValues(provider, event.Operation, string(event.Outcome)).Inc()
	s.latency.WithLabelValues(provider, event.Operation).Observe(event.Duration.Seconds())
	if event.Bytes > 0 {
		s.bytes.WithLabelValues(provider, event.Operation).Add(float64(event.Bytes))
	}
	if event.Outcome == model.OutcomeFailure {
		s.errors.WithLabelValues(provider, event.Operation, event.ErrorKind.String()).Inc()
	}

	s.logger.Debugw("msg", "metric recorded",
		"provider", provider,
		"principal_id", event.PrincipalID,
		"operation", event.Operation,
		"outcome", event.Outcome,
		"error_kind", event.ErrorKind,
		"duration_ms", event.Duration.Milliseconds())
	return nil
}

// RecordBatch exports a finished batch refresh run.
func (s *PrometheusSink) RecordBatch(_ context.Context, run *model.BatchRun) error {
	s.batchRuns.WithLabelValues(string(run.Status)).Inc()
	s.batchLast.WithLabelValues("total").Set(float64(run.TotalTokens))
	s.batchLast.WithLabelValues("processed").Set(float64(run.Processed))
	s.batchLast.WithLabelValues("successful").Set(float64(run.Successful))
	s.batchLast.WithLabelValues("failed").Set(float64(run.Failed))
	return nil
}
