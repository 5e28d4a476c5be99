package biz

import (
	"context"
	"fmt"
	"time"

	"CloudRelay/internal/model"
	pkgerrors "CloudRelay/pkg/errors"
	pkglog "CloudRelay/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

// OperationReport is the outcome of one provider call made outside the engine, typically an
// upload worker reporting back.
type OperationReport struct {
	PrincipalID int64
	Provider    model.Provider
	Operation   string
	Success     bool
	Duration    time.Duration
	Bytes       int64
	// Failure details as the adapter saw them; ignored on success.
	StatusCode   int
	ErrorCode    string
	ErrorMessage string
}

// ReportedOperation is what the engine made of a report.
type ReportedOperation struct {
	Operation   string          `json:"operation"`
	Success     bool            `json:"success"`
	ErrorKind   model.ErrorKind `json:"error_kind,omitempty"`
	Consecutive int64           `json:"consecutive_failures"`
	Alerts      []*model.Alert  `json:"alerts,omitempty"`
}

// OperationReporter feeds reported operation outcomes into the error tracker and the metrics
// aggregator, classifying failures on the way.
type OperationReporter struct {
	classifier *ErrorClassifier
	tracker    *ErrorTracker
	metrics    *MetricsAggregator
	logger     *pkglog.LogHelper
}

// NewOperationReporter creates an operation reporter.
func NewOperationReporter(classifier *ErrorClassifier, tracker *ErrorTracker, metrics *MetricsAggregator, logger log.Logger) *OperationReporter {
	return &OperationReporter{
		classifier: classifier,
		tracker:    tracker,
		metrics:    metrics,
		logger:     pkglog.NewLogHelper(logger),
	}
}

// Report records rep. A failure is classified, tracked and counted; a success ends the
// operation's failure streak.
func (r *OperationReporter) Report(ctx context.Context, rep *OperationReport) (*ReportedOperation, error) {
	out := &ReportedOperation{Operation: rep.Operation, Success: rep.Success}

	if rep.Success {
		if err := r.tracker.TrackSuccess(ctx, rep.PrincipalID, rep.Provider, rep.Operation); err != nil {
			return nil, err
		}
	} else {
		cause := pkgerrors.NewProviderError(rep.Provider.String(), rep.Operation, rep.StatusCode, rep.ErrorCode, rep.ErrorMessage)
		out.ErrorKind = r.classifier.Classify(rep.Provider, cause)

		tracked, err := r.tracker.TrackFailure(ctx, &Failure{
			PrincipalID: rep.PrincipalID,
			Provider:    rep.Provider,
			Kind:        out.ErrorKind,
			Operation:   rep.Operation,
			Message:     cause.Error(),
		})
		if err != nil {
			return nil, err
		}
		out.Consecutive = tracked.Consecutive
		out.Alerts = tracked.Alerts
	}

	if err := r.metrics.RecordOperation(ctx, &OperationEvent{
		PrincipalID: rep.PrincipalID,
		Provider:    rep.Provider,
		Operation:   rep.Operation,
		Success:     rep.Success,
		ErrorKind:   out.ErrorKind,
		Duration:    rep.Duration,
		Bytes:       rep.Bytes,
	}); err != nil {
		return nil, fmt.Errorf("failed to record reported operation: %w", err)
	}

	r.logger.Debugw("msg", "operation reported",
		"provider", rep.Provider,
		"principal_id", rep.PrincipalID,
		"operation", rep.Operation,
		"success", rep.Success,
		"error_kind", out.ErrorKind)
	return out, nil
}
