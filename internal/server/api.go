package server

import (
	"context"
	"errors"
	"strconv"
	"time"

	"CloudRelay/internal/biz"
	"CloudRelay/internal/data"
	"CloudRelay/internal/model"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/transport/http"
)

const (
	defaultWindowHours = 24
	maxWindowHours     = 168
)

type connectionService interface {
	ValidateConnectionHealth(ctx context.Context, principalID int64, provider model.Provider) (*model.HealthStatus, error)
	PerformLiveAPITest(ctx context.Context, principalID int64, provider model.Provider) (*model.LiveTestResult, error)
}

type recoveryService interface {
	Recover(ctx context.Context, principalID int64, provider model.Provider) *biz.RecoveryResult
}

type batchService interface {
	LatestRun(ctx context.Context) (*model.BatchRun, error)
}

type metricsService interface {
	HealthScore(ctx context.Context, provider model.Provider, hours int) (*biz.HealthReport, error)
	OperationStats(ctx context.Context, provider model.Provider, operation string, hours int) (*biz.OperationStats, error)
}

type errorService interface {
	RecentErrors(ctx context.Context, principalID int64, provider model.Provider, hours int) ([]*model.ErrorRecord, error)
}

type operationService interface {
	Report(ctx context.Context, rep *biz.OperationReport) (*biz.ReportedOperation, error)
}

// operationReportRequest is the body of an operation outcome report.
type operationReportRequest struct {
	Operation    string `json:"operation"`
	Success      bool   `json:"success"`
	DurationMs   int64  `json:"duration_ms"`
	Bytes        int64  `json:"bytes"`
	StatusCode   int    `json:"status_code"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// ConnectionAPI serves the operator endpoints of the engine and takes operation outcome
// reports from upload workers.
type ConnectionAPI struct {
	connections connectionService
	recovery    recoveryService
	batches     batchService
	metrics     metricsService
	errors      errorService
	operations  operationService
}

// NewConnectionAPI creates the operator API.
func NewConnectionAPI(
	health *biz.HealthChecker,
	recovery *biz.RecoveryExecutor,
	batches *biz.BatchRefreshOrchestrator,
	metrics *biz.MetricsAggregator,
	tracker *biz.ErrorTracker,
	reporter *biz.OperationReporter,
) *ConnectionAPI {
	return &ConnectionAPI{
		connections: health,
		recovery:    recovery,
		batches:     batches,
		metrics:     metrics,
		errors:      tracker,
		operations:  reporter,
	}
}

// Register mounts the API routes on srv.
func (a *ConnectionAPI) Register(srv *http.Server) {
	r := srv.Route("/")
	r.GET("/v1/connections/{provider}/{principal_id}/health", a.connectionHealth)
	r.POST("/v1/connections/{provider}/{principal_id}/live-test", a.liveTest)
	r.POST("/v1/connections/{provider}/{principal_id}/recover", a.recover)
	r.GET("/v1/connections/{provider}/{principal_id}/errors", a.recentErrors)
	r.POST("/v1/connections/{provider}/{principal_id}/operations", a.reportOperation)
	r.GET("/v1/providers/{provider}/health-score", a.healthScore)
	r.GET("/v1/providers/{provider}/operations/{operation}/stats", a.operationStats)
	r.GET("/v1/batch-refresh/latest", a.latestBatch)
}

// serve runs fn through the server middleware under operation and writes its reply.
func serve(ctx http.Context, operation string, fn func(ctx context.Context) (interface{}, error)) error {
	http.SetOperation(ctx, operation)
	h := ctx.Middleware(func(ctx context.Context, _ interface{}) (interface{}, error) {
		return fn(ctx)
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

func (a *ConnectionAPI) connectionHealth(ctx http.Context) error {
	return serve(ctx, "/cloudrelay.v1.Connections/Health", func(c context.Context) (interface{}, error) {
		principalID, provider, err := connectionVars(ctx)
		if err != nil {
			return nil, err
		}
		return a.connections.ValidateConnectionHealth(c, principalID, provider)
	})
}

func (a *ConnectionAPI) liveTest(ctx http.Context) error {
	return serve(ctx, "/cloudrelay.v1.Connections/LiveTest", func(c context.Context) (interface{}, error) {
		principalID, provider, err := connectionVars(ctx)
		if err != nil {
			return nil, err
		}
		return a.connections.PerformLiveAPITest(c, principalID, provider)
	})
}

func (a *ConnectionAPI) recover(ctx http.Context) error {
	return serve(ctx, "/cloudrelay.v1.Connections/Recover", func(c context.Context) (interface{}, error) {
		principalID, provider, err := connectionVars(ctx)
		if err != nil {
			return nil, err
		}
		return a.recovery.Recover(c, principalID, provider), nil
	})
}

func (a *ConnectionAPI) recentErrors(ctx http.Context) error {
	return serve(ctx, "/cloudrelay.v1.Connections/RecentErrors", func(c context.Context) (interface{}, error) {
		principalID, provider, err := connectionVars(ctx)
		if err != nil {
			return nil, err
		}
		hours, err := windowHours(ctx)
		if err != nil {
			return nil, err
		}
		records, err := a.errors.RecentErrors(c, principalID, provider, hours)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"errors": records}, nil
	})
}

func (a *ConnectionAPI) reportOperation(ctx http.Context) error {
	return serve(ctx, "/cloudrelay.v1.Connections/ReportOperation", func(c context.Context) (interface{}, error) {
		principalID, provider, err := connectionVars(ctx)
		if err != nil {
			return nil, err
		}
		var req operationReportRequest
		if err := ctx.Bind(&req); err != nil {
			return nil, kerrors.BadRequest("INVALID_REPORT", "body must be a JSON operation report").WithCause(err)
		}
		if req.Operation == "" || req.DurationMs < 0 || req.Bytes < 0 {
			return nil, kerrors.BadRequest("INVALID_REPORT", "operation is required; duration_ms and bytes must not be negative")
		}
		return a.operations.Report(c, &biz.OperationReport{
			PrincipalID:  principalID,
			Provider:     provider,
			Operation:    req.Operation,
			Success:      req.Success,
			Duration:     time.Duration(req.DurationMs) * time.Millisecond,
			Bytes:        req.Bytes,
			StatusCode:   req.StatusCode,
			ErrorCode:    req.ErrorCode,
			ErrorMessage: req.ErrorMessage,
		})
	})
}

func (a *ConnectionAPI) healthScore(ctx http.Context) error {
	return serve(ctx, "/cloudrelay.v1.Providers/HealthScore", func(c context.Context) (interface{}, error) {
		hours, err := windowHours(ctx)
		if err != nil {
			return nil, err
		}
		return a.metrics.HealthScore(c, model.Provider(ctx.Vars().Get("provider")), hours)
	})
}

func (a *ConnectionAPI) operationStats(ctx http.Context) error {
	return serve(ctx, "/cloudrelay.v1.Providers/OperationStats", func(c context.Context) (interface{}, error) {
		hours, err := windowHours(ctx)
		if err != nil {
			return nil, err
		}
		vars := ctx.Vars()
		return a.metrics.OperationStats(c, model.Provider(vars.Get("provider")), vars.Get("operation"), hours)
	})
}

func (a *ConnectionAPI) latestBatch(ctx http.Context) error {
	return serve(ctx, "/cloudrelay.v1.BatchRefresh/Latest", func(c context.Context) (interface{}, error) {
		run, err := a.batches.LatestRun(c)
		if errors.Is(err, data.ErrKeyNotFound) {
			return nil, kerrors.NotFound("BATCH_RUN_NOT_FOUND", "no batch refresh run in the last summary window")
		}
		return run, err
	})
}

func connectionVars(ctx http.Context) (int64, model.Provider, error) {
	vars := ctx.Vars()
	principalID, err := strconv.ParseInt(vars.Get("principal_id"), 10, 64)
	if err != nil || principalID <= 0 {
		return 0, "", kerrors.BadRequest("INVALID_PRINCIPAL_ID", "principal_id must be a positive integer")
	}
	return principalID, model.Provider(vars.Get("provider")), nil
}

func windowHours(ctx http.Context) (int, error) {
	raw := ctx.Query().Get("hours")
	if raw == "" {
		return defaultWindowHours, nil
	}
	hours, err := strconv.Atoi(raw)
	if err != nil || hours <= 0 || hours > maxWindowHours {
		return 0, kerrors.BadRequest("INVALID_WINDOW", "hours must be between 1 and 168")
	}
	return hours, nil
}
