package server

import (
	"context"
	"io"
	"sync"

	"CloudRelay/internal/biz"
	"CloudRelay/internal/model"
	pkglog "CloudRelay/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

var testLogger = log.NewStdLogger(io.Discard)

type connectionCall struct {
	principalID int64
	provider    model.Provider
}

type fakeConnections struct {
	status *model.HealthStatus
	err    error
	calls  []connectionCall
}

func (f *fakeConnections) ValidateConnectionHealth(_ context.Context, principalID int64, provider model.Provider) (*model.HealthStatus, error) {
	f.calls = append(f.calls, connectionCall{principalID, provider})
	return f.status, f.err
}

func (f *fakeConnections) PerformLiveAPITest(_ context.Context, principalID int64, provider model.Provider) (*model.LiveTestResult, error) {
	f.calls = append(f.calls, connectionCall{principalID, provider})
	return &model.LiveTestResult{Successful: true, Message: "ok"}, nil
}

type fakeRecovery struct {
	mu      sync.Mutex
	result  *biz.RecoveryResult
	calls   []connectionCall
	traceIn []string
}

func (f *fakeRecovery) Recover(ctx context.Context, principalID int64, provider model.Provider) *biz.RecoveryResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, connectionCall{principalID, provider})
	if jc, ok := jobContext(ctx); ok {
		f.traceIn = append(f.traceIn, jc)
	}
	return f.result
}

func (f *fakeRecovery) Calls() []connectionCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]connectionCall(nil), f.calls...)
}

func jobContext(ctx context.Context) (string, bool) {
	jc, ok := pkglog.GetJobContext(ctx)
	if !ok {
		return "", false
	}
	return jc.JobID, true
}

type fakeBatches struct {
	run *model.BatchRun
	err error
}

func (f *fakeBatches) LatestRun(context.Context) (*model.BatchRun, error) {
	return f.run, f.err
}

type fakeMetrics struct {
	hours []int
}

func (f *fakeMetrics) HealthScore(_ context.Context, provider model.Provider, hours int) (*biz.HealthReport, error) {
	f.hours = append(f.hours, hours)
	return &biz.HealthReport{Provider: provider, Score: 100, Grade: "A", SuccessRate: 100}, nil
}

func (f *fakeMetrics) OperationStats(_ context.Context, provider model.Provider, operation string, hours int) (*biz.OperationStats, error) {
	f.hours = append(f.hours, hours)
	return &biz.OperationStats{Provider: provider, Operation: operation, Total: 3, Success: 3, SuccessRate: 100}, nil
}

type fakeErrors struct {
	records []*model.ErrorRecord
}

func (f *fakeErrors) RecentErrors(context.Context, int64, model.Provider, int) ([]*model.ErrorRecord, error) {
	return f.records, nil
}

type fakeOperations struct {
	reports []*biz.OperationReport
}

func (f *fakeOperations) Report(_ context.Context, rep *biz.OperationReport) (*biz.ReportedOperation, error) {
	f.reports = append(f.reports, rep)
	out := &biz.ReportedOperation{Operation: rep.Operation, Success: rep.Success}
	if !rep.Success {
		out.ErrorKind = model.ErrorKindServiceUnavailable
		out.Consecutive = 1
	}
	return out, nil
}

type nopNotifier struct{}

func (nopNotifier) SendConnectionRestored(context.Context, int64, model.Provider) error { return nil }

func (nopNotifier) SendRefreshFailure(context.Context, *model.RefreshFailureNotice) error { return nil }

func (nopNotifier) SendAlert(context.Context, *model.Alert) error { return nil }
