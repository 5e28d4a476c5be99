package biz

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"CloudRelay/internal/data"
	"CloudRelay/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
)

var testLogger = log.NewStdLogger(os.Stdout)

// newTestStore returns a Redis-backed store on a fresh miniredis server.
func newTestStore(t *testing.T) (*miniredis.Miniredis, *data.RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, data.NewRedisStore(rdb)
}

// MockCredentialRepo is a mock implementation of CredentialRepo.
type MockCredentialRepo struct {
	mock.Mock
}

func (m *MockCredentialRepo) GetCredential(ctx context.Context, principalID int64, provider model.Provider) (*data.Credential, error) {
	args := m.Called(ctx, principalID, provider)
	cred, _ := args.Get(0).(*data.Credential)
	return cred, args.Error(1)
}

func (m *MockCredentialRepo) ListExpiringCredentials(ctx context.Context, threshold time.Time) ([]*data.Credential, error) {
	args := m.Called(ctx, threshold)
	creds, _ := args.Get(0).([]*data.Credential)
	return creds, args.Error(1)
}

func (m *MockCredentialRepo) UpdateTokens(ctx context.Context, id int64, grant model.TokenGrant, now time.Time) error {
	args := m.Called(ctx, id, grant, now)
	return args.Error(0)
}

func (m *MockCredentialRepo) RecordError(ctx context.Context, id int64, kind model.ErrorKind, message string) error {
	args := m.Called(ctx, id, kind, message)
	return args.Error(0)
}

// MockPendingUploadRepo is a mock implementation of PendingUploadRepo.
type MockPendingUploadRepo struct {
	mock.Mock
}

func (m *MockPendingUploadRepo) ListRecoverableUploads(ctx context.Context, principalID int64, provider model.Provider, limit int) ([]*data.PendingUpload, error) {
	args := m.Called(ctx, principalID, provider, limit)
	uploads, _ := args.Get(0).([]*data.PendingUpload)
	return uploads, args.Error(1)
}

func (m *MockPendingUploadRepo) MarkRecoverySkipped(ctx context.Context, id int64, reason string) error {
	args := m.Called(ctx, id, reason)
	return args.Error(0)
}

func (m *MockPendingUploadRepo) MarkRequeued(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockPendingUploadRepo) LatestErrorKind(ctx context.Context, principalID int64, provider model.Provider) (model.ErrorKind, error) {
	args := m.Called(ctx, principalID, provider)
	return args.Get(0).(model.ErrorKind), args.Error(1)
}

// MockNotifier is a mock implementation of Notifier.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SendConnectionRestored(ctx context.Context, principalID int64, provider model.Provider) error {
	args := m.Called(ctx, principalID, provider)
	return args.Error(0)
}

func (m *MockNotifier) SendRefreshFailure(ctx context.Context, notice *model.RefreshFailureNotice) error {
	args := m.Called(ctx, notice)
	return args.Error(0)
}

func (m *MockNotifier) SendAlert(ctx context.Context, alert *model.Alert) error {
	args := m.Called(ctx, alert)
	return args.Error(0)
}

// MockScheduler is a mock implementation of Scheduler.
type MockScheduler struct {
	mock.Mock
}

func (m *MockScheduler) Enqueue(ctx context.Context, job *model.Job, delay time.Duration, lane string) (string, error) {
	args := m.Called(ctx, job, delay, lane)
	return args.String(0), args.Error(1)
}

// MockHealthProber is a mock implementation of HealthProber.
type MockHealthProber struct {
	mock.Mock
}

func (m *MockHealthProber) ValidateConnectionHealth(ctx context.Context, principalID int64, provider model.Provider) (*model.HealthStatus, error) {
	args := m.Called(ctx, principalID, provider)
	status, _ := args.Get(0).(*model.HealthStatus)
	return status, args.Error(1)
}

func (m *MockHealthProber) PerformLiveAPITest(ctx context.Context, principalID int64, provider model.Provider) (*model.LiveTestResult, error) {
	args := m.Called(ctx, principalID, provider)
	res, _ := args.Get(0).(*model.LiveTestResult)
	return res, args.Error(1)
}

// MockRefreshCoordinator is a mock implementation of RefreshCoordinator.
type MockRefreshCoordinator struct {
	mock.Mock
}

func (m *MockRefreshCoordinator) CoordinateRefresh(ctx context.Context, principalID int64, provider model.Provider) *model.RefreshOutcome {
	args := m.Called(ctx, principalID, provider)
	return args.Get(0).(*model.RefreshOutcome)
}

// recordingSink collects everything handed to the metrics sink.
type recordingSink struct {
	mu      sync.Mutex
	events  []*model.MetricEvent
	batches []*model.BatchRun
}

func (s *recordingSink) Record(_ context.Context, event *model.MetricEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) RecordBatch(_ context.Context, run *model.BatchRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, run)
	return nil
}

// recordingNotifier collects alerts; other notifications are accepted silently.
type recordingNotifier struct {
	mu     sync.Mutex
	alerts []*model.Alert
}

func (n *recordingNotifier) SendConnectionRestored(context.Context, int64, model.Provider) error {
	return nil
}

func (n *recordingNotifier) SendRefreshFailure(context.Context, *model.RefreshFailureNotice) error {
	return nil
}

func (n *recordingNotifier) SendAlert(_ context.Context, alert *model.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
	return nil
}

func (n *recordingNotifier) count(alertType model.AlertType) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, a := range n.alerts {
		if a.Type == alertType {
			c++
		}
	}
	return c
}

// fakeProviderClient is a scripted provider adapter.
type fakeProviderClient struct {
	provider   model.Provider
	mu         sync.Mutex
	refreshes  int
	refreshErr error
	grant      *model.TokenGrant
	pingErr    error
	block      chan struct{}
}

func (c *fakeProviderClient) Provider() model.Provider { return c.provider }

func (c *fakeProviderClient) RefreshToken(ctx context.Context, _ *data.Credential) (*model.TokenGrant, error) {
	c.mu.Lock()
	c.refreshes++
	c.mu.Unlock()
	if c.block != nil {
		<-c.block
	}
	if c.refreshErr != nil {
		return nil, c.refreshErr
	}
	return c.grant, nil
}

func (c *fakeProviderClient) Ping(context.Context, *data.Credential) error { return c.pingErr }

func (c *fakeProviderClient) refreshCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshes
}

func ptrTime(t time.Time) *time.Time { return &t }
