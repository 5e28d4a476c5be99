package server

import (
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"CloudRelay/internal/biz"
	"CloudRelay/internal/conf"
	"CloudRelay/internal/data"
	"CloudRelay/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiFixture struct {
	srv         *http.Server
	mr          *miniredis.Miniredis
	reg         *prometheus.Registry
	connections *fakeConnections
	recovery    *fakeRecovery
	batches     *fakeBatches
	metrics     *fakeMetrics
	errors      *fakeErrors
	operations  *fakeOperations
	store       *data.RedisStore
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := data.NewRedisStore(rdb)
	d, cleanup, err := data.NewData(nil, testLogger, rdb, store)
	require.NoError(t, err)
	t.Cleanup(cleanup)

	f := &apiFixture{
		mr:    mr,
		reg:   prometheus.NewRegistry(),
		store: store,
		connections: &fakeConnections{status: &model.HealthStatus{
			Provider:    model.ProviderDropbox,
			PrincipalID: 42,
			Status:      model.StateHealthy,
			CheckedAt:   time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
		}},
		recovery:   &fakeRecovery{result: &biz.RecoveryResult{Success: true, Strategy: biz.StrategyTokenRefresh, Requeued: 3}},
		batches:    &fakeBatches{err: data.ErrKeyNotFound},
		metrics:    &fakeMetrics{},
		errors:     &fakeErrors{},
		operations: &fakeOperations{},
	}

	api := &ConnectionAPI{
		connections: f.connections,
		recovery:    f.recovery,
		batches:     f.batches,
		metrics:     f.metrics,
		errors:      f.errors,
		operations:  f.operations,
	}
	f.srv = NewHTTPServer(&conf.Server{Http: &conf.Server_HTTP{Addr: "127.0.0.1:0"}}, api, d, f.reg, testLogger)
	return f
}

func (f *apiFixture) do(method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func postJSON(srv *http.Server, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(nethttp.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestConnectionAPI_Health(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(nethttp.MethodGet, "/v1/connections/dropbox/42/health")

	require.Equal(t, nethttp.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "dropbox", body["provider"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, []connectionCall{{42, model.ProviderDropbox}}, f.connections.calls)
}

func TestConnectionAPI_RequestIDEchoed(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(nethttp.MethodGet, "/v1/connections/dropbox/42/health", nil)
	req.Header.Set("X-Request-ID", "req-abc")
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)

	assert.Equal(t, "req-abc", rec.Header().Get("X-Request-ID"))
}

func TestConnectionAPI_InvalidPrincipal(t *testing.T) {
	f := newAPIFixture(t)

	for _, target := range []string{
		"/v1/connections/dropbox/abc/health",
		"/v1/connections/dropbox/0/health",
		"/v1/connections/dropbox/-3/errors",
	} {
		rec := f.do(nethttp.MethodGet, target)
		assert.Equal(t, nethttp.StatusBadRequest, rec.Code, target)
		assert.Equal(t, "INVALID_PRINCIPAL_ID", decodeBody(t, rec)["reason"], target)
	}
	assert.Empty(t, f.connections.calls)
}

func TestConnectionAPI_LiveTest(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(nethttp.MethodPost, "/v1/connections/onedrive/7/live-test")

	require.Equal(t, nethttp.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decodeBody(t, rec)["successful"])
	assert.Equal(t, []connectionCall{{7, model.ProviderOneDrive}}, f.connections.calls)
}

func TestConnectionAPI_Recover(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(nethttp.MethodPost, "/v1/connections/google-drive/9/recover")

	require.Equal(t, nethttp.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "token_refresh", body["strategy"])
	assert.Equal(t, float64(3), body["requeued"])
	assert.Equal(t, []connectionCall{{9, model.ProviderGoogleDrive}}, f.recovery.Calls())
}

func TestConnectionAPI_RecentErrors(t *testing.T) {
	f := newAPIFixture(t)
	f.errors.records = []*model.ErrorRecord{{ID: "e1", Provider: model.ProviderDropbox, ErrorKind: model.ErrorKindNetworkError}}

	rec := f.do(nethttp.MethodGet, "/v1/connections/dropbox/42/errors?hours=2")

	require.Equal(t, nethttp.StatusOK, rec.Code, rec.Body.String())
	records, ok := decodeBody(t, rec)["errors"].([]interface{})
	require.True(t, ok)
	require.Len(t, records, 1)
	assert.Equal(t, "network_error", records[0].(map[string]interface{})["error_kind"])
}

func TestConnectionAPI_ReportOperation(t *testing.T) {
	f := newAPIFixture(t)

	rec := postJSON(f.srv, "/v1/connections/dropbox/42/operations",
		`{"operation":"upload","success":false,"duration_ms":1500,"bytes":2048,"status_code":503,"error_message":"backend down"}`)

	require.Equal(t, nethttp.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "upload", body["operation"])
	assert.Equal(t, "service_unavailable", body["error_kind"])

	require.Len(t, f.operations.reports, 1)
	rep := f.operations.reports[0]
	assert.Equal(t, int64(42), rep.PrincipalID)
	assert.Equal(t, model.ProviderDropbox, rep.Provider)
	assert.False(t, rep.Success)
	assert.Equal(t, 1500*time.Millisecond, rep.Duration)
	assert.Equal(t, int64(2048), rep.Bytes)
	assert.Equal(t, 503, rep.StatusCode)
	assert.Equal(t, "backend down", rep.ErrorMessage)
}

func TestConnectionAPI_ReportOperationInvalid(t *testing.T) {
	f := newAPIFixture(t)

	for _, body := range []string{
		``,
		`{"success":true}`,
		`{"operation":"upload","duration_ms":-1}`,
		`{"operation":`,
	} {
		rec := postJSON(f.srv, "/v1/connections/dropbox/42/operations", body)
		assert.Equal(t, nethttp.StatusBadRequest, rec.Code, body)
		assert.Equal(t, "INVALID_REPORT", decodeBody(t, rec)["reason"], body)
	}
	assert.Empty(t, f.operations.reports)

	rec := postJSON(f.srv, "/v1/connections/dropbox/0/operations", `{"operation":"upload"}`)
	assert.Equal(t, nethttp.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_PRINCIPAL_ID", decodeBody(t, rec)["reason"])
}

func TestConnectionAPI_ReportedFailuresReachTracker(t *testing.T) {
	f := newAPIFixture(t)

	tracker := biz.NewErrorTracker(f.store, nopNotifier{}, &conf.Alerting{}, testLogger)
	metrics := biz.NewMetricsAggregator(f.store, data.NewPrometheusSink(f.reg, testLogger), &conf.Metrics{}, testLogger)
	api := NewConnectionAPI(nil, nil, nil, metrics, tracker, biz.NewOperationReporter(biz.NewErrorClassifier(), tracker, metrics, testLogger))
	srv := NewHTTPServer(&conf.Server{Http: &conf.Server_HTTP{Addr: "127.0.0.1:0"}}, api, nil, prometheus.NewRegistry(), testLogger)

	for i := 0; i < 2; i++ {
		rec := postJSON(srv, "/v1/connections/dropbox/42/operations",
			`{"operation":"upload","success":false,"duration_ms":200,"error_code":"insufficient_space"}`)
		require.Equal(t, nethttp.StatusOK, rec.Code, rec.Body.String())
		body := decodeBody(t, rec)
		assert.Equal(t, "storage_quota_exceeded", body["error_kind"])
		assert.Equal(t, float64(i+1), body["consecutive_failures"])
	}
	rec := postJSON(srv, "/v1/connections/dropbox/42/operations", `{"operation":"upload","success":true,"duration_ms":100}`)
	require.Equal(t, nethttp.StatusOK, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(nethttp.MethodGet, "/v1/connections/dropbox/42/errors?hours=1", nil))
	require.Equal(t, nethttp.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decodeBody(t, rec)["errors"], 2)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(nethttp.MethodGet, "/v1/providers/dropbox/operations/upload/stats?hours=1", nil))
	require.Equal(t, nethttp.StatusOK, rec.Code, rec.Body.String())
	stats := decodeBody(t, rec)
	assert.Equal(t, float64(3), stats["total"])
	assert.Equal(t, float64(2), stats["failure"])
}

func TestConnectionAPI_Window(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(nethttp.MethodGet, "/v1/providers/dropbox/health-score")
	require.Equal(t, nethttp.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "A", decodeBody(t, rec)["grade"])

	rec = f.do(nethttp.MethodGet, "/v1/providers/dropbox/operations/upload/stats?hours=6")
	require.Equal(t, nethttp.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "upload", decodeBody(t, rec)["operation"])

	assert.Equal(t, []int{24, 6}, f.metrics.hours)

	for _, bad := range []string{"0", "169", "soon"} {
		rec = f.do(nethttp.MethodGet, "/v1/providers/dropbox/health-score?hours="+bad)
		assert.Equal(t, nethttp.StatusBadRequest, rec.Code, bad)
		assert.Equal(t, "INVALID_WINDOW", decodeBody(t, rec)["reason"])
	}
}

func TestConnectionAPI_LatestBatch(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(nethttp.MethodGet, "/v1/batch-refresh/latest")
	assert.Equal(t, nethttp.StatusNotFound, rec.Code)
	assert.Equal(t, "BATCH_RUN_NOT_FOUND", decodeBody(t, rec)["reason"])

	f.batches.run = &model.BatchRun{BatchID: "b-1", Status: model.BatchCompleted, Processed: 10, Successful: 10}
	f.batches.err = nil

	rec = f.do(nethttp.MethodGet, "/v1/batch-refresh/latest")
	require.Equal(t, nethttp.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "b-1", body["batch_id"])
	assert.Equal(t, "completed", body["status"])
}

func TestHTTPServer_Metrics(t *testing.T) {
	f := newAPIFixture(t)
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "cloudrelay_test_total", Help: "test counter"})
	f.reg.MustRegister(counter)
	counter.Add(3)

	rec := f.do(nethttp.MethodGet, "/metrics")

	require.Equal(t, nethttp.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "cloudrelay_test_total 3"), rec.Body.String())
}

func TestHTTPServer_Healthz(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(nethttp.MethodGet, "/healthz")
	require.Equal(t, nethttp.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["redis"])

	f.mr.Close()

	rec = f.do(nethttp.MethodGet, "/healthz")
	assert.Equal(t, nethttp.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unreachable", decodeBody(t, rec)["redis"])
}

func TestHTTPServer_HealthzWithoutRedis(t *testing.T) {
	srv := NewHTTPServer(nil, &ConnectionAPI{}, nil, prometheus.NewRegistry(), testLogger)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(nethttp.MethodGet, "/healthz", nil))

	assert.Equal(t, nethttp.StatusServiceUnavailable, rec.Code)
}
