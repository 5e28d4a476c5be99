package log

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHelper(t *testing.T) (*LogHelper, func() []map[string]interface{}) {
	t.Helper()
	logger, buf := newBufferLogger()
	return NewLogHelper(logger), func() []map[string]interface{} { return decodeLines(t, buf) }
}

func TestLogHelper_TypedEntries(t *testing.T) {
	tests := []struct {
		name      string
		log       func(h *LogHelper)
		wantType  string
		wantLevel string
	}{
		{"startup", func(h *LogHelper) { h.Startup("CloudRelay starting") }, "startup", "info"},
		{"database", func(h *LogHelper) { h.Database("tables migrated") }, "database", "debug"},
		{"redis", func(h *LogHelper) { h.Redis("connected") }, "redis", "debug"},
		{"scheduler", func(h *LogHelper) { h.Scheduler("cron registered", "spec", "0 */15 * * * *") }, "scheduler", "info"},
		{"notify", func(h *LogHelper) { h.Notify("connection restored") }, "notify", "info"},
		{"refresh", func(h *LogHelper) { h.Refresh("token refreshed", "provider", "dropbox") }, "refresh", "info"},
		{"alert", func(h *LogHelper) { h.Alert("alert sent", "alert_type", "escalation") }, "alert", "warn"},
		{"requeue", func(h *LogHelper) { h.Requeue("pending uploads requeued", "requeued", 3) }, "requeue", "info"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, entries := newTestHelper(t)
			tt.log(h)

			got := entries()
			require.Len(t, got, 1)
			assert.Equal(t, tt.wantType, got[0]["type"])
			assert.Equal(t, tt.wantLevel, got[0]["level"])
			assert.NotEmpty(t, got[0]["msg"])
		})
	}
}

func TestLogHelper_Batch(t *testing.T) {
	h, entries := newTestHelper(t)

	h.Batch("b-1", "completed", 10, 10, 0)
	h.Batch("b-2", "circuit_broken", 12, 8, 4)

	got := entries()
	require.Len(t, got, 2)
	assert.Equal(t, "info", got[0]["level"])
	assert.Equal(t, "batch", got[0]["type"])
	assert.Equal(t, "Batch b-1 completed - processed 10, ok 10, failed 0", got[0]["msg"])

	assert.Equal(t, "warn", got[1]["level"])
	assert.Equal(t, "circuit", got[1]["type"])
	assert.Equal(t, float64(4), got[1]["failed"])
}

func TestLogHelper_JobWithContext(t *testing.T) {
	h, entries := newTestHelper(t)
	ctx := WithJobContext(context.Background(), JobContext{TraceID: "abc123defg", JobID: "job-9", JobType: "connection_recovery", Lane: "connection-recovery"})

	h.JobWithContext(ctx, "job started")
	h.JobFailedWithContext(ctx, errors.New("redis down"))
	h.RecoveryWithContext(ctx, "dropbox", 42, "token_refresh", false)

	got := entries()
	require.Len(t, got, 3)

	assert.Equal(t, "[abc123defg] job started", got[0]["msg"])
	assert.Equal(t, "job-9", got[0]["job_id"])
	assert.Equal(t, "job", got[0]["type"])

	assert.Equal(t, "error", got[1]["level"])
	assert.Equal(t, "redis down", got[1]["error"])

	assert.Equal(t, "warn", got[2]["level"])
	assert.Equal(t, "recovery", got[2]["type"])
	assert.Equal(t, "[abc123defg] Recovery failed for dropbox/42 via token_refresh", got[2]["msg"])
}

func TestLogHelper_RequestWithContext(t *testing.T) {
	h, entries := newTestHelper(t)
	ctx := WithRequestContext(context.Background(), "req-7")

	h.RequestWithContext(ctx, "GET", "/healthz", 200, 12)
	h.RequestWithContext(ctx, "GET", "/metrics", 200, 1500)

	got := entries()
	require.Len(t, got, 3)
	assert.Equal(t, "GET /healthz - 200 (12ms) | RequestID: req-7", got[0]["msg"])
	assert.Equal(t, float64(200), got[0]["status"])
	assert.Equal(t, "slow_request", got[2]["type"])
	assert.Equal(t, "warn", got[2]["level"])
}
