package log

import (
	"context"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
)

// slowRequestMs is the latency above which a request is also logged as slow.
const slowRequestMs = 1000

// LogHelper extends log.Helper with typed entries. The "type" field drives the console emoji.
type LogHelper struct {
	*log.Helper
}

// NewLogHelper creates a LogHelper.
func NewLogHelper(logger log.Logger) *LogHelper {
	return &LogHelper{
		Helper: log.NewHelper(logger),
	}
}

func typed(logType, msg string, kvs []interface{}) []interface{} {
	all := make([]interface{}, 0, len(kvs)+4)
	all = append(all, "msg", msg)
	all = append(all, kvs...)
	return append(all, "type", logType)
}

// Startup logs a lifecycle event of the process.
func (h *LogHelper) Startup(msg string, kvs ...interface{}) {
	h.Infow(typed("startup", msg, kvs)...)
}

// Database logs a storage event at debug level.
func (h *LogHelper) Database(msg string, kvs ...interface{}) {
	h.Debugw(typed("database", msg, kvs)...)
}

// Redis logs a key-value store event at debug level.
func (h *LogHelper) Redis(msg string, kvs ...interface{}) {
	h.Debugw(typed("redis", msg, kvs)...)
}

// Scheduler logs a cron or lane event.
func (h *LogHelper) Scheduler(msg string, kvs ...interface{}) {
	h.Infow(typed("scheduler", msg, kvs)...)
}

// Notify logs an outgoing notification.
func (h *LogHelper) Notify(msg string, kvs ...interface{}) {
	h.Infow(typed("notify", msg, kvs)...)
}

// Refresh logs a token refresh outcome.
func (h *LogHelper) Refresh(msg string, kvs ...interface{}) {
	h.Infow(typed("refresh", msg, kvs)...)
}

// Alert logs a raised operator alert as a warning.
func (h *LogHelper) Alert(msg string, kvs ...interface{}) {
	h.Warnw(typed("alert", msg, kvs)...)
}

// Requeue logs pending uploads handed back to the job lanes.
func (h *LogHelper) Requeue(msg string, kvs ...interface{}) {
	h.Infow(typed("requeue", msg, kvs)...)
}

// Batch logs the summary of a batch refresh run. A circuit break is logged as a warning.
func (h *LogHelper) Batch(batchID, status string, processed, successful, failed int, kvs ...interface{}) {
	msg := fmt.Sprintf("Batch %s %s - processed %d, ok %d, failed %d", batchID, status, processed, successful, failed)
	all := typed("batch", msg, append(kvs,
		"batch_id", batchID,
		"status", status,
		"processed", processed,
		"successful", successful,
		"failed", failed,
	))
	if status == "circuit_broken" || status == "timed_out" || status == "failed" {
		all[len(all)-1] = "circuit"
		h.Warnw(all...)
		return
	}
	h.Infow(all...)
}

// JobWithContext logs a job event with the trace fields of ctx.
func (h *LogHelper) JobWithContext(ctx context.Context, msg string, kvs ...interface{}) {
	fullMsg := fmt.Sprintf("[%s] %s", GetTraceID(ctx), msg)
	h.Infow(typed("job", fullMsg, append(contextKeyvals(ctx), kvs...))...)
}

// JobFailedWithContext logs a failed job with the trace fields and elapsed time of ctx.
func (h *LogHelper) JobFailedWithContext(ctx context.Context, err error, kvs ...interface{}) {
	fullMsg := fmt.Sprintf("[%s] Job failed after %dms", GetTraceID(ctx), GetElapsedTime(ctx))
	all := append(contextKeyvals(ctx), kvs...)
	all = append(all, "error", err)
	h.Errorw(typed("error", fullMsg, all)...)
}

// RecoveryWithContext logs the outcome of a recovery run.
func (h *LogHelper) RecoveryWithContext(ctx context.Context, provider string, principalID int64, strategy string, success bool, kvs ...interface{}) {
	outcome := "failed"
	if success {
		outcome = "succeeded"
	}
	msg := fmt.Sprintf("[%s] Recovery %s for %s/%d via %s", GetTraceID(ctx), outcome, provider, principalID, strategy)
	all := append(contextKeyvals(ctx), kvs...)
	all = append(all, "strategy", strategy, "success", success, "duration_ms", GetElapsedTime(ctx))
	if success {
		h.Infow(typed("recovery", msg, all)...)
		return
	}
	h.Warnw(typed("recovery", msg, all)...)
}

// RequestWithContext logs a served HTTP request and flags it when slow.
func (h *LogHelper) RequestWithContext(ctx context.Context, method, path string, status int, durationMs int64, kvs ...interface{}) {
	requestID := GetRequestContext(ctx).RequestID
	msg := fmt.Sprintf("%s %s - %d (%dms) | RequestID: %s", method, path, status, durationMs, requestID)
	h.Infow(typed("request", msg, append(kvs,
		"request_id", requestID,
		"method", method,
		"path", path,
		"status", status,
		"duration_ms", durationMs,
	))...)

	if durationMs > slowRequestMs {
		slow := fmt.Sprintf("[%s] Slow request | %s %s | %dms (threshold: %dms)", requestID, method, path, durationMs, slowRequestMs)
		h.Warnw(typed("slow_request", slow, []interface{}{
			"request_id", requestID,
			"duration_ms", durationMs,
			"threshold_ms", slowRequestMs,
		})...)
	}
}
