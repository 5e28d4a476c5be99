package log

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

type contextKey string

const (
	requestContextKey contextKey = "cloudrelay_request_context"
	jobContextKey     contextKey = "cloudrelay_job_context"
)

// RequestContext carries the trace of one HTTP request.
type RequestContext struct {
	RequestID string
	StartTime time.Time
}

// JobContext carries the trace of one scheduled job while a worker runs it.
type JobContext struct {
	TraceID     string
	JobID       string
	JobType     string
	Lane        string
	PrincipalID int64
	Provider    string
	StartTime   time.Time
}

var (
	randSource  = rand.NewSource(time.Now().UnixNano())
	randMutex   sync.Mutex
	base36Chars = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// GenerateTraceID returns a 10 character base36 id such as mgrn0zfqda.
func GenerateTraceID() string {
	randMutex.Lock()
	defer randMutex.Unlock()

	b := make([]byte, 10)
	for i := range b {
		b[i] = base36Chars[randSource.Int63()%36]
	}
	return string(b)
}

// WithRequestContext attaches a request trace to ctx.
func WithRequestContext(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		requestID = GenerateTraceID()
	}
	return context.WithValue(ctx, requestContextKey, &RequestContext{
		RequestID: requestID,
		StartTime: time.Now(),
	})
}

// GetRequestContext returns the request trace of ctx, or one with RequestID "unknown".
func GetRequestContext(ctx context.Context) *RequestContext {
	if ctx != nil {
		if rc, ok := ctx.Value(requestContextKey).(*RequestContext); ok {
			return rc
		}
	}
	return &RequestContext{RequestID: "unknown"}
}

// WithJobContext attaches a job trace to ctx. A missing trace id is generated.
func WithJobContext(ctx context.Context, jc JobContext) context.Context {
	if jc.TraceID == "" {
		jc.TraceID = GenerateTraceID()
	}
	if jc.StartTime.IsZero() {
		jc.StartTime = time.Now()
	}
	return context.WithValue(ctx, jobContextKey, &jc)
}

// GetJobContext returns the job trace of ctx, if any.
func GetJobContext(ctx context.Context) (*JobContext, bool) {
	if ctx == nil {
		return nil, false
	}
	jc, ok := ctx.Value(jobContextKey).(*JobContext)
	return jc, ok
}

// GetTraceID returns the job trace id, else the request id, else "unknown".
func GetTraceID(ctx context.Context) string {
	if jc, ok := GetJobContext(ctx); ok {
		return jc.TraceID
	}
	return GetRequestContext(ctx).RequestID
}

// GetElapsedTime returns the milliseconds since the job or request started.
func GetElapsedTime(ctx context.Context) int64 {
	if jc, ok := GetJobContext(ctx); ok {
		return time.Since(jc.StartTime).Milliseconds()
	}
	rc := GetRequestContext(ctx)
	if rc.StartTime.IsZero() {
		return 0
	}
	return time.Since(rc.StartTime).Milliseconds()
}

// contextKeyvals returns the trace fields of ctx as key/value pairs.
func contextKeyvals(ctx context.Context) []interface{} {
	if jc, ok := GetJobContext(ctx); ok {
		kvs := []interface{}{"trace_id", jc.TraceID, "job_id", jc.JobID, "job_type", jc.JobType, "lane", jc.Lane}
		if jc.PrincipalID != 0 {
			kvs = append(kvs, "principal_id", jc.PrincipalID)
		}
		if jc.Provider != "" {
			kvs = append(kvs, "provider", jc.Provider)
		}
		return kvs
	}
	return []interface{}{"request_id", GetRequestContext(ctx).RequestID}
}
