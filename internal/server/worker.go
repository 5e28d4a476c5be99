package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"CloudRelay/internal/biz"
	"CloudRelay/internal/conf"
	"CloudRelay/internal/data"
	"CloudRelay/internal/model"
	pkglog "CloudRelay/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport"
)

var _ transport.Server = (*WorkerServer)(nil)

type jobSource interface {
	Due(ctx context.Context, lane string, limit int) ([]*model.Job, error)
}

// WorkerServer polls job lanes and runs the connection_recovery jobs it claims.
// It plugs into the Kratos app lifecycle next to the HTTP server.
type WorkerServer struct {
	jobs      jobSource
	recovery  recoveryService
	lanes     []string
	interval  time.Duration
	batchSize int
	logger    *pkglog.LogHelper

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorkerServer creates the lane worker.
func NewWorkerServer(c *conf.Worker, scheduler *data.RedisScheduler, executor *biz.RecoveryExecutor, logger log.Logger) *WorkerServer {
	return newWorkerServer(c, scheduler, executor, logger)
}

func newWorkerServer(c *conf.Worker, jobs jobSource, recovery recoveryService, logger log.Logger) *WorkerServer {
	w := &WorkerServer{
		jobs:      jobs,
		recovery:  recovery,
		lanes:     []string{"connection-recovery"},
		interval:  5 * time.Second,
		batchSize: 50,
		logger:    pkglog.NewLogHelper(logger),
	}
	if c != nil {
		if len(c.Lanes) > 0 {
			w.lanes = c.Lanes
		}
		if c.PollInterval > 0 {
			w.interval = c.PollInterval
		}
		if c.BatchSize > 0 {
			w.batchSize = c.BatchSize
		}
	}
	return w
}

// Start polls until Stop is called or ctx ends.
func (w *WorkerServer) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return fmt.Errorf("worker: already started")
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	done := w.done
	w.mu.Unlock()

	defer close(done)

	w.logger.Scheduler("worker started", "lanes", w.lanes, "poll_interval", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.PollOnce(ctx)

		select {
		case <-ctx.Done():
			w.logger.Scheduler("worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Stop cancels polling and waits for the in-flight poll to finish.
func (w *WorkerServer) Stop(ctx context.Context) error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PollOnce claims the due jobs of every lane and runs them. It returns how many jobs ran.
func (w *WorkerServer) PollOnce(ctx context.Context) int {
	ran := 0
	for _, lane := range w.lanes {
		if ctx.Err() != nil {
			return ran
		}

		jobs, err := w.jobs.Due(ctx, lane, w.batchSize)
		if err != nil {
			w.logger.Errorw("msg", "failed to claim jobs", "lane", lane, "error", err)
		}
		for _, job := range jobs {
			w.handle(ctx, job)
			ran++
		}
	}
	return ran
}

func (w *WorkerServer) handle(ctx context.Context, job *model.Job) {
	jc := pkglog.JobContext{JobID: job.ID, JobType: job.Type, Lane: job.Lane}

	switch job.Type {
	case model.JobTypeConnectionRecovery:
		var payload model.ConnectionRecoveryPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			w.logger.JobFailedWithContext(pkglog.WithJobContext(ctx, jc), fmt.Errorf("malformed payload: %w", err))
			return
		}
		jc.PrincipalID = payload.PrincipalID
		jc.Provider = payload.Provider.String()
		jobCtx := pkglog.WithJobContext(ctx, jc)

		w.logger.JobWithContext(jobCtx, "running connection recovery", "attempt", payload.Attempt)
		result := w.recovery.Recover(jobCtx, payload.PrincipalID, payload.Provider)
		w.logger.RecoveryWithContext(jobCtx, payload.Provider.String(), payload.PrincipalID, string(result.Strategy), result.Success,
			"error_kind", result.ErrorKind,
			"requeued", result.Requeued,
			"retry_scheduled", result.RetryScheduled,
			"notified", result.Notified,
		)
	default:
		// upload_retry jobs belong to the uploader that owns the recovery lane
		w.logger.JobFailedWithContext(pkglog.WithJobContext(ctx, jc), fmt.Errorf("unsupported job type %q", job.Type))
	}
}
