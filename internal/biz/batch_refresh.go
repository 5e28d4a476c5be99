package biz

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"CloudRelay/internal/conf"
	"CloudRelay/internal/data"
	"CloudRelay/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// maxBatchErrors caps the error messages kept in a run summary.
const maxBatchErrors = 50

// BatchRefreshOrchestrator proactively refreshes credentials that are about to expire.
// Only one run may hold the global lock; a run stops early when too many refreshes fail.
type BatchRefreshOrchestrator struct {
	store     StateStore
	creds     CredentialRepo
	refresher RefreshCoordinator
	metrics   *MetricsAggregator
	cfg       conf.BatchRefresh
	logger    *log.Helper
	now       func() time.Time
}

// NewBatchRefreshOrchestrator creates a batch orchestrator. Zero configuration values fall back
// to defaults.
func NewBatchRefreshOrchestrator(store StateStore, creds CredentialRepo, refresher RefreshCoordinator, metrics *MetricsAggregator, c *conf.BatchRefresh, logger log.Logger) *BatchRefreshOrchestrator {
	cfg := conf.BatchRefresh{
		ChunkSize:        20,
		Concurrency:      5,
		Timeout:          300 * time.Second,
		ExpiryWindow:     time.Hour,
		FailureThreshold: 0.30,
		MinSampleSize:    10,
		SummaryTTL:       30 * time.Minute,
	}
	if c != nil {
		cfg.Cron = c.Cron
		if c.ChunkSize > 0 {
			cfg.ChunkSize = c.ChunkSize
		}
		if c.Concurrency > 0 {
			cfg.Concurrency = c.Concurrency
		}
		if c.Timeout > 0 {
			cfg.Timeout = c.Timeout
		}
		if c.ExpiryWindow > 0 {
			cfg.ExpiryWindow = c.ExpiryWindow
		}
		if c.FailureThreshold > 0 {
			cfg.FailureThreshold = c.FailureThreshold
		}
		if c.MinSampleSize > 0 {
			cfg.MinSampleSize = c.MinSampleSize
		}
		if c.SummaryTTL > 0 {
			cfg.SummaryTTL = c.SummaryTTL
		}
	}

	return &BatchRefreshOrchestrator{
		store:     store,
		creds:     creds,
		refresher: refresher,
		metrics:   metrics,
		cfg:       cfg,
		logger:    log.NewHelper(logger),
		now:       time.Now,
	}
}

// Run executes one batch refresh and returns its summary. It never returns nil.
func (o *BatchRefreshOrchestrator) Run(ctx context.Context) *model.BatchRun {
	run := &model.BatchRun{
		BatchID:   uuid.NewString(),
		StartedAt: o.now(),
	}

	token, ok, err := o.store.TryLock(ctx, batchLockKey, o.cfg.Timeout)
	if err != nil {
		run.Status = model.BatchFailed
		run.Errors = append(run.Errors, fmt.Sprintf("acquire batch lock: %v", err))
		return o.finish(ctx, run)
	}
	if !ok {
		o.logger.Infow("msg", "batch refresh already running, skipping", "batch_id", run.BatchID)
		run.Status = model.BatchAlreadyRunning
		return o.finish(ctx, run)
	}
	defer func() {
		if _, err := o.store.Unlock(context.WithoutCancel(ctx), batchLockKey, token); err != nil {
			o.logger.Warnw("msg", "failed to release batch lock", "batch_id", run.BatchID, "error", err)
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	creds, err := o.creds.ListExpiringCredentials(runCtx, o.now().Add(o.cfg.ExpiryWindow))
	if err != nil {
		run.Status = model.BatchFailed
		run.Errors = append(run.Errors, fmt.Sprintf("list expiring credentials: %v", err))
		return o.finish(ctx, run)
	}
	run.TotalTokens = len(creds)

	o.logger.Infow("msg", "batch refresh started",
		"batch_id", run.BatchID,
		"total_tokens", run.TotalTokens,
		"chunk_size", o.cfg.ChunkSize)

	for start := 0; start < len(creds); start += o.cfg.ChunkSize {
		if runCtx.Err() != nil {
			break
		}

		end := start + o.cfg.ChunkSize
		if end > len(creds) {
			end = len(creds)
		}
		o.processChunk(runCtx, run, creds[start:end])
		run.BatchesProcessed++

		if runCtx.Err() != nil {
			break
		}
		if run.Processed >= o.cfg.MinSampleSize && run.FailureRate() > o.cfg.FailureThreshold {
			run.Status = model.BatchCircuitBroken
			o.logger.Warnw("msg", "batch refresh circuit broken",
				"batch_id", run.BatchID,
				"processed", run.Processed,
				"failed", run.Failed,
				"failure_rate", run.FailureRate())
			break
		}
	}

	if run.Status == "" {
		switch err := runCtx.Err(); {
		case errors.Is(err, context.DeadlineExceeded):
			run.Status = model.BatchTimedOut
		case err != nil:
			run.Status = model.BatchFailed
			run.Errors = append(run.Errors, fmt.Sprintf("batch cancelled: %v", err))
		default:
			run.Status = model.BatchCompleted
		}
	}

	return o.finish(ctx, run)
}

// LatestRun returns the summary of the most recent run, if still cached.
func (o *BatchRefreshOrchestrator) LatestRun(ctx context.Context) (*model.BatchRun, error) {
	var run model.BatchRun
	if err := o.store.GetJSON(ctx, batchLatestKey, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// processChunk refreshes one chunk with bounded concurrency. A refresh another worker already
// holds counts as success.
func (o *BatchRefreshOrchestrator) processChunk(ctx context.Context, run *model.BatchRun, chunk []*data.Credential) {
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(o.cfg.Concurrency)

	for _, cred := range chunk {
		g.Go(func() error {
			outcome := o.refresher.CoordinateRefresh(ctx, cred.PrincipalID, cred.Provider)

			mu.Lock()
			defer mu.Unlock()
			run.Processed++
			if outcome.Succeeded() || outcome.InProgress {
				run.Successful++
				return nil
			}
			run.Failed++
			if len(run.Errors) < maxBatchErrors {
				run.Errors = append(run.Errors, fmt.Sprintf("%s/%d: %s", cred.Provider, cred.PrincipalID, outcome.Message))
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (o *BatchRefreshOrchestrator) finish(ctx context.Context, run *model.BatchRun) *model.BatchRun {
	run.Duration = o.now().Sub(run.StartedAt)
	if run.Processed > 0 {
		run.SuccessRate = float64(run.Successful) / float64(run.Processed) * 100
	}

	storeCtx := context.WithoutCancel(ctx)
	if err := o.store.SetJSON(storeCtx, batchSummaryKey(run.BatchID), run, o.cfg.SummaryTTL); err != nil {
		o.logger.Warnw("msg", "failed to store batch summary", "batch_id", run.BatchID, "error", err)
	}
	if run.Status != model.BatchAlreadyRunning {
		if err := o.store.SetJSON(storeCtx, batchLatestKey, run, o.cfg.SummaryTTL); err != nil {
			o.logger.Warnw("msg", "failed to store latest batch summary", "batch_id", run.BatchID, "error", err)
		}
	}
	if err := o.metrics.RecordBatchRun(storeCtx, run); err != nil {
		o.logger.Warnw("msg", "failed to publish batch summary", "batch_id", run.BatchID, "error", err)
	}

	o.logger.Infow("msg", "batch refresh finished",
		"batch_id", run.BatchID,
		"status", run.Status,
		"processed", run.Processed,
		"successful", run.Successful,
		"failed", run.Failed,
		"duration", run.Duration)
	return run
}
