package biz

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"CloudRelay/internal/conf"
	"CloudRelay/internal/data"
	"CloudRelay/internal/model"
	pkglog "CloudRelay/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

// RequeueResult summarises one requeue pass.
type RequeueResult struct {
	Requeued int
	Skipped  int
	Batches  int
	JobIDs   []string
}

// UploadRequeuer hands a principal's pending uploads back to the job lanes once the
// connection works again. Uploads go out oldest first in batches staggered in time.
type UploadRequeuer struct {
	uploads    PendingUploadRepo
	scheduler  Scheduler
	lane       string
	batchSize  int
	batchDelay time.Duration
	limit      int
	logger     *pkglog.LogHelper
}

// NewUploadRequeuer creates a requeuer from the requeue configuration.
func NewUploadRequeuer(uploads PendingUploadRepo, scheduler Scheduler, c *conf.Requeue, logger log.Logger) *UploadRequeuer {
	r := &UploadRequeuer{
		uploads:    uploads,
		scheduler:  scheduler,
		lane:       "recovery",
		batchSize:  10,
		batchDelay: 30 * time.Second,
		limit:      500,
		logger:     pkglog.NewLogHelper(logger),
	}
	if c != nil {
		if c.Lane != "" {
			r.lane = c.Lane
		}
		if c.BatchSize > 0 {
			r.batchSize = c.BatchSize
		}
		if c.BatchDelay > 0 {
			r.batchDelay = c.BatchDelay
		}
		if c.Limit > 0 {
			r.limit = c.Limit
		}
	}
	return r
}

// Requeue enqueues every retryable pending upload of (principal, provider). Batch i runs
// i × batch delay from now. Uploads whose local file disappeared are marked skipped.
func (r *UploadRequeuer) Requeue(ctx context.Context, principalID int64, provider model.Provider) (*RequeueResult, error) {
	listed, err := r.uploads.ListRecoverableUploads(ctx, principalID, provider, r.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending uploads: %w", err)
	}

	uploads := make([]*data.PendingUpload, 0, len(listed))
	for _, u := range listed {
		if u.CanBeRetried() {
			uploads = append(uploads, u)
		}
	}
	sort.SliceStable(uploads, func(i, j int) bool {
		return uploads[i].CreatedAt.Before(uploads[j].CreatedAt)
	})

	result := &RequeueResult{}
	for start := 0; start < len(uploads); start += r.batchSize {
		end := start + r.batchSize
		if end > len(uploads) {
			end = len(uploads)
		}
		batch := start / r.batchSize
		delay := time.Duration(batch) * r.batchDelay
		result.Batches++

		for _, u := range uploads[start:end] {
			if !u.LocalSourceExists() {
				reason := "local source file missing: " + u.LocalPath
				if err := r.uploads.MarkRecoverySkipped(ctx, u.ID, reason); err != nil {
					r.logger.Warnw("msg", "failed to mark upload skipped", "upload_id", u.ID, "error", err)
				}
				result.Skipped++
				continue
			}

			payload, err := json.Marshal(model.UploadRetryPayload{
				UploadID:    u.ID,
				PrincipalID: principalID,
				Provider:    provider,
				Batch:       batch,
			})
			if err != nil {
				return result, fmt.Errorf("failed to encode upload %d: %w", u.ID, err)
			}

			jobID, err := r.scheduler.Enqueue(ctx, &model.Job{Type: model.JobTypeUploadRetry, Payload: payload}, delay, r.lane)
			if err != nil {
				return result, fmt.Errorf("failed to enqueue upload %d: %w", u.ID, err)
			}
			if err := r.uploads.MarkRequeued(ctx, u.ID); err != nil {
				r.logger.Warnw("msg", "failed to mark upload requeued", "upload_id", u.ID, "error", err)
			}

			result.Requeued++
			result.JobIDs = append(result.JobIDs, jobID)
		}
	}

	r.logger.Requeue("pending uploads requeued",
		"provider", provider,
		"principal_id", principalID,
		"requeued", result.Requeued,
		"skipped", result.Skipped,
		"batches", result.Batches)
	return result, nil
}
