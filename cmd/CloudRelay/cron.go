package main

import (
	"context"

	"CloudRelay/internal/biz"
	"CloudRelay/internal/conf"
	zapLogger "CloudRelay/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

const defaultBatchRefreshSpec = "0 */15 * * * *"

// StartBatchRefreshCron schedules the proactive token refresh run.
// The cron expression has a seconds field; the default runs every 15 minutes.
// Overlapping ticks are skipped, and the orchestrator's lock covers other replicas.
func StartBatchRefreshCron(o *biz.BatchRefreshOrchestrator, c *conf.BatchRefresh, logger log.Logger) (*cron.Cron, error) {
	helper := zapLogger.NewLogHelper(logger)

	spec := defaultBatchRefreshSpec
	if c != nil && c.Cron != "" {
		spec = c.Cron
	}

	s := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	_, err := s.AddFunc(spec, func() {
		run := o.Run(context.Background())
		helper.Batch(run.BatchID, string(run.Status), run.Processed, run.Successful, run.Failed,
			"total_tokens", run.TotalTokens,
			"batches_processed", run.BatchesProcessed,
			"duration", run.Duration,
		)
	})
	if err != nil {
		helper.Errorw("msg", "failed to register batch refresh cron job", "spec", spec, "error", err)
		return nil, err
	}

	s.Start()
	helper.Scheduler("batch refresh cron started", "spec", spec)

	return s, nil
}
