package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"CloudRelay/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisScheduler keeps delayed jobs in one sorted set per lane, scored by ready time in milliseconds.
type RedisScheduler struct {
	client *redis.Client
	logger *log.Helper
	now    func() time.Time
}

// NewRedisScheduler creates a scheduler on top of the shared Redis client.
func NewRedisScheduler(rdb *redis.Client, logger log.Logger) *RedisScheduler {
	return &RedisScheduler{
		client: rdb,
		logger: log.NewHelper(logger),
		now:    time.Now,
	}
}

// LaneKey returns the sorted set holding a lane's jobs.
func LaneKey(lane string) string {
	return BuildKey("jobs", lane)
}

// Enqueue places job on lane, runnable after delay. It fills in the job id and timestamps
// and returns the id.
func (s *RedisScheduler) Enqueue(ctx context.Context, job *model.Job, delay time.Duration, lane string) (string, error) {
	if s.client == nil {
		return "", errNilClient
	}
	if job == nil {
		return "", errors.New("scheduler: job is nil")
	}
	if delay < 0 {
		delay = 0
	}

	now := s.now()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Lane = lane
	job.EnqueuedAt = now
	job.ReadyAt = now.Add(delay)

	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("scheduler: failed to marshal job %s: %w", job.ID, err)
	}

	err = s.client.ZAdd(ctx, LaneKey(lane), redis.Z{
		Score:  float64(job.ReadyAt.UnixMilli()),
		Member: payload,
	}).Err()
	if err != nil {
		return "", fmt.Errorf("scheduler: failed to enqueue job %s on %s: %w", job.ID, lane, err)
	}

	s.logger.Debugw("msg", "job enqueued", "job_id", job.ID, "job_type", job.Type, "lane", lane, "delay", delay)
	return job.ID, nil
}

// Due claims up to limit jobs whose ready time has passed. A job is claimed by whoever
// removes it from the lane, so concurrent workers never receive the same job.
func (s *RedisScheduler) Due(ctx context.Context, lane string, limit int) ([]*model.Job, error) {
	if s.client == nil {
		return nil, errNilClient
	}
	if limit <= 0 {
		limit = 1
	}

	key := LaneKey(lane)
	members, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(s.now().UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scheduler: failed to read lane %s: %w", lane, err)
	}

	jobs := make([]*model.Job, 0, len(members))
	for _, member := range members {
		removed, err := s.client.ZRem(ctx, key, member).Result()
		if err != nil {
			return jobs, fmt.Errorf("scheduler: failed to claim job on %s: %w", lane, err)
		}
		if removed == 0 {
			continue
		}

		var job model.Job
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			s.logger.Errorw("msg", "dropping malformed job", "lane", lane, "error", err)
			continue
		}
		jobs = append(jobs, &job)
	}

	return jobs, nil
}

// Pending returns the number of jobs waiting on lane, due or not.
func (s *RedisScheduler) Pending(ctx context.Context, lane string) (int64, error) {
	if s.client == nil {
		return 0, errNilClient
	}
	n, err := s.client.ZCard(ctx, LaneKey(lane)).Result()
	if err != nil {
		return 0, fmt.Errorf("scheduler: failed to count lane %s: %w", lane, err)
	}
	return n, nil
}
