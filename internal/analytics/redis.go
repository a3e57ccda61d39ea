// Package analytics keeps hourly Redis counters of the jobs and expected
// objects produced for each harvest definition.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRetention is how long an hourly bucket lives.
const DefaultRetention = 7 * 24 * time.Hour

const (
	counterJobs    = "jobs"
	counterObjects = "objects"
)

type RedisSink struct {
	client    redis.Cmdable
	retention time.Duration
}

func NewRedisSink(client redis.Cmdable) *RedisSink {
	return &RedisSink{client: client, retention: DefaultRetention}
}

// WithRetention overrides the bucket TTL. Non-positive values are ignored.
func (s *RedisSink) WithRetention(d time.Duration) *RedisSink {
	if d > 0 {
		s.retention = d
	}
	return s
}

// RecordTrigger adds one committed trigger to the bucket holding at.
func (s *RedisSink) RecordTrigger(ctx context.Context, harvestID int64, jobs int, expectedObjects int64, at time.Time) error {
	jobsKey := buildKey(harvestID, counterJobs, at)
	objectsKey := buildKey(harvestID, counterObjects, at)

	pipe := s.client.Pipeline()
	pipe.IncrBy(ctx, jobsKey, int64(jobs))
	pipe.Expire(ctx, jobsKey, s.retention)
	pipe.IncrBy(ctx, objectsKey, expectedObjects)
	pipe.Expire(ctx, objectsKey, s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

func buildKey(harvestID int64, counter string, t time.Time) string {
	return fmt.Sprintf("hd:%d:%s:%s", harvestID, counter, truncateToBucket(t))
}

func truncateToBucket(t time.Time) string {
	return t.UTC().Format("2006010215")
}
