// Package usage counts distinct active subjects per calendar day.
package usage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "usage:daily:"

type Counter struct {
	rdb       *redis.Client
	retention time.Duration
}

func NewCounter(rdb *redis.Client, retention time.Duration) *Counter {
	return &Counter{rdb: rdb, retention: retention}
}

// Key returns the set key for the UTC calendar day of at.
func Key(at time.Time) string {
	return keyPrefix + at.UTC().Format(time.DateOnly)
}

// Track adds subjectID to the day's set. A subject is counted once per day.
func (c *Counter) Track(ctx context.Context, subjectID int64, at time.Time) error {
	key := Key(at)
	pipe := c.rdb.TxPipeline()
	pipe.SAdd(ctx, key, strconv.FormatInt(subjectID, 10))
	if c.retention > 0 {
		pipe.Expire(ctx, key, c.retention)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to track usage: %w", err)
	}
	return nil
}

func (c *Counter) Count(ctx context.Context, day time.Time) (int64, error) {
	n, err := c.rdb.SCard(ctx, Key(day)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count usage: %w", err)
	}
	return n, nil
}
