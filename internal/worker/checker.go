// Package worker runs the background premium expiry check.
package worker

import (
	"context"
	"fmt"
	"time"

	"slotbox-bot/internal/messenger"
	"slotbox-bot/internal/models"
	"slotbox-bot/internal/quota"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const warnTTL = 48 * time.Hour

type Subjects interface {
	PremiumUntilBetween(ctx context.Context, from, to time.Time) ([]models.Subject, error)
}

type Expirer interface {
	ExpirePremium(ctx context.Context, subjectID int64) (quota.Summary, bool, error)
}

// Marks remembers which warnings were already sent.
type Marks interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string, ttl time.Duration) error
}

type RedisMarks struct {
	rdb *redis.Client
}

func NewRedisMarks(rdb *redis.Client) *RedisMarks {
	return &RedisMarks{rdb: rdb}
}

func (m *RedisMarks) Seen(ctx context.Context, key string) (bool, error) {
	n, err := m.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (m *RedisMarks) Mark(ctx context.Context, key string, ttl time.Duration) error {
	return m.rdb.Set(ctx, key, "1", ttl).Err()
}

type Checker struct {
	subjects    Subjects
	ledger      Expirer
	sink        messenger.Sink
	marks       Marks
	interval    time.Duration
	sendTimeout time.Duration
	log         zerolog.Logger
	now         func() time.Time
}

func NewChecker(subjects Subjects, ledger Expirer, sink messenger.Sink, marks Marks, interval, sendTimeout time.Duration, log zerolog.Logger) *Checker {
	return &Checker{
		subjects:    subjects,
		ledger:      ledger,
		sink:        sink,
		marks:       marks,
		interval:    interval,
		sendTimeout: sendTimeout,
		log:         log.With().Str("component", "premium_worker").Logger(),
		now:         time.Now,
	}
}

// Start runs a check immediately and then every interval until ctx ends.
func (c *Checker) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	c.log.Info().Dur("interval", c.interval).Msg("Premium expiry worker started")

	c.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("Premium expiry worker stopped")
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check warns subjects whose premium ends in about a day and revokes premium
// that has already ended.
func (c *Checker) Check(ctx context.Context) {
	now := c.now()
	c.warnExpiring(ctx, now)
	c.expire(ctx, now)
}

func warnKey(subjectID int64) string {
	return fmt.Sprintf("premium:notified:%d", subjectID)
}

func (c *Checker) warnExpiring(ctx context.Context, now time.Time) {
	soon, err := c.subjects.PremiumUntilBetween(ctx, now.Add(23*time.Hour), now.Add(25*time.Hour))
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to query expiring premium")
		return
	}
	for _, s := range soon {
		key := warnKey(s.ID)
		seen, err := c.marks.Seen(ctx, key)
		if err != nil {
			c.log.Warn().Err(err).Int64("subject_id", s.ID).Msg("Failed to read warning mark")
			continue
		}
		if seen {
			continue
		}
		if err := c.send(ctx, &s, "Your premium ends in about 24 hours. Files above the standard limit stay, but new uploads will be blocked."); err != nil {
			c.log.Error().Err(err).Int64("subject_id", s.ID).Msg("Failed to send premium warning")
			continue
		}
		if err := c.marks.Mark(ctx, key, warnTTL); err != nil {
			c.log.Warn().Err(err).Int64("subject_id", s.ID).Msg("Failed to store warning mark")
		}
	}
}

func (c *Checker) expire(ctx context.Context, now time.Time) {
	ended, err := c.subjects.PremiumUntilBetween(ctx, time.Time{}, now.Add(time.Nanosecond))
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to query expired premium")
		return
	}
	for _, s := range ended {
		sum, changed, err := c.ledger.ExpirePremium(ctx, s.ID)
		if err != nil {
			c.log.Error().Err(err).Int64("subject_id", s.ID).Msg("Failed to expire premium")
			continue
		}
		if !changed {
			continue
		}
		c.log.Info().Int64("subject_id", s.ID).Int("base_limit", sum.BaseLimit).Msg("Premium expired")
		text := fmt.Sprintf("Your premium has ended. You now have %d slots, %d used.", sum.Total, sum.Used)
		if err := c.send(ctx, &s, text); err != nil {
			c.log.Error().Err(err).Int64("subject_id", s.ID).Msg("Failed to send expiry notice")
		}
	}
}

func (c *Checker) send(ctx context.Context, s *models.Subject, text string) error {
	if s.ChatID == 0 || s.Deleted {
		return nil
	}
	sendCtx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	defer cancel()
	err := c.sink.Send(sendCtx, s.ChatID, text)
	if messenger.Classify(err) == messenger.Unreachable {
		c.log.Debug().Int64("subject_id", s.ID).Msg("Recipient unreachable")
		return nil
	}
	return err
}
