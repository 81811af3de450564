// Package quota implements the per-subject slot ledger: admission of new
// uploads, release on deletion, admin limit changes and premium tiers.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"slotbox-bot/internal/apperr"
	"slotbox-bot/internal/auth"
	"slotbox-bot/internal/models"
	"slotbox-bot/internal/repository"
	"slotbox-bot/internal/settings"

	"github.com/rs/zerolog"
)

// Summary is a subject's quota as shown to the subject and to admins.
type Summary struct {
	SubjectID int64
	BaseLimit int
	Reward    int
	Referrals int
	Bonus     int
	Total     int
	Used      int
	Remaining int
	Premium   bool
}

func Summarize(s *models.Subject, globalReward int) Summary {
	q := s.Quota
	return Summary{
		SubjectID: s.ID,
		BaseLimit: q.BaseLimit,
		Reward:    q.Reward(globalReward),
		Referrals: q.ReferralCount,
		Bonus:     q.Bonus(globalReward),
		Total:     q.Total(globalReward),
		Used:      q.ConsumedCount,
		Remaining: q.Remaining(globalReward),
		Premium:   s.Premium,
	}
}

// BulkResult reports a registry-wide update. Failures are counted, never
// returned.
type BulkResult struct {
	Affected int
	Failed   int
}

// Config is the subset of settings the ledger reads on every call.
type Config interface {
	Limits(ctx context.Context) (settings.Limits, error)
	Premium(ctx context.Context) (settings.Premium, error)
	UpdateLimits(ctx context.Context, fn func(*settings.Limits)) (settings.Limits, error)
}

type Ledger struct {
	subjects repository.SubjectRepository
	config   Config
	gate     *auth.Gate
	log      zerolog.Logger
	now      func() time.Time
}

func NewLedger(subjects repository.SubjectRepository, config Config, gate *auth.Gate, log zerolog.Logger) *Ledger {
	return &Ledger{
		subjects: subjects,
		config:   config,
		gate:     gate,
		log:      log.With().Str("component", "quota").Logger(),
		now:      time.Now,
	}
}

func (l *Ledger) globalReward(ctx context.Context) (int, error) {
	limits, err := l.config.Limits(ctx)
	if err != nil {
		return 0, err
	}
	return limits.ReferralReward, nil
}

// NewQuota returns the quota a newly registered subject starts with.
func (l *Ledger) NewQuota(ctx context.Context) (models.Quota, error) {
	limits, err := l.config.Limits(ctx)
	if err != nil {
		return models.Quota{}, err
	}
	return models.Quota{BaseLimit: limits.DefaultBaseLimit}, nil
}

func (l *Ledger) Summary(ctx context.Context, subjectID int64) (Summary, error) {
	reward, err := l.globalReward(ctx)
	if err != nil {
		return Summary{}, err
	}
	s, err := l.subjects.Get(ctx, subjectID)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(s, reward), nil
}

// CanAdmit reads the current quota. Admit re-checks under the subject lock.
func (l *Ledger) CanAdmit(ctx context.Context, subjectID int64) (bool, error) {
	reward, err := l.globalReward(ctx)
	if err != nil {
		return false, err
	}
	s, err := l.subjects.Get(ctx, subjectID)
	if err != nil {
		return false, err
	}
	return !s.Banned && s.Quota.CanAdmit(reward), nil
}

// Admit checks and consumes one slot in a single critical section. A lost
// race for the last slot yields apperr.ErrQuotaExceeded.
func (l *Ledger) Admit(ctx context.Context, subjectID int64) (Summary, error) {
	reward, err := l.globalReward(ctx)
	if err != nil {
		return Summary{}, err
	}

	var rejected *models.Subject
	s, err := l.subjects.Update(ctx, subjectID, func(s *models.Subject) error {
		if s.Banned {
			return apperr.ErrBanned
		}
		if !s.Quota.CanAdmit(reward) {
			cp := *s
			rejected = &cp
			return apperr.ErrQuotaExceeded
		}
		s.Quota.ConsumedCount++
		return nil
	})
	if err != nil {
		if rejected != nil && errors.Is(err, apperr.ErrQuotaExceeded) {
			sum := Summarize(rejected, reward)
			return sum, fmt.Errorf("%d/%d slots used: %w", sum.Used, sum.Total, apperr.ErrQuotaExceeded)
		}
		return Summary{}, err
	}
	return Summarize(s, reward), nil
}

// AdjustConsumed applies delta to the consumed count, never going below zero.
func (l *Ledger) AdjustConsumed(ctx context.Context, subjectID int64, delta int) (Summary, error) {
	reward, err := l.globalReward(ctx)
	if err != nil {
		return Summary{}, err
	}
	s, err := l.subjects.Update(ctx, subjectID, func(s *models.Subject) error {
		s.Quota.ConsumedCount += delta
		if s.Quota.ConsumedCount < 0 {
			s.Quota.ConsumedCount = 0
		}
		return nil
	})
	if err != nil {
		return Summary{}, err
	}
	return Summarize(s, reward), nil
}

func (l *Ledger) Release(ctx context.Context, subjectID int64) (Summary, error) {
	return l.AdjustConsumed(ctx, subjectID, -1)
}

// SetBaseLimit never deletes artifacts: lowering the limit below the consumed
// count only blocks further admissions. A premium subject keeps its tier and
// value becomes the limit restored when premium ends.
func (l *Ledger) SetBaseLimit(ctx context.Context, actorID, subjectID int64, value int) (Summary, error) {
	if err := l.gate.Require(actorID); err != nil {
		return Summary{}, err
	}
	if value < 0 {
		return Summary{}, apperr.Validation("slot count must be 0 or more, got %d", value)
	}
	reward, err := l.globalReward(ctx)
	if err != nil {
		return Summary{}, err
	}
	s, err := l.subjects.Update(ctx, subjectID, func(s *models.Subject) error {
		if s.Premium {
			v := value
			s.PrePremiumLimit = &v
			return nil
		}
		s.Quota.BaseLimit = value
		return nil
	})
	if err != nil {
		return Summary{}, err
	}
	l.log.Info().Int64("actor_id", actorID).Int64("subject_id", subjectID).Int("base_limit", value).Msg("Base limit changed")
	return Summarize(s, reward), nil
}

func (l *Ledger) GrantReferralReward(ctx context.Context, actorID, subjectID int64, reward int) (Summary, error) {
	if err := l.gate.Require(actorID); err != nil {
		return Summary{}, err
	}
	if reward < 1 {
		return Summary{}, apperr.Validation("slots per referral must be at least 1, got %d", reward)
	}
	global, err := l.globalReward(ctx)
	if err != nil {
		return Summary{}, err
	}
	s, err := l.subjects.Update(ctx, subjectID, func(s *models.Subject) error {
		s.Quota.ReferralReward = reward
		return nil
	})
	if err != nil {
		return Summary{}, err
	}
	l.log.Info().Int64("actor_id", actorID).Int64("subject_id", subjectID).Int("referral_reward", reward).Msg("Referral reward changed")
	return Summarize(s, global), nil
}

// SetBaseLimitAll applies value to every subject and makes it the default for
// new ones. Premium subjects keep their tier; their saved pre-premium limit
// is updated instead.
func (l *Ledger) SetBaseLimitAll(ctx context.Context, actorID int64, value int) (BulkResult, error) {
	if err := l.gate.Require(actorID); err != nil {
		return BulkResult{}, err
	}
	if value < 0 {
		return BulkResult{}, apperr.Validation("slot count must be 0 or more, got %d", value)
	}
	if _, err := l.config.UpdateLimits(ctx, func(lim *settings.Limits) { lim.DefaultBaseLimit = value }); err != nil {
		return BulkResult{}, err
	}

	res, err := l.forEach(ctx, func(s *models.Subject) error {
		if s.Premium {
			v := value
			s.PrePremiumLimit = &v
			return nil
		}
		s.Quota.BaseLimit = value
		return nil
	})
	l.log.Info().Int64("actor_id", actorID).Int("base_limit", value).Int("affected", res.Affected).Int("failed", res.Failed).Msg("Base limit applied to all subjects")
	return res, err
}

// GrantReferralRewardAll sets the per-referral reward globally and on every
// subject.
func (l *Ledger) GrantReferralRewardAll(ctx context.Context, actorID int64, reward int) (BulkResult, error) {
	if err := l.gate.Require(actorID); err != nil {
		return BulkResult{}, err
	}
	if reward < 1 {
		return BulkResult{}, apperr.Validation("slots per referral must be at least 1, got %d", reward)
	}
	if _, err := l.config.UpdateLimits(ctx, func(lim *settings.Limits) { lim.ReferralReward = reward }); err != nil {
		return BulkResult{}, err
	}

	res, err := l.forEach(ctx, func(s *models.Subject) error {
		s.Quota.ReferralReward = reward
		return nil
	})
	l.log.Info().Int64("actor_id", actorID).Int("referral_reward", reward).Int("affected", res.Affected).Int("failed", res.Failed).Msg("Referral reward applied to all subjects")
	return res, err
}

// forEach walks a registry snapshot; a failing subject is logged and counted.
func (l *Ledger) forEach(ctx context.Context, fn func(*models.Subject) error) (BulkResult, error) {
	var res BulkResult
	subjects, err := l.subjects.List(ctx)
	if err != nil {
		return res, apperr.Collaborator("list subjects", err)
	}
	for _, s := range subjects {
		if _, err := l.subjects.Update(ctx, s.ID, fn); err != nil {
			res.Failed++
			l.log.Error().Err(err).Int64("subject_id", s.ID).Msg("Bulk quota update failed")
			continue
		}
		res.Affected++
	}
	return res, nil
}

// MaxPremiumDays bounds a single grant.
const MaxPremiumDays = 3650

// GrantPremium applies the premium tier for days (the configured term when
// days <= 0). The pre-premium base limit is saved once so that revoking
// restores it exactly.
func (l *Ledger) GrantPremium(ctx context.Context, actorID, subjectID int64, days int) (Summary, time.Time, error) {
	if err := l.gate.Require(actorID); err != nil {
		return Summary{}, time.Time{}, err
	}
	terms, err := l.config.Premium(ctx)
	if err != nil {
		return Summary{}, time.Time{}, err
	}
	if days <= 0 {
		days = terms.Days
	}
	if days > MaxPremiumDays {
		return Summary{}, time.Time{}, apperr.Validation("premium lasts at most %d days, got %d", MaxPremiumDays, days)
	}
	reward, err := l.globalReward(ctx)
	if err != nil {
		return Summary{}, time.Time{}, err
	}

	now := l.now()
	s, err := l.subjects.Update(ctx, subjectID, func(s *models.Subject) error {
		from := now
		if s.Premium && s.PremiumUntil != nil && s.PremiumUntil.After(now) {
			from = *s.PremiumUntil
		}
		if !s.Premium {
			prev := s.Quota.BaseLimit
			s.PrePremiumLimit = &prev
		}
		until := from.Add(time.Duration(days) * 24 * time.Hour)
		s.Premium = true
		s.PremiumUntil = &until
		s.Quota.BaseLimit = terms.Slots
		return nil
	})
	if err != nil {
		return Summary{}, time.Time{}, err
	}
	l.log.Info().Int64("actor_id", actorID).Int64("subject_id", subjectID).Time("until", *s.PremiumUntil).Msg("Premium granted")
	return Summarize(s, reward), *s.PremiumUntil, nil
}

func (l *Ledger) RevokePremium(ctx context.Context, actorID, subjectID int64) (Summary, error) {
	if err := l.gate.Require(actorID); err != nil {
		return Summary{}, err
	}
	sum, _, err := l.revokePremium(ctx, subjectID, func(*models.Subject) bool { return true })
	if err == nil {
		l.log.Info().Int64("actor_id", actorID).Int64("subject_id", subjectID).Msg("Premium revoked")
	}
	return sum, err
}

// ExpirePremium revokes premium only if its term has passed. It reports
// whether anything changed.
func (l *Ledger) ExpirePremium(ctx context.Context, subjectID int64) (Summary, bool, error) {
	now := l.now()
	return l.revokePremium(ctx, subjectID, func(s *models.Subject) bool {
		return s.PremiumUntil != nil && !s.PremiumUntil.After(now)
	})
}

var errUnchanged = errors.New("unchanged")

func (l *Ledger) revokePremium(ctx context.Context, subjectID int64, due func(*models.Subject) bool) (Summary, bool, error) {
	limits, err := l.config.Limits(ctx)
	if err != nil {
		return Summary{}, false, err
	}
	s, err := l.subjects.Update(ctx, subjectID, func(s *models.Subject) error {
		if !s.Premium || !due(s) {
			return errUnchanged
		}
		if s.PrePremiumLimit != nil {
			s.Quota.BaseLimit = *s.PrePremiumLimit
		} else {
			s.Quota.BaseLimit = limits.DefaultBaseLimit
		}
		s.Premium = false
		s.PremiumUntil = nil
		s.PrePremiumLimit = nil
		return nil
	})
	if errors.Is(err, errUnchanged) {
		cur, err := l.subjects.Get(ctx, subjectID)
		if err != nil {
			return Summary{}, false, err
		}
		return Summarize(cur, limits.ReferralReward), false, nil
	}
	if err != nil {
		return Summary{}, false, err
	}
	return Summarize(s, limits.ReferralReward), true, nil
}
