// Package referral records who introduced whom and credits referrers with
// bonus slots.
package referral

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"slotbox-bot/internal/models"
	"slotbox-bot/internal/quota"
	"slotbox-bot/internal/repository"

	"github.com/rs/zerolog"
)

const codePrefix = "ref_"

type Outcome int

const (
	Recorded Outcome = iota
	SelfReferral
	AlreadyClaimed
)

type Result struct {
	Outcome  Outcome
	Referrer quota.Summary
}

type Entry struct {
	SubjectID   int64
	DisplayName string
	Username    string
	Referrals   int
}

type Graph struct {
	subjects repository.SubjectRepository
	config   quota.Config
	log      zerolog.Logger
}

func NewGraph(subjects repository.SubjectRepository, config quota.Config, log zerolog.Logger) *Graph {
	return &Graph{
		subjects: subjects,
		config:   config,
		log:      log.With().Str("component", "referral").Logger(),
	}
}

// Record credits referrerID with referredID. It is a no-op for self-referrals
// and for subjects already credited to any referrer.
func (g *Graph) Record(ctx context.Context, referrerID, referredID int64) (Result, error) {
	if referrerID == referredID {
		return Result{Outcome: SelfReferral}, nil
	}

	limits, err := g.config.Limits(ctx)
	if err != nil {
		return Result{}, err
	}

	referrer, added, err := g.subjects.AddReferral(ctx, referrerID, referredID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to record referral %d->%d: %w", referrerID, referredID, err)
	}
	sum := quota.Summarize(referrer, limits.ReferralReward)
	if !added {
		return Result{Outcome: AlreadyClaimed, Referrer: sum}, nil
	}

	g.log.Info().Int64("referrer_id", referrerID).Int64("referred_id", referredID).Int("total", sum.Total).Msg("Referral recorded")
	return Result{Outcome: Recorded, Referrer: sum}, nil
}

// TopReferrers orders by referral count, ties by registry insertion order.
func (g *Graph) TopReferrers(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	subjects, err := g.subjects.TopReferrers(ctx, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(subjects))
	for _, s := range subjects {
		entries = append(entries, entryOf(s))
	}
	return entries, nil
}

func (g *Graph) Stats(ctx context.Context) (models.ReferralStats, error) {
	return g.subjects.ReferralStats(ctx)
}

func entryOf(s models.Subject) Entry {
	return Entry{
		SubjectID:   s.ID,
		DisplayName: s.DisplayName,
		Username:    s.Username,
		Referrals:   s.Quota.ReferralCount,
	}
}

// Code is the deep-link payload that identifies a referrer.
func Code(subjectID int64) string {
	return codePrefix + strconv.FormatInt(subjectID, 10)
}

// ParseCode extracts the referrer id from a /start payload.
func ParseCode(payload string) (int64, bool) {
	raw, ok := strings.CutPrefix(strings.TrimSpace(payload), codePrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
