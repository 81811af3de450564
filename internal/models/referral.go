package models

import (
	"time"
)

// ReferralEdge records who introduced whom. A subject is credited to at most
// one referrer; edges are never deleted.
type ReferralEdge struct {
	ID         uint  `gorm:"primaryKey"`
	ReferrerID int64 `gorm:"not null;index"`
	ReferredID int64 `gorm:"not null;uniqueIndex"`
	CreatedAt  time.Time
}

type ReferralStats struct {
	TotalReferrals int64
	Referrers      int64
}
