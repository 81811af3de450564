package models

import (
	"time"
)

type Subject struct {
	ID              int64  `gorm:"primaryKey;autoIncrement:false"` // Telegram user id
	ChatID          int64  `gorm:"not null;default:0"`
	DisplayName     string `gorm:"size:255"`
	Username        string `gorm:"size:255"`
	JoinedAt        time.Time
	Premium         bool `gorm:"not null;default:false"`
	PremiumUntil    *time.Time
	PrePremiumLimit *int
	Notifications   bool   `gorm:"not null;default:true"`
	Banned          bool   `gorm:"not null;default:false;index"`
	Deleted         bool   `gorm:"not null;default:false"`
	ReferredBy      *int64 `gorm:"index"`
	Quota           Quota  `gorm:"embedded"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Quota is the upload accounting embedded in every Subject.
type Quota struct {
	BaseLimit      int `gorm:"not null;default:0"`
	ConsumedCount  int `gorm:"not null;default:0"`
	ReferralReward int `gorm:"not null;default:0"` // 0 means the global reward applies
	ReferralCount  int `gorm:"not null;default:0;index"`
}

// Reward returns the slots granted per referral for this subject.
func (q Quota) Reward(globalReward int) int {
	if q.ReferralReward > 0 {
		return q.ReferralReward
	}
	if globalReward < 1 {
		return 1
	}
	return globalReward
}

func (q Quota) Bonus(globalReward int) int {
	return q.ReferralCount * q.Reward(globalReward)
}

func (q Quota) Total(globalReward int) int {
	return q.BaseLimit + q.Bonus(globalReward)
}

// CanAdmit reports whether one more artifact fits. ConsumedCount may sit above
// Total after a limit was lowered; that only blocks admission.
func (q Quota) CanAdmit(globalReward int) bool {
	return q.ConsumedCount < q.Total(globalReward)
}

func (q Quota) Remaining(globalReward int) int {
	r := q.Total(globalReward) - q.ConsumedCount
	if r < 0 {
		return 0
	}
	return r
}

// Reachable reports whether broadcasts may be delivered to the subject.
func (s *Subject) Reachable() bool {
	return s.Notifications && s.ChatID != 0 && !s.Banned && !s.Deleted
}
