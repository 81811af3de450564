package models

import (
	"time"
)

// ConfigDocument stores one named settings document as JSON.
type ConfigDocument struct {
	Name      string `gorm:"primaryKey;size:64"`
	Body      string `gorm:"type:jsonb;not null"`
	UpdatedAt time.Time
}
