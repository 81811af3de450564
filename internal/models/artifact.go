package models

import (
	"time"

	"github.com/google/uuid"
)

// Artifact is one live object in the artifact store owned by a subject.
type Artifact struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	SubjectID   int64     `gorm:"not null;index"`
	Path        string    `gorm:"size:1024;not null;uniqueIndex"`
	URL         string    `gorm:"size:2048"`
	FileName    string    `gorm:"size:255"`
	ContentType string    `gorm:"size:255"`
	Size        int64
	CreatedAt   time.Time
}
