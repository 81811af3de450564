// Package repository persists subjects, referral edges, artifacts and config
// documents.
package repository

import (
	"context"
	"time"

	"slotbox-bot/internal/models"

	"github.com/google/uuid"
)

// SubjectRepository is the Subject Registry.
type SubjectRepository interface {
	// Ensure returns the subject with s.ID, creating it from s when absent.
	Ensure(ctx context.Context, s *models.Subject) (*models.Subject, bool, error)
	Get(ctx context.Context, id int64) (*models.Subject, error)
	// Update runs fn on the current row inside a single critical section for
	// that subject and persists the result. Returning an error from fn
	// discards the changes.
	Update(ctx context.Context, id int64, fn func(*models.Subject) error) (*models.Subject, error)
	// List returns a snapshot of every subject in registry insertion order.
	List(ctx context.Context) ([]models.Subject, error)
	ListBanned(ctx context.Context) ([]int64, error)
	PremiumUntilBetween(ctx context.Context, from, to time.Time) ([]models.Subject, error)
	Counts(ctx context.Context) (SubjectCounts, error)

	// AddReferral inserts the edge referrer→referred and credits the referrer
	// in one transaction. added is false when referred was already claimed.
	AddReferral(ctx context.Context, referrerID, referredID int64) (referrer *models.Subject, added bool, err error)
	TopReferrers(ctx context.Context, limit int) ([]models.Subject, error)
	ReferralStats(ctx context.Context) (models.ReferralStats, error)
}

type SubjectCounts struct {
	Total   int64
	Premium int64
	Banned  int64
}

type ArtifactRepository interface {
	Create(ctx context.Context, a *models.Artifact) error
	Get(ctx context.Context, id uuid.UUID) (*models.Artifact, error)
	ListBySubject(ctx context.Context, subjectID int64) ([]models.Artifact, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// ConfigRepository is the named-document store behind BotConfig.
type ConfigRepository interface {
	// GetDocument returns apperr.ErrNotFound when the document was never written.
	GetDocument(ctx context.Context, name string) (string, error)
	PutDocument(ctx context.Context, name, body string) error
}
