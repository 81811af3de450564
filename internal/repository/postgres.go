package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"slotbox-bot/internal/apperr"
	"slotbox-bot/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(format, args...)
	}
	return err
}

type subjectRepo struct {
	db *gorm.DB
}

func NewSubjectRepository(db *gorm.DB) SubjectRepository {
	return &subjectRepo{db: db}
}

func (r *subjectRepo) Ensure(ctx context.Context, s *models.Subject) (*models.Subject, bool, error) {
	var existing models.Subject
	err := r.db.WithContext(ctx).First(&existing, "id = ?", s.ID).Error
	if err == nil {
		return &existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("failed to load subject %d: %w", s.ID, err)
	}

	created := *s
	if err := r.db.WithContext(ctx).Create(&created).Error; err != nil {
		// Lost a race with a concurrent first event from the same actor.
		if isUniqueViolation(err) {
			if err := r.db.WithContext(ctx).First(&existing, "id = ?", s.ID).Error; err != nil {
				return nil, false, fmt.Errorf("failed to reload subject %d: %w", s.ID, err)
			}
			return &existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to create subject %d: %w", s.ID, err)
	}
	return &created, true, nil
}

func (r *subjectRepo) Get(ctx context.Context, id int64) (*models.Subject, error) {
	var s models.Subject
	if err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "subject %d", id)
	}
	return &s, nil
}

func (r *subjectRepo) Update(ctx context.Context, id int64, fn func(*models.Subject) error) (*models.Subject, error) {
	var s models.Subject
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&s, "id = ?", id).Error; err != nil {
			return notFound(err, "subject %d", id)
		}
		if err := fn(&s); err != nil {
			return err
		}
		return tx.Save(&s).Error
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *subjectRepo) List(ctx context.Context) ([]models.Subject, error) {
	var subjects []models.Subject
	if err := r.db.WithContext(ctx).Order("joined_at asc, id asc").Find(&subjects).Error; err != nil {
		return nil, fmt.Errorf("failed to list subjects: %w", err)
	}
	return subjects, nil
}

func (r *subjectRepo) ListBanned(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := r.db.WithContext(ctx).Model(&models.Subject{}).Where("banned = ?", true).Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list banned subjects: %w", err)
	}
	return ids, nil
}

func (r *subjectRepo) PremiumUntilBetween(ctx context.Context, from, to time.Time) ([]models.Subject, error) {
	var subjects []models.Subject
	err := r.db.WithContext(ctx).
		Where("premium = ? AND premium_until IS NOT NULL AND premium_until >= ? AND premium_until < ?", true, from, to).
		Order("premium_until asc").
		Find(&subjects).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query premium expiry: %w", err)
	}
	return subjects, nil
}

func (r *subjectRepo) Counts(ctx context.Context) (SubjectCounts, error) {
	var c SubjectCounts
	if err := r.db.WithContext(ctx).Model(&models.Subject{}).Where("deleted = ?", false).Count(&c.Total).Error; err != nil {
		return c, fmt.Errorf("failed to count subjects: %w", err)
	}
	if err := r.db.WithContext(ctx).Model(&models.Subject{}).Where("premium = ?", true).Count(&c.Premium).Error; err != nil {
		return c, fmt.Errorf("failed to count premium subjects: %w", err)
	}
	if err := r.db.WithContext(ctx).Model(&models.Subject{}).Where("banned = ?", true).Count(&c.Banned).Error; err != nil {
		return c, fmt.Errorf("failed to count banned subjects: %w", err)
	}
	return c, nil
}

func (r *subjectRepo) AddReferral(ctx context.Context, referrerID, referredID int64) (*models.Subject, bool, error) {
	var referrer models.Subject
	added := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&referrer, "id = ?", referrerID).Error; err != nil {
			return notFound(err, "subject %d", referrerID)
		}

		edge := models.ReferralEdge{ReferrerID: referrerID, ReferredID: referredID}
		res := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "referred_id"}}, DoNothing: true}).Create(&edge)
		if res.Error != nil {
			return fmt.Errorf("failed to insert referral edge: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}

		referrer.Quota.ReferralCount++
		if err := tx.Model(&referrer).Update("referral_count", referrer.Quota.ReferralCount).Error; err != nil {
			return fmt.Errorf("failed to credit referrer %d: %w", referrerID, err)
		}
		if err := tx.Model(&models.Subject{}).Where("id = ?", referredID).Update("referred_by", referrerID).Error; err != nil {
			return fmt.Errorf("failed to mark referred subject %d: %w", referredID, err)
		}
		added = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &referrer, added, nil
}

func (r *subjectRepo) TopReferrers(ctx context.Context, limit int) ([]models.Subject, error) {
	var subjects []models.Subject
	err := r.db.WithContext(ctx).
		Where("referral_count > 0").
		Order("referral_count desc, joined_at asc, id asc").
		Limit(limit).
		Find(&subjects).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query top referrers: %w", err)
	}
	return subjects, nil
}

func (r *subjectRepo) ReferralStats(ctx context.Context) (models.ReferralStats, error) {
	var stats models.ReferralStats
	if err := r.db.WithContext(ctx).Model(&models.ReferralEdge{}).Count(&stats.TotalReferrals).Error; err != nil {
		return stats, fmt.Errorf("failed to count referrals: %w", err)
	}
	if err := r.db.WithContext(ctx).Model(&models.ReferralEdge{}).Distinct("referrer_id").Count(&stats.Referrers).Error; err != nil {
		return stats, fmt.Errorf("failed to count referrers: %w", err)
	}
	return stats, nil
}

type artifactRepo struct {
	db *gorm.DB
}

func NewArtifactRepository(db *gorm.DB) ArtifactRepository {
	return &artifactRepo{db: db}
}

func (r *artifactRepo) Create(ctx context.Context, a *models.Artifact) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("failed to save artifact: %w", err)
	}
	return nil
}

func (r *artifactRepo) Get(ctx context.Context, id uuid.UUID) (*models.Artifact, error) {
	var a models.Artifact
	if err := r.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "file %s", id)
	}
	return &a, nil
}

func (r *artifactRepo) ListBySubject(ctx context.Context, subjectID int64) ([]models.Artifact, error) {
	var artifacts []models.Artifact
	if err := r.db.WithContext(ctx).Where("subject_id = ?", subjectID).Order("created_at asc").Find(&artifacts).Error; err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	return artifacts, nil
}

func (r *artifactRepo) Delete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Delete(&models.Artifact{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete artifact: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("file %s", id)
	}
	return nil
}

type configRepo struct {
	db *gorm.DB
}

func NewConfigRepository(db *gorm.DB) ConfigRepository {
	return &configRepo{db: db}
}

func (r *configRepo) GetDocument(ctx context.Context, name string) (string, error) {
	var doc models.ConfigDocument
	if err := r.db.WithContext(ctx).First(&doc, "name = ?", name).Error; err != nil {
		return "", notFound(err, "config %s", name)
	}
	return doc.Body, nil
}

func (r *configRepo) PutDocument(ctx context.Context, name, body string) error {
	doc := models.ConfigDocument{Name: name, Body: body, UpdatedAt: time.Now()}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"body", "updated_at"}),
	}).Create(&doc).Error
	if err != nil {
		return fmt.Errorf("failed to save config %s: %w", name, err)
	}
	return nil
}
