// Package uploads moves files from subjects into the artifact store while
// keeping the quota ledger consistent with the store's contents.
package uploads

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"slotbox-bot/internal/apperr"
	"slotbox-bot/internal/models"
	"slotbox-bot/internal/quota"
	"slotbox-bot/internal/repository"
	"slotbox-bot/internal/settings"
	"slotbox-bot/internal/storage"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Ledger is the part of quota.Ledger the pipeline needs.
type Ledger interface {
	CanAdmit(ctx context.Context, subjectID int64) (bool, error)
	Admit(ctx context.Context, subjectID int64) (quota.Summary, error)
	Release(ctx context.Context, subjectID int64) (quota.Summary, error)
}

type Rules interface {
	Uploads(ctx context.Context) (settings.Uploads, error)
}

type Options struct {
	Timeout  time.Duration
	MaxBytes int64
}

type Service struct {
	ledger    Ledger
	artifacts repository.ArtifactRepository
	store     storage.ArtifactStore
	rules     Rules
	opts      Options
	log       zerolog.Logger
}

type Result struct {
	Artifact models.Artifact
	Quota    quota.Summary
}

// Usage is what the store actually holds for a subject.
type Usage struct {
	Objects int
	Bytes   int64
}

func NewService(ledger Ledger, artifacts repository.ArtifactRepository, store storage.ArtifactStore, rules Rules, opts Options, log zerolog.Logger) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Service{
		ledger:    ledger,
		artifacts: artifacts,
		store:     store,
		rules:     rules,
		opts:      opts,
		log:       log.With().Str("component", "uploads").Logger(),
	}
}

// Prefix is the object key prefix holding every file of a subject.
func Prefix(subjectID int64) string {
	return fmt.Sprintf("uploads/%d/", subjectID)
}

func objectKey(subjectID int64, id uuid.UUID, fileName string) string {
	return Prefix(subjectID) + id.String() + "-" + fileName
}

func cleanName(fileName string) string {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(fileName), "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// Precheck validates a file before it is downloaded. It does not reserve a
// slot; Upload re-checks atomically.
func (s *Service) Precheck(ctx context.Context, subjectID int64, fileName string, size int64) error {
	name := cleanName(fileName)
	if name == "" {
		return apperr.Validation("the file has no name")
	}
	if s.opts.MaxBytes > 0 && size > s.opts.MaxBytes {
		return apperr.Validation("file is too large (%d MB max)", s.opts.MaxBytes>>20)
	}
	rules, err := s.rules.Uploads(ctx)
	if err != nil {
		return err
	}
	if !rules.Allows(name) {
		return apperr.Validation("files of this type are not accepted. Allowed: %s", strings.Join(rules.Extensions, " "))
	}
	ok, err := s.ledger.CanAdmit(ctx, subjectID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ErrQuotaExceeded
	}
	return nil
}

// Upload admits one slot, stores the file and records it. A failed store
// write gives the slot back.
func (s *Service) Upload(ctx context.Context, subjectID int64, fileName, contentType string, data []byte) (Result, error) {
	name := cleanName(fileName)
	if name == "" {
		return Result{}, apperr.Validation("the file has no name")
	}
	if s.opts.MaxBytes > 0 && int64(len(data)) > s.opts.MaxBytes {
		return Result{}, apperr.Validation("file is too large (%d MB max)", s.opts.MaxBytes>>20)
	}
	rules, err := s.rules.Uploads(ctx)
	if err != nil {
		return Result{}, err
	}
	if !rules.Allows(name) {
		return Result{}, apperr.Validation("files of this type are not accepted. Allowed: %s", strings.Join(rules.Extensions, " "))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	sum, err := s.ledger.Admit(ctx, subjectID)
	if err != nil {
		return Result{}, err
	}

	a := models.Artifact{
		ID:          uuid.New(),
		SubjectID:   subjectID,
		FileName:    name,
		ContentType: contentType,
		Size:        int64(len(data)),
	}
	a.Path = objectKey(subjectID, a.ID, name)

	putCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	url, err := s.store.Put(putCtx, a.Path, data, contentType)
	cancel()
	if err != nil {
		s.release(ctx, subjectID)
		s.log.Error().Err(err).Int64("subject_id", subjectID).Str("key", a.Path).Msg("Failed to store upload")
		return Result{}, apperr.Collaborator("store file", err)
	}
	a.URL = url

	if err := s.artifacts.Create(ctx, &a); err != nil {
		s.removeObject(ctx, a.Path)
		s.release(ctx, subjectID)
		return Result{}, fmt.Errorf("failed to record upload: %w", err)
	}

	s.log.Info().Int64("subject_id", subjectID).Str("key", a.Path).Int64("size", a.Size).Msg("File uploaded")
	return Result{Artifact: a, Quota: sum}, nil
}

func (s *Service) List(ctx context.Context, subjectID int64) ([]models.Artifact, error) {
	return s.artifacts.ListBySubject(ctx, subjectID)
}

// Delete removes an artifact owned by subjectID and frees its slot. Files of
// other subjects are reported as not found.
func (s *Service) Delete(ctx context.Context, subjectID int64, artifactID uuid.UUID) (quota.Summary, error) {
	a, err := s.artifacts.Get(ctx, artifactID)
	if err != nil {
		return quota.Summary{}, err
	}
	if a.SubjectID != subjectID {
		return quota.Summary{}, apperr.NotFound("file %s", artifactID)
	}

	delCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	err = s.store.Delete(delCtx, a.Path)
	cancel()
	if err != nil {
		s.log.Error().Err(err).Int64("subject_id", subjectID).Str("key", a.Path).Msg("Failed to delete stored file")
		return quota.Summary{}, apperr.Collaborator("delete file", err)
	}

	// The object is gone, so the slot is freed even if the record cannot be
	// removed.
	sum, relErr := s.ledger.Release(context.WithoutCancel(ctx), subjectID)
	if relErr != nil {
		s.log.Error().Err(relErr).Int64("subject_id", subjectID).Msg("Failed to release slot")
	}
	if err := s.artifacts.Delete(context.WithoutCancel(ctx), a.ID); err != nil {
		s.log.Error().Err(err).Int64("subject_id", subjectID).Str("artifact_id", a.ID.String()).Msg("Stale file record left after delete")
		return sum, fmt.Errorf("failed to delete file record: %w", err)
	}
	if relErr != nil {
		return quota.Summary{}, relErr
	}
	s.log.Info().Int64("subject_id", subjectID).Str("key", a.Path).Msg("File deleted")
	return sum, nil
}

// Usage lists the subject's prefix in the store.
func (s *Service) Usage(ctx context.Context, subjectID int64) (Usage, error) {
	listCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	objs, err := s.store.List(listCtx, Prefix(subjectID))
	if err != nil {
		return Usage{}, apperr.Collaborator("list files", err)
	}
	u := Usage{Objects: len(objs)}
	for _, o := range objs {
		u.Bytes += o.Size
	}
	return u, nil
}

func (s *Service) release(ctx context.Context, subjectID int64) {
	if _, err := s.ledger.Release(context.WithoutCancel(ctx), subjectID); err != nil {
		s.log.Error().Err(err).Int64("subject_id", subjectID).Msg("Failed to release slot")
	}
}

func (s *Service) removeObject(ctx context.Context, key string) {
	delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.Timeout)
	defer cancel()
	if err := s.store.Delete(delCtx, key); err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Failed to remove orphaned file")
	}
}
