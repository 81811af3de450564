package uploads

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"slotbox-bot/internal/apperr"
	"slotbox-bot/internal/auth"
	"slotbox-bot/internal/models"
	"slotbox-bot/internal/quota"
	"slotbox-bot/internal/repository/repotest"
	"slotbox-bot/internal/settings"
	"slotbox-bot/internal/storage/storagetest"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type fixture struct {
	svc       *Service
	subjects  *repotest.Subjects
	artifacts *repotest.Artifacts
	store     *storagetest.Store
}

func newFixture(t *testing.T, baseLimit int) fixture {
	t.Helper()
	subjects := repotest.NewSubjects(
		models.Subject{ID: 1, ChatID: 1, Notifications: true, Quota: models.Quota{BaseLimit: baseLimit}},
		models.Subject{ID: 2, ChatID: 2, Notifications: true, Quota: models.Quota{BaseLimit: baseLimit}},
	)
	cfg := settings.NewService(repotest.NewConfigs())
	ledger := quota.NewLedger(subjects, cfg, auth.NewGate(nil), zerolog.Nop())
	artifacts := repotest.NewArtifacts()
	store := storagetest.New()
	svc := NewService(ledger, artifacts, store, cfg, Options{Timeout: 50 * time.Millisecond, MaxBytes: 1 << 20}, zerolog.Nop())
	return fixture{svc: svc, subjects: subjects, artifacts: artifacts, store: store}
}

func consumed(t *testing.T, f fixture, id int64) int {
	t.Helper()
	s, err := f.subjects.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return s.Quota.ConsumedCount
}

func TestUploadStoresAndConsumes(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	res, err := f.svc.Upload(ctx, 1, "report.PDF", "application/pdf", []byte("data"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !strings.HasPrefix(res.Artifact.Path, "uploads/1/") || !strings.HasSuffix(res.Artifact.Path, "-report.PDF") {
		t.Fatalf("unexpected key %q", res.Artifact.Path)
	}
	if res.Artifact.URL == "" || res.Quota.Used != 1 || res.Quota.Remaining != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if f.store.Len() != 1 || consumed(t, f, 1) != 1 {
		t.Fatal("store and ledger must both hold the file")
	}
	list, _ := f.svc.List(ctx, 1)
	if len(list) != 1 || list[0].ID != res.Artifact.ID {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestUploadRejectsBeforeAdmission(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	tests := []struct {
		name     string
		fileName string
		data     []byte
	}{
		{"extension", "virus.exe", []byte("x")},
		{"no name", "  ", []byte("x")},
		{"too large", "big.zip", make([]byte, 2<<20)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Upload(ctx, 1, tt.fileName, "", tt.data)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
	if consumed(t, f, 1) != 0 || f.store.Len() != 0 {
		t.Fatal("rejected uploads must not consume slots")
	}
}

func TestUploadQuotaExceeded(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	if _, err := f.svc.Upload(ctx, 1, "a.txt", "text/plain", []byte("a")); err != nil {
		t.Fatalf("first upload: %v", err)
	}
	if err := f.svc.Precheck(ctx, 1, "b.txt", 1); !errors.Is(err, apperr.ErrQuotaExceeded) {
		t.Fatalf("Precheck: expected quota exceeded, got %v", err)
	}
	_, err := f.svc.Upload(ctx, 1, "b.txt", "text/plain", []byte("b"))
	if !errors.Is(err, apperr.ErrQuotaExceeded) {
		t.Fatalf("expected quota exceeded, got %v", err)
	}
	if f.store.Len() != 1 || consumed(t, f, 1) != 1 {
		t.Fatal("rejected upload must not reach the store")
	}
}

func TestUploadStoreFailureReleasesSlot(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*storagetest.Store)
	}{
		{"error", func(s *storagetest.Store) { s.PutErr = errors.New("503 slow down") }},
		{"timeout", func(s *storagetest.Store) { s.Block = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 1)
			tt.setup(f.store)

			_, err := f.svc.Upload(context.Background(), 1, "a.txt", "text/plain", []byte("a"))
			if !errors.Is(err, apperr.ErrCollaborator) {
				t.Fatalf("expected collaborator error, got %v", err)
			}
			if consumed(t, f, 1) != 0 {
				t.Fatal("slot must be released after a failed store write")
			}
			list, _ := f.svc.List(context.Background(), 1)
			if len(list) != 0 {
				t.Fatal("no record may exist for a failed upload")
			}
		})
	}
}

func TestDelete(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	res, err := f.svc.Upload(ctx, 1, "a.txt", "text/plain", []byte("a"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if _, err := f.svc.Delete(ctx, 2, res.Artifact.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("foreign delete: expected not found, got %v", err)
	}
	if _, err := f.svc.Delete(ctx, 1, uuid.New()); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("unknown id: expected not found, got %v", err)
	}

	f.store.DeleteErr = errors.New("503")
	if _, err := f.svc.Delete(ctx, 1, res.Artifact.ID); !errors.Is(err, apperr.ErrCollaborator) {
		t.Fatalf("expected collaborator error, got %v", err)
	}
	if consumed(t, f, 1) != 1 {
		t.Fatal("slot must stay consumed while the file is still stored")
	}

	f.store.DeleteErr = nil
	sum, err := f.svc.Delete(ctx, 1, res.Artifact.ID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if sum.Used != 0 || f.store.Len() != 0 || consumed(t, f, 1) != 0 {
		t.Fatalf("unexpected state after delete: %+v", sum)
	}
}

func TestDeleteFreesSlotWhenRecordRemovalFails(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	res, err := f.svc.Upload(ctx, 1, "a.txt", "text/plain", []byte("a"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	f.artifacts.DeleteErr = errors.New("db down")
	if _, err := f.svc.Delete(ctx, 1, res.Artifact.ID); err == nil {
		t.Fatal("expected the record failure to be reported")
	}
	if f.store.Len() != 0 {
		t.Fatal("stored object must be removed")
	}
	if consumed(t, f, 1) != 0 {
		t.Fatal("slot must be freed once the stored object is gone")
	}
}

func TestUsage(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	for _, name := range []string{"a.txt", "b.txt"} {
		if _, err := f.svc.Upload(ctx, 1, name, "text/plain", []byte("abc")); err != nil {
			t.Fatalf("Upload: %v", err)
		}
	}
	if _, err := f.svc.Upload(ctx, 2, "c.txt", "text/plain", []byte("c")); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	u, err := f.svc.Usage(ctx, 1)
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if u.Objects != 2 || u.Bytes != 6 {
		t.Fatalf("unexpected usage %+v", u)
	}
}
