// Package repotest provides in-memory repositories for tests.
package repotest

import (
	"context"
	"sort"
	"sync"
	"time"

	"slotbox-bot/internal/apperr"
	"slotbox-bot/internal/models"
	"slotbox-bot/internal/repository"

	"github.com/google/uuid"
)

type Subjects struct {
	mu    sync.Mutex
	byID  map[int64]*models.Subject
	order []int64
	edges []models.ReferralEdge

	// FailUpdate, when set, makes Update fail for the returned ids.
	FailUpdate func(id int64) error
}

var _ repository.SubjectRepository = (*Subjects)(nil)

func NewSubjects(subjects ...models.Subject) *Subjects {
	r := &Subjects{byID: make(map[int64]*models.Subject)}
	for i := range subjects {
		s := subjects[i]
		r.byID[s.ID] = &s
		r.order = append(r.order, s.ID)
	}
	return r
}

func (r *Subjects) Ensure(_ context.Context, s *models.Subject) (*models.Subject, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byID[s.ID]; ok {
		cp := *existing
		return &cp, false, nil
	}
	cp := *s
	r.byID[s.ID] = &cp
	r.order = append(r.order, s.ID)
	out := cp
	return &out, true, nil
}

func (r *Subjects) Get(_ context.Context, id int64) (*models.Subject, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return nil, apperr.NotFound("subject %d", id)
	}
	cp := *s
	return &cp, nil
}

func (r *Subjects) Update(_ context.Context, id int64, fn func(*models.Subject) error) (*models.Subject, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailUpdate != nil {
		if err := r.FailUpdate(id); err != nil {
			return nil, err
		}
	}
	s, ok := r.byID[id]
	if !ok {
		return nil, apperr.NotFound("subject %d", id)
	}
	cp := *s
	if err := fn(&cp); err != nil {
		return nil, err
	}
	*s = cp
	out := cp
	return &out, nil
}

func (r *Subjects) List(_ context.Context) ([]models.Subject, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Subject, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.byID[id])
	}
	return out, nil
}

func (r *Subjects) ListBanned(ctx context.Context) ([]int64, error) {
	all, _ := r.List(ctx)
	var ids []int64
	for _, s := range all {
		if s.Banned {
			ids = append(ids, s.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *Subjects) PremiumUntilBetween(ctx context.Context, from, to time.Time) ([]models.Subject, error) {
	all, _ := r.List(ctx)
	var out []models.Subject
	for _, s := range all {
		if s.Premium && s.PremiumUntil != nil && !s.PremiumUntil.Before(from) && s.PremiumUntil.Before(to) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *Subjects) Counts(ctx context.Context) (repository.SubjectCounts, error) {
	all, _ := r.List(ctx)
	var c repository.SubjectCounts
	for _, s := range all {
		if !s.Deleted {
			c.Total++
		}
		if s.Premium {
			c.Premium++
		}
		if s.Banned {
			c.Banned++
		}
	}
	return c, nil
}

func (r *Subjects) AddReferral(_ context.Context, referrerID, referredID int64) (*models.Subject, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	referrer, ok := r.byID[referrerID]
	if !ok {
		return nil, false, apperr.NotFound("subject %d", referrerID)
	}
	for _, e := range r.edges {
		if e.ReferredID == referredID {
			cp := *referrer
			return &cp, false, nil
		}
	}
	r.edges = append(r.edges, models.ReferralEdge{
		ID:         uint(len(r.edges) + 1),
		ReferrerID: referrerID,
		ReferredID: referredID,
		CreatedAt:  time.Now(),
	})
	referrer.Quota.ReferralCount++
	if referred, ok := r.byID[referredID]; ok {
		id := referrerID
		referred.ReferredBy = &id
	}
	cp := *referrer
	return &cp, true, nil
}

func (r *Subjects) TopReferrers(ctx context.Context, limit int) ([]models.Subject, error) {
	all, _ := r.List(ctx)
	var out []models.Subject
	for _, s := range all {
		if s.Quota.ReferralCount > 0 {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Quota.ReferralCount > out[j].Quota.ReferralCount
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Subjects) ReferralStats(_ context.Context) (models.ReferralStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	referrers := make(map[int64]struct{})
	for _, e := range r.edges {
		referrers[e.ReferrerID] = struct{}{}
	}
	return models.ReferralStats{
		TotalReferrals: int64(len(r.edges)),
		Referrers:      int64(len(referrers)),
	}, nil
}

// Edges returns a copy of every recorded referral edge.
func (r *Subjects) Edges() []models.ReferralEdge {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ReferralEdge(nil), r.edges...)
}

type Artifacts struct {
	mu   sync.Mutex
	byID map[uuid.UUID]models.Artifact

	// DeleteErr, when set, is returned by Delete and the record is kept.
	DeleteErr error
}

var _ repository.ArtifactRepository = (*Artifacts)(nil)

func NewArtifacts() *Artifacts {
	return &Artifacts{byID: make(map[uuid.UUID]models.Artifact)}
}

func (r *Artifacts) Create(_ context.Context, a *models.Artifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	r.byID[a.ID] = *a
	return nil
}

func (r *Artifacts) Get(_ context.Context, id uuid.UUID) (*models.Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return nil, apperr.NotFound("file %s", id)
	}
	return &a, nil
}

func (r *Artifacts) ListBySubject(_ context.Context, subjectID int64) ([]models.Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Artifact
	for _, a := range r.byID {
		if a.SubjectID == subjectID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *Artifacts) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.DeleteErr != nil {
		return r.DeleteErr
	}
	if _, ok := r.byID[id]; !ok {
		return apperr.NotFound("file %s", id)
	}
	delete(r.byID, id)
	return nil
}

type Configs struct {
	mu   sync.Mutex
	docs map[string]string
}

var _ repository.ConfigRepository = (*Configs)(nil)

func NewConfigs() *Configs {
	return &Configs{docs: make(map[string]string)}
}

func (r *Configs) GetDocument(_ context.Context, name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	body, ok := r.docs[name]
	if !ok {
		return "", apperr.NotFound("config %s", name)
	}
	return body, nil
}

func (r *Configs) PutDocument(_ context.Context, name, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[name] = body
	return nil
}
