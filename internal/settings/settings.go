// Package settings exposes the named BotConfig documents as typed structs
// with explicit defaults.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"slotbox-bot/internal/apperr"
	"slotbox-bot/internal/repository"
)

const (
	DocUploads       = "uploads"
	DocNotifications = "notifications"
	DocPremium       = "premium"
	DocWelcome       = "welcome"
	DocLimits        = "limits"
)

type Uploads struct {
	Extensions []string `json:"extensions"`
}

type Notifications struct {
	Enabled bool `json:"enabled"`
}

// Premium is the tier applied by a premium grant.
type Premium struct {
	Slots int `json:"slots"`
	Days  int `json:"days"`
}

type Welcome struct {
	Text string `json:"text"`
}

// Limits seeds the quota of newly registered subjects.
type Limits struct {
	DefaultBaseLimit int `json:"default_base_limit"`
	ReferralReward   int `json:"referral_reward"`
}

func DefaultUploads() Uploads {
	return Uploads{Extensions: []string{".pdf", ".txt", ".doc", ".docx", ".jpg", ".jpeg", ".png", ".zip"}}
}

func DefaultNotifications() Notifications { return Notifications{Enabled: true} }
func DefaultPremium() Premium             { return Premium{Slots: 50, Days: 30} }
func DefaultWelcome() Welcome             { return Welcome{} }
func DefaultLimits() Limits               { return Limits{DefaultBaseLimit: 5, ReferralReward: 2} }

type Service struct {
	repo repository.ConfigRepository
}

func NewService(repo repository.ConfigRepository) *Service {
	return &Service{repo: repo}
}

// load decodes the named document over def, so fields missing from the
// stored JSON keep their default.
func load[T any](ctx context.Context, s *Service, name string, def T) (T, error) {
	body, err := s.repo.GetDocument(ctx, name)
	if errors.Is(err, apperr.ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return def, apperr.Collaborator("read config "+name, err)
	}
	out := def
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return def, fmt.Errorf("failed to decode config %s: %w", name, err)
	}
	return out, nil
}

func save(ctx context.Context, s *Service, name string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode config %s: %w", name, err)
	}
	if err := s.repo.PutDocument(ctx, name, string(body)); err != nil {
		return apperr.Collaborator("write config "+name, err)
	}
	return nil
}

func (s *Service) Uploads(ctx context.Context) (Uploads, error) {
	return load(ctx, s, DocUploads, DefaultUploads())
}

func (s *Service) Notifications(ctx context.Context) (Notifications, error) {
	return load(ctx, s, DocNotifications, DefaultNotifications())
}

func (s *Service) Premium(ctx context.Context) (Premium, error) {
	return load(ctx, s, DocPremium, DefaultPremium())
}

func (s *Service) Welcome(ctx context.Context) (Welcome, error) {
	return load(ctx, s, DocWelcome, DefaultWelcome())
}

func (s *Service) Limits(ctx context.Context) (Limits, error) {
	return load(ctx, s, DocLimits, DefaultLimits())
}

// SetExtensions parses a space or comma separated list such as "pdf, .PNG zip".
func (s *Service) SetExtensions(ctx context.Context, raw string) (Uploads, error) {
	exts, err := ParseExtensions(raw)
	if err != nil {
		return Uploads{}, err
	}
	u := Uploads{Extensions: exts}
	return u, save(ctx, s, DocUploads, u)
}

func (s *Service) SetNotificationsEnabled(ctx context.Context, enabled bool) error {
	return save(ctx, s, DocNotifications, Notifications{Enabled: enabled})
}

func (s *Service) SetWelcome(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if len(text) > 4000 {
		return apperr.Validation("welcome text is too long (%d characters, max 4000)", len(text))
	}
	return save(ctx, s, DocWelcome, Welcome{Text: text})
}

func (s *Service) SetPremium(ctx context.Context, p Premium) error {
	if p.Slots < 0 || p.Days < 1 {
		return apperr.Validation("premium terms need slots >= 0 and days >= 1")
	}
	return save(ctx, s, DocPremium, p)
}

func (s *Service) SetLimits(ctx context.Context, l Limits) error {
	if l.DefaultBaseLimit < 0 || l.ReferralReward < 1 {
		return apperr.Validation("limits need base >= 0 and reward >= 1")
	}
	return save(ctx, s, DocLimits, l)
}

// UpdateLimits applies fn to the stored limits document (read-modify-write).
func (s *Service) UpdateLimits(ctx context.Context, fn func(*Limits)) (Limits, error) {
	l, err := s.Limits(ctx)
	if err != nil {
		return l, err
	}
	fn(&l)
	return l, s.SetLimits(ctx, l)
}

func ParseExtensions(raw string) ([]string, error) {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t' || r == ';'
	})
	seen := make(map[string]struct{}, len(fields))
	var exts []string
	for _, f := range fields {
		ext := strings.ToLower(strings.TrimSpace(f))
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if len(ext) < 2 || len(ext) > 16 || strings.ContainsAny(ext[1:], "./\\") {
			return nil, apperr.Validation("invalid extension %q", f)
		}
		if _, ok := seen[ext]; ok {
			continue
		}
		seen[ext] = struct{}{}
		exts = append(exts, ext)
	}
	if len(exts) == 0 {
		return nil, apperr.Validation("send at least one extension, e.g. \"pdf png zip\"")
	}
	return exts, nil
}

// Allows reports whether fileName carries one of the allowed extensions.
func (u Uploads) Allows(fileName string) bool {
	ext := strings.ToLower(path.Ext(fileName))
	if ext == "" {
		return false
	}
	for _, allowed := range u.Extensions {
		if ext == allowed {
			return true
		}
	}
	return false
}
