package worker

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"slotbox-bot/internal/auth"
	"slotbox-bot/internal/models"
	"slotbox-bot/internal/quota"
	"slotbox-bot/internal/repository/repotest"
	"slotbox-bot/internal/settings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type memMarks struct {
	mu   sync.Mutex
	keys map[string]time.Duration
}

func (m *memMarks) Seen(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.keys[key]
	return ok, nil
}

func (m *memMarks) Mark(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = ttl
	return nil
}

type sinkLog struct {
	mu   sync.Mutex
	msgs map[int64][]string
}

func (s *sinkLog) Send(_ context.Context, chatID int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs[chatID] = append(s.msgs[chatID], text)
	return nil
}

func (s *sinkLog) count(chatID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs[chatID])
}

func premium(id int64, until time.Time, prev int) models.Subject {
	u := until
	p := prev
	return models.Subject{
		ID: id, ChatID: id, Notifications: true,
		Premium: true, PremiumUntil: &u, PrePremiumLimit: &p,
		Quota: models.Quota{BaseLimit: 50},
	}
}

func TestCheckWarnsAndExpires(t *testing.T) {
	now := time.Now()
	subjects := repotest.NewSubjects(
		premium(1, now.Add(24*time.Hour), 5),
		premium(2, now.Add(-time.Hour), 3),
		premium(3, now.Add(10*24*time.Hour), 5),
		models.Subject{ID: 4, ChatID: 4, Notifications: true, Quota: models.Quota{BaseLimit: 5}},
	)
	cfg := settings.NewService(repotest.NewConfigs())
	ledger := quota.NewLedger(subjects, cfg, auth.NewGate(nil), zerolog.Nop())
	sink := &sinkLog{msgs: make(map[int64][]string)}
	marks := &memMarks{keys: make(map[string]time.Duration)}

	c := NewChecker(subjects, ledger, sink, marks, time.Hour, time.Second, zerolog.Nop())
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.Check(ctx)
	if sink.count(1) != 1 || sink.count(2) != 1 || sink.count(3) != 0 || sink.count(4) != 0 {
		t.Fatalf("unexpected messages %+v", sink.msgs)
	}
	if !strings.Contains(sink.msgs[2][0], "3 slots") {
		t.Fatalf("expiry notice = %q", sink.msgs[2][0])
	}
	if ttl, ok := marks.keys["premium:notified:1"]; !ok || ttl != 48*time.Hour {
		t.Fatalf("warning mark not stored: %+v", marks.keys)
	}

	s, _ := subjects.Get(ctx, 2)
	if s.Premium || s.PremiumUntil != nil || s.Quota.BaseLimit != 3 {
		t.Fatalf("premium not expired: %+v", s)
	}
	s, _ = subjects.Get(ctx, 1)
	if !s.Premium {
		t.Fatal("premium ending tomorrow must stay active")
	}

	c.Check(ctx)
	if sink.count(1) != 1 || sink.count(2) != 1 {
		t.Fatalf("second run must not repeat messages: %+v", sink.msgs)
	}
}

func TestStartStopsWithContext(t *testing.T) {
	subjects := repotest.NewSubjects()
	cfg := settings.NewService(repotest.NewConfigs())
	ledger := quota.NewLedger(subjects, cfg, auth.NewGate(nil), zerolog.Nop())
	c := NewChecker(subjects, ledger, &sinkLog{msgs: make(map[int64][]string)}, &memMarks{keys: make(map[string]time.Duration)}, time.Millisecond, time.Second, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestRedisMarks(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR is not set, skip redis integration test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	ctx := context.Background()

	m := NewRedisMarks(rdb)
	key := warnKey(-1)
	_ = rdb.Del(ctx, key).Err()

	if seen, err := m.Seen(ctx, key); err != nil || seen {
		t.Fatalf("Seen before mark: %v, %v", seen, err)
	}
	if err := m.Mark(ctx, key, time.Minute); err != nil {
		t.Fatalf("Mark: %v", err)
	}
	if seen, err := m.Seen(ctx, key); err != nil || !seen {
		t.Fatalf("Seen after mark: %v, %v", seen, err)
	}
}
