package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"slotbox-bot/internal/apperr"
	"slotbox-bot/internal/messenger"
	"slotbox-bot/internal/models"
	"slotbox-bot/internal/repository/repotest"
	"slotbox-bot/internal/settings"

	"github.com/rs/zerolog"
)

type fakeSink struct {
	mu     sync.Mutex
	calls  []int64
	times  []time.Time
	errs   map[int64]error
	flaky  map[int64]int // remaining failures before success
	onSend func(chatID int64)
	block  bool
}

func (f *fakeSink) Send(ctx context.Context, chatID int64, _ string) error {
	f.mu.Lock()
	f.calls = append(f.calls, chatID)
	f.times = append(f.times, time.Now())
	hook := f.onSend
	err := f.errs[chatID]
	if n := f.flaky[chatID]; n > 0 {
		f.flaky[chatID] = n - 1
		err = errors.New("502 bad gateway")
	}
	block := f.block
	f.mu.Unlock()

	if hook != nil {
		hook(chatID)
	}
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *fakeSink) contacted(chatID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == chatID {
			n++
		}
	}
	return n
}

func subjects(n int) []models.Subject {
	out := make([]models.Subject, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, models.Subject{ID: int64(i), ChatID: int64(i), Notifications: true, JoinedAt: time.Now()})
	}
	return out
}

func newEngine(repo *repotest.Subjects, sink messenger.Sink, cfg *settings.Service, opts Options) *Engine {
	if opts.Interval == 0 {
		opts.Interval = time.Millisecond
	}
	return NewEngine(repo, sink, cfg, opts, zerolog.Nop())
}

func TestBroadcastScenario(t *testing.T) {
	list := subjects(5)
	list[2].Notifications = false
	repo := repotest.NewSubjects(list...)
	sink := &fakeSink{errs: map[int64]error{
		5: fmt.Errorf("%w: Forbidden: bot was blocked by the user", messenger.ErrUnreachable),
	}}
	e := newEngine(repo, sink, settings.NewService(repotest.NewConfigs()), Options{Workers: 2, Retries: 2})

	res, err := e.Notify(context.Background(), "hello", All())
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if res.Sent != 3 || res.Failed != 1 || res.Suppressed != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if sink.contacted(3) != 0 {
		t.Fatal("opted-out subject must never be contacted")
	}
	if sink.contacted(5) != 1 {
		t.Fatalf("unreachable recipient must not be retried, contacted %d times", sink.contacted(5))
	}
}

func TestBroadcastKillSwitch(t *testing.T) {
	repo := repotest.NewSubjects(subjects(3)...)
	cfg := settings.NewService(repotest.NewConfigs())
	if err := cfg.SetNotificationsEnabled(context.Background(), false); err != nil {
		t.Fatalf("SetNotificationsEnabled: %v", err)
	}
	sink := &fakeSink{}
	e := newEngine(repo, sink, cfg, Options{Workers: 1})

	res, err := e.Notify(context.Background(), "hello", All())
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if res.Sent != 0 || res.Failed != 0 || !res.Disabled {
		t.Fatalf("unexpected result %+v", res)
	}

	// an explicit single target is still delivered
	res, err = e.Notify(context.Background(), "direct", Single(2))
	if err != nil || res.Sent != 1 {
		t.Fatalf("single target with switch off = %+v, %v", res, err)
	}
	if sink.contacted(1) != 0 || sink.contacted(2) != 1 {
		t.Fatal("only the single target may be contacted")
	}
}

func TestBroadcastSkipsUndeliverable(t *testing.T) {
	list := subjects(4)
	list[0].ChatID = 0
	list[1].Banned = true
	list[2].Deleted = true
	repo := repotest.NewSubjects(list...)
	sink := &fakeSink{}
	e := newEngine(repo, sink, settings.NewService(repotest.NewConfigs()), Options{Workers: 1})

	res, _ := e.Notify(context.Background(), "hello", All())
	if res.Recipients != 1 || res.Sent != 1 || sink.contacted(4) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestBroadcastSnapshot(t *testing.T) {
	repo := repotest.NewSubjects(subjects(3)...)
	var added atomic.Bool
	sink := &fakeSink{}
	sink.onSend = func(int64) {
		if added.CompareAndSwap(false, true) {
			_, _, _ = repo.Ensure(context.Background(), &models.Subject{ID: 99, ChatID: 99, Notifications: true})
		}
	}
	e := newEngine(repo, sink, settings.NewService(repotest.NewConfigs()), Options{Workers: 1})

	res, _ := e.Notify(context.Background(), "hello", All())
	if res.Sent != 3 {
		t.Fatalf("sent = %d, want 3", res.Sent)
	}
	if sink.contacted(99) != 0 {
		t.Fatal("subjects registered mid-broadcast must not be contacted")
	}
}

func TestBroadcastRateLimit(t *testing.T) {
	repo := repotest.NewSubjects(subjects(5)...)
	sink := &fakeSink{}
	interval := 20 * time.Millisecond
	e := newEngine(repo, sink, settings.NewService(repotest.NewConfigs()), Options{Workers: 4, Interval: interval})

	if _, err := e.Notify(context.Background(), "hello", All()); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.times) != 5 {
		t.Fatalf("expected 5 sends, got %d", len(sink.times))
	}
	first, last := sink.times[0], sink.times[0]
	for _, ts := range sink.times {
		if ts.Before(first) {
			first = ts
		}
		if ts.After(last) {
			last = ts
		}
	}
	// 5 sends need at least 4 intervals between the first and the last
	if min := 4*interval - 5*time.Millisecond; last.Sub(first) < min {
		t.Fatalf("sends spread over %s, want at least %s", last.Sub(first), min)
	}
}

func TestBroadcastTimeoutContinues(t *testing.T) {
	repo := repotest.NewSubjects(subjects(2)...)
	sink := &fakeSink{block: true}
	e := newEngine(repo, sink, settings.NewService(repotest.NewConfigs()), Options{Workers: 2, SendTimeout: 10 * time.Millisecond})

	done := make(chan Result, 1)
	go func() {
		res, _ := e.Notify(context.Background(), "hello", All())
		done <- res
	}()

	select {
	case res := <-done:
		if res.Sent != 0 || res.Failed != 2 || res.Suppressed != 0 {
			t.Fatalf("timeouts must be reported failures, got %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a hung send")
	}
}

func TestBroadcastRetriesReportedFailures(t *testing.T) {
	repo := repotest.NewSubjects(subjects(2)...)
	sink := &fakeSink{flaky: map[int64]int{1: 2, 2: 5}}
	e := newEngine(repo, sink, settings.NewService(repotest.NewConfigs()), Options{Workers: 1, Retries: 2})

	res, _ := e.Notify(context.Background(), "hello", All())
	if res.Sent != 1 || res.Failed != 1 || res.Suppressed != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if sink.contacted(1) != 3 || sink.contacted(2) != 3 {
		t.Fatalf("attempts: %d and %d, want 3 each", sink.contacted(1), sink.contacted(2))
	}
}

func TestBroadcastIgnoresCallerCancellation(t *testing.T) {
	repo := repotest.NewSubjects(subjects(3)...)
	sink := &fakeSink{}
	e := newEngine(repo, sink, settings.NewService(repotest.NewConfigs()), Options{Workers: 1, Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	sink.onSend = func(int64) { cancel() }

	res, err := e.Notify(ctx, "hello", All())
	if err != nil || res.Sent != 3 {
		t.Fatalf("broadcast must run to completion, got %+v, %v", res, err)
	}
}

func TestSingleTargetErrors(t *testing.T) {
	list := subjects(2)
	list[1].ChatID = 0
	repo := repotest.NewSubjects(list...)
	sink := &fakeSink{errs: map[int64]error{1: errors.New("500")}}
	e := newEngine(repo, sink, settings.NewService(repotest.NewConfigs()), Options{Workers: 1})
	ctx := context.Background()

	res, err := e.Notify(ctx, "hi", Single(1))
	if !errors.Is(err, apperr.ErrCollaborator) || res.Failed != 1 {
		t.Fatalf("expected collaborator error, got %+v, %v", res, err)
	}
	if _, err := e.Notify(ctx, "hi", Single(2)); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for missing chat id, got %v", err)
	}
	if _, err := e.Notify(ctx, "hi", Single(42)); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
