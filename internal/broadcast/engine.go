// Package broadcast fans a message out to one subject or to the whole
// registry through the messaging sink.
package broadcast

import (
	"context"
	"sync/atomic"
	"time"

	"slotbox-bot/internal/apperr"
	"slotbox-bot/internal/messenger"
	"slotbox-bot/internal/models"
	"slotbox-bot/internal/settings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Target selects the recipients of a Notify call.
type Target struct {
	All       bool
	SubjectID int64
}

func All() Target                   { return Target{All: true} }
func Single(subjectID int64) Target { return Target{SubjectID: subjectID} }

// Result tallies one fan-out. Failed includes Suppressed.
type Result struct {
	Recipients int
	Sent       int
	Failed     int
	Suppressed int
	Disabled   bool
}

type Registry interface {
	Get(ctx context.Context, id int64) (*models.Subject, error)
	List(ctx context.Context) ([]models.Subject, error)
}

type Switch interface {
	Notifications(ctx context.Context) (settings.Notifications, error)
}

type Options struct {
	// Interval is the minimum delay between two sends of an "all" fan-out.
	Interval    time.Duration
	Workers     int
	Retries     int
	SendTimeout time.Duration
}

type Engine struct {
	registry Registry
	sink     messenger.Sink
	toggle   Switch
	opts     Options
	log      zerolog.Logger
}

func NewEngine(registry Registry, sink messenger.Sink, toggle Switch, opts Options, log zerolog.Logger) *Engine {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	return &Engine{
		registry: registry,
		sink:     sink,
		toggle:   toggle,
		opts:     opts,
		log:      log.With().Str("component", "broadcast").Logger(),
	}
}

// Notify delivers text to target. A single-target failure is returned to the
// caller; an "all" fan-out only counts failures and always runs to the end of
// the registry snapshot taken at call start.
func (e *Engine) Notify(ctx context.Context, text string, target Target) (Result, error) {
	if !target.All {
		return e.notifyOne(ctx, text, target.SubjectID)
	}

	n, err := e.toggle.Notifications(ctx)
	if err != nil {
		return Result{}, err
	}
	if !n.Enabled {
		e.log.Info().Msg("Broadcast skipped, notifications are disabled")
		return Result{Disabled: true}, nil
	}

	snapshot, err := e.registry.List(ctx)
	if err != nil {
		return Result{}, apperr.Collaborator("list subjects", err)
	}
	recipients := make([]models.Subject, 0, len(snapshot))
	for _, s := range snapshot {
		if s.Reachable() {
			recipients = append(recipients, s)
		}
	}

	return e.fanOut(context.WithoutCancel(ctx), text, recipients), nil
}

func (e *Engine) notifyOne(ctx context.Context, text string, subjectID int64) (Result, error) {
	s, err := e.registry.Get(ctx, subjectID)
	if err != nil {
		return Result{}, err
	}
	if s.ChatID == 0 || s.Deleted {
		return Result{}, apperr.Validation("subject %d has no delivery address", subjectID)
	}

	res := Result{Recipients: 1}
	err = e.deliverWithRetry(ctx, nil, s.ChatID, text)
	switch messenger.Classify(err) {
	case messenger.Delivered:
		res.Sent = 1
		return res, nil
	case messenger.Unreachable:
		res.Failed, res.Suppressed = 1, 1
	default:
		res.Failed = 1
		e.log.Error().Err(err).Int64("subject_id", subjectID).Msg("Direct message failed")
	}
	return res, apperr.Collaborator("deliver message", err)
}

func (e *Engine) fanOut(ctx context.Context, text string, recipients []models.Subject) Result {
	var sent, suppressed, reported atomic.Int64
	limiter := rate.NewLimiter(rate.Every(e.opts.Interval), 1)
	started := time.Now()

	var g errgroup.Group
	g.SetLimit(e.opts.Workers)
	for _, s := range recipients {
		g.Go(func() error {
			err := e.deliverWithRetry(ctx, limiter, s.ChatID, text)
			switch messenger.Classify(err) {
			case messenger.Delivered:
				sent.Add(1)
			case messenger.Unreachable:
				suppressed.Add(1)
				e.log.Debug().Int64("subject_id", s.ID).Msg("Recipient unreachable")
			default:
				reported.Add(1)
				e.log.Error().Err(err).Int64("subject_id", s.ID).Msg("Broadcast delivery failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	res := Result{
		Recipients: len(recipients),
		Sent:       int(sent.Load()),
		Suppressed: int(suppressed.Load()),
		Failed:     int(suppressed.Load() + reported.Load()),
	}
	e.log.Info().
		Int("recipients", res.Recipients).
		Int("sent", res.Sent).
		Int("failed", res.Failed).
		Int("suppressed", res.Suppressed).
		Dur("took", time.Since(started)).
		Msg("Broadcast finished")
	return res
}

// deliverWithRetry retries reported failures; unreachable recipients are not
// retried. A nil limiter sends without pacing.
func (e *Engine) deliverWithRetry(ctx context.Context, limiter *rate.Limiter, chatID int64, text string) error {
	var err error
	for attempt := 0; attempt <= e.opts.Retries; attempt++ {
		if limiter != nil {
			if werr := limiter.Wait(ctx); werr != nil {
				return werr
			}
		}
		err = e.sendBounded(ctx, chatID, text)
		if messenger.Classify(err) != messenger.Failed {
			return err
		}
	}
	return err
}

func (e *Engine) sendBounded(ctx context.Context, chatID int64, text string) error {
	sendCtx, cancel := context.WithTimeout(ctx, e.opts.SendTimeout)
	defer cancel()
	return e.sink.Send(sendCtx, chatID, text)
}
