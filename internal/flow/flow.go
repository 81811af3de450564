// Package flow routes inbound events to menu actions and to the continuation
// of the actor's pending conversation step.
package flow

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"slotbox-bot/internal/apperr"
	"slotbox-bot/internal/auth"
	"slotbox-bot/internal/broadcast"
	"slotbox-bot/internal/messenger"
	"slotbox-bot/internal/models"
	"slotbox-bot/internal/quota"
	"slotbox-bot/internal/referral"
	"slotbox-bot/internal/repository"
	"slotbox-bot/internal/settings"
	"slotbox-bot/internal/state"
	"slotbox-bot/internal/uploads"

	"github.com/rs/zerolog"
)

type Kind int

const (
	KindCommand Kind = iota
	KindCallback
	KindText
	KindDocument
)

type Actor struct {
	ID          int64
	ChatID      int64
	DisplayName string
	Username    string
}

// Document is a submitted file. Fetch downloads its content on demand so that
// rejected files are never transferred.
type Document struct {
	FileName    string
	ContentType string
	Size        int64
	Fetch       func(ctx context.Context) ([]byte, error)
}

type Event struct {
	Kind  Kind
	Actor Actor
	// Command is the command name without the slash, Args its payload.
	Command  string
	Args     string
	Data     string
	Text     string
	Document *Document
}

type Button struct {
	Text string
	Data string
}

type Reply struct {
	Text     string
	Keyboard [][]Button
}

// UsageCounter records daily active subjects.
type UsageCounter interface {
	Track(ctx context.Context, subjectID int64, at time.Time) error
	Count(ctx context.Context, day time.Time) (int64, error)
}

type Deps struct {
	Subjects    repository.SubjectRepository
	Ledger      *quota.Ledger
	Referrals   *referral.Graph
	Uploads     *uploads.Service
	Broadcast   *broadcast.Engine
	Settings    *settings.Service
	Usage       UsageCounter
	States      *state.Store
	Gate        *auth.Gate
	Sink        messenger.Sink
	BotUsername string
	SendTimeout time.Duration
}

type request struct {
	ev      Event
	subject *models.Subject
	st      state.State
	// hadState is set for menu actions when a pending step was dropped.
	hadState bool
}

type handler func(ctx context.Context, r *request) ([]Reply, error)

type Dispatcher struct {
	Deps
	log zerolog.Logger
	now func() time.Time
	// spawn runs detached work such as a registry-wide broadcast.
	spawn func(func())

	commands      map[string]handler
	callbacks     map[string]handler
	continuations map[state.Step]handler
}

func NewDispatcher(deps Deps, log zerolog.Logger) *Dispatcher {
	if deps.SendTimeout <= 0 {
		deps.SendTimeout = 10 * time.Second
	}
	d := &Dispatcher{
		Deps:  deps,
		log:   log.With().Str("component", "flow").Logger(),
		now:   time.Now,
		spawn: func(f func()) { go f() },
	}
	d.register()
	return d
}

// Handle processes one event and returns the replies for the actor's chat.
// It never panics and never returns an error: failures become replies.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) (replies []Reply) {
	defer func() {
		if rec := recover(); rec != nil {
			d.log.Error().
				Int64("actor_id", ev.Actor.ID).
				Str("panic", fmt.Sprint(rec)).
				Bytes("stack", debug.Stack()).
				Msg("Recovered from panic in event handler")
			replies = []Reply{{Text: apperr.UserMessage(errors.New("panic"))}}
		}
	}()

	if err := d.Usage.Track(ctx, ev.Actor.ID, d.now()); err != nil {
		d.log.Warn().Err(err).Int64("actor_id", ev.Actor.ID).Msg("Failed to track daily usage")
	}

	subject, created, err := d.identify(ctx, ev)
	if err != nil {
		return d.fail(ev, err)
	}
	if subject.Banned && !d.Gate.IsAdmin(subject.ID) {
		return []Reply{{Text: apperr.UserMessage(apperr.ErrBanned)}}
	}

	r := &request{ev: ev, subject: subject}
	var out []Reply
	if created {
		out = append(out, d.onboard(ctx, r)...)
	}

	if subject.Deleted && !(ev.Kind == KindCommand && ev.Command == cmdStart) {
		return append(out, Reply{Text: "Your data was removed. Send /start to come back."})
	}

	var h handler
	switch ev.Kind {
	case KindCommand:
		h = d.menu(d.commands[ev.Command], d.help)
	case KindCallback:
		h = d.menu(d.callback(ev.Data), nil)
	case KindText:
		h = d.continuation
	case KindDocument:
		h = d.upload
	}
	if h == nil {
		return out
	}

	replies, err = h(ctx, r)
	if err != nil {
		return append(out, d.fail(ev, err)...)
	}
	return append(out, replies...)
}

// menu wraps a stateless action: a menu selection always drops any pending
// step so a stale dialogue never locks the actor out.
func (d *Dispatcher) menu(h, fallback handler) handler {
	if h == nil {
		h = fallback
	}
	if h == nil {
		return nil
	}
	return func(ctx context.Context, r *request) ([]Reply, error) {
		_, r.hadState = d.States.Take(r.ev.Actor.ID)
		return h(ctx, r)
	}
}

// continuation consumes the pending step. Without one, free text goes to the
// default handler. A step with no continuation, or one missing its target,
// is dropped and the event ignored.
func (d *Dispatcher) continuation(ctx context.Context, r *request) ([]Reply, error) {
	st, ok := d.States.Take(r.ev.Actor.ID)
	if !ok {
		return d.defaultText(ctx, r)
	}
	h, ok := d.continuations[st.Step]
	if !ok {
		d.log.Warn().Int64("actor_id", r.ev.Actor.ID).Str("step", string(st.Step)).Msg("Dropped state without continuation")
		return nil, nil
	}
	if needsTarget(st.Step) && st.Target == nil {
		d.log.Warn().Int64("actor_id", r.ev.Actor.ID).Str("step", string(st.Step)).Msg("Dropped state without target")
		return nil, nil
	}
	r.st = st
	return h(ctx, r)
}

func needsTarget(step state.Step) bool {
	switch step {
	case state.StepSetLimitValue, state.StepSetRewardValue, state.StepMessageText:
		return true
	}
	return false
}

func (d *Dispatcher) callback(data string) handler {
	if h, ok := d.callbacks[data]; ok {
		return h
	}
	if _, ok := parseDeleteData(data); ok {
		return d.deleteFile
	}
	return nil
}

// identify loads or registers the actor and keeps its delivery address and
// display data current.
func (d *Dispatcher) identify(ctx context.Context, ev Event) (*models.Subject, bool, error) {
	q, err := d.Ledger.NewQuota(ctx)
	if err != nil {
		return nil, false, err
	}
	fresh := &models.Subject{
		ID:            ev.Actor.ID,
		ChatID:        ev.Actor.ChatID,
		DisplayName:   ev.Actor.DisplayName,
		Username:      ev.Actor.Username,
		JoinedAt:      d.now(),
		Notifications: true,
		Quota:         q,
	}
	s, created, err := d.Subjects.Ensure(ctx, fresh)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load subject %d: %w", ev.Actor.ID, err)
	}
	if created || s.Deleted {
		return s, created, nil
	}
	if s.ChatID != ev.Actor.ChatID || s.DisplayName != ev.Actor.DisplayName || s.Username != ev.Actor.Username {
		updated, err := d.Subjects.Update(ctx, s.ID, func(s *models.Subject) error {
			s.ChatID = ev.Actor.ChatID
			s.DisplayName = ev.Actor.DisplayName
			s.Username = ev.Actor.Username
			return nil
		})
		if err != nil {
			d.log.Warn().Err(err).Int64("subject_id", s.ID).Msg("Failed to refresh subject profile")
			return s, false, nil
		}
		s = updated
	}
	return s, false, nil
}

// onboard credits the referrer of a newly registered subject.
func (d *Dispatcher) onboard(ctx context.Context, r *request) []Reply {
	d.log.Info().Int64("subject_id", r.subject.ID).Msg("Subject registered")
	if r.ev.Kind != KindCommand || r.ev.Command != cmdStart {
		return nil
	}
	referrerID, ok := referral.ParseCode(r.ev.Args)
	if !ok {
		return nil
	}
	res, err := d.Referrals.Record(ctx, referrerID, r.subject.ID)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			d.log.Error().Err(err).Int64("referrer_id", referrerID).Int64("referred_id", r.subject.ID).Msg("Failed to record referral")
		}
		return nil
	}
	if res.Outcome != referral.Recorded {
		return nil
	}
	d.notify(ctx, referrerID, fmt.Sprintf("%s joined with your invite link. You now have %d slots (%d used).",
		displayName(r.subject), res.Referrer.Total, res.Referrer.Used))
	return []Reply{{Text: "You joined with an invite link. Your friend got bonus slots."}}
}

// notify sends a direct message to one subject; failures are logged only.
func (d *Dispatcher) notify(ctx context.Context, subjectID int64, text string) {
	if _, err := d.Broadcast.Notify(ctx, text, broadcast.Single(subjectID)); err != nil {
		d.log.Debug().Err(err).Int64("subject_id", subjectID).Msg("Notification not delivered")
	}
}

func (d *Dispatcher) fail(ev Event, err error) []Reply {
	switch {
	case errors.Is(err, apperr.ErrValidation), errors.Is(err, apperr.ErrQuotaExceeded),
		errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrBanned):
		d.log.Debug().Err(err).Int64("actor_id", ev.Actor.ID).Msg("Request rejected")
	case errors.Is(err, apperr.ErrUnauthorized):
		d.log.Warn().Int64("actor_id", ev.Actor.ID).Msg("Unauthorized admin action")
	default:
		d.log.Error().Err(err).Int64("actor_id", ev.Actor.ID).Msg("Event handling failed")
	}
	return []Reply{{Text: apperr.UserMessage(err)}}
}

func (d *Dispatcher) upload(ctx context.Context, r *request) ([]Reply, error) {
	doc := r.ev.Document
	if doc == nil {
		return nil, nil
	}
	// a dialogue waiting for text keeps its step
	if d.States.Pending(r.subject.ID) {
		return []Reply{{Text: "Finish the current step first, or send /cancel."}}, nil
	}
	if err := d.Uploads.Precheck(ctx, r.subject.ID, doc.FileName, doc.Size); err != nil {
		return nil, err
	}
	data, err := doc.Fetch(ctx)
	if err != nil {
		return nil, apperr.Collaborator("download file", err)
	}
	res, err := d.Uploads.Upload(ctx, r.subject.ID, doc.FileName, doc.ContentType, data)
	if err != nil {
		return nil, err
	}
	return []Reply{{
		Text: fmt.Sprintf("Saved %s\n%s\n\nSlots: %d/%d used.",
			res.Artifact.FileName, res.Artifact.URL, res.Quota.Used, res.Quota.Total),
		Keyboard: [][]Button{{{Text: "My files", Data: cbFiles}}},
	}}, nil
}

func (d *Dispatcher) defaultText(_ context.Context, r *request) ([]Reply, error) {
	return []Reply{{Text: "Send me a file to store it, or pick an action below.", Keyboard: d.mainMenu(r.subject)}}, nil
}

func displayName(s *models.Subject) string {
	switch {
	case s.Username != "":
		return "@" + s.Username
	case s.DisplayName != "":
		return s.DisplayName
	default:
		return fmt.Sprintf("User %d", s.ID)
	}
}
