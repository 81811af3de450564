package flow

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"slotbox-bot/internal/apperr"
	"slotbox-bot/internal/broadcast"
	"slotbox-bot/internal/models"
	"slotbox-bot/internal/quota"
	"slotbox-bot/internal/state"
)

func (d *Dispatcher) adminMenu(_ context.Context, r *request) ([]Reply, error) {
	if err := d.Gate.Require(r.subject.ID); err != nil {
		return nil, err
	}
	return []Reply{{Text: "Admin panel", Keyboard: adminKeyboard()}}, nil
}

// prompt opens an admin dialogue, replacing whatever step was pending.
func (d *Dispatcher) prompt(p promptSpec) handler {
	return func(_ context.Context, r *request) ([]Reply, error) {
		if err := d.Gate.Require(r.subject.ID); err != nil {
			return nil, err
		}
		d.States.Set(r.subject.ID, p.step, nil)
		return []Reply{{Text: p.text + "\n\n/cancel to abort."}}, nil
	}
}

func (d *Dispatcher) stats(ctx context.Context, r *request) ([]Reply, error) {
	if err := d.Gate.Require(r.subject.ID); err != nil {
		return nil, err
	}
	counts, err := d.Subjects.Counts(ctx)
	if err != nil {
		return nil, err
	}
	refs, err := d.Referrals.Stats(ctx)
	if err != nil {
		return nil, err
	}
	n, err := d.Settings.Notifications(ctx)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Users: %d\nPremium: %d\nBanned: %d\n", counts.Total, counts.Premium, counts.Banned)
	if active, err := d.Usage.Count(ctx, d.now()); err != nil {
		d.log.Warn().Err(err).Msg("Failed to read daily usage")
		b.WriteString("Active today: n/a\n")
	} else {
		fmt.Fprintf(&b, "Active today: %d\n", active)
	}
	fmt.Fprintf(&b, "Referrals: %d by %d users\n", refs.TotalReferrals, refs.Referrers)
	fmt.Fprintf(&b, "Broadcasts: %s", onOff(n.Enabled))

	top, err := d.topText(ctx, 10)
	if err != nil {
		return nil, err
	}
	if top != "" {
		b.WriteString("\n\nTop referrers:\n")
		b.WriteString(top)
	}
	return []Reply{{Text: b.String(), Keyboard: adminKeyboard()}}, nil
}

func (d *Dispatcher) topReferrers(ctx context.Context, r *request) ([]Reply, error) {
	if err := d.Gate.Require(r.subject.ID); err != nil {
		return nil, err
	}
	top, err := d.topText(ctx, 10)
	if err != nil {
		return nil, err
	}
	if top == "" {
		top = "No referrals yet."
	}
	return []Reply{{Text: top, Keyboard: adminKeyboard()}}, nil
}

func (d *Dispatcher) topText(ctx context.Context, limit int) (string, error) {
	entries, err := d.Referrals.TopReferrers(ctx, limit)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for i, e := range entries {
		name := e.DisplayName
		if e.Username != "" {
			name = "@" + e.Username
		}
		fmt.Fprintf(&b, "%d. %s (%d) - %d\n", i+1, name, e.SubjectID, e.Referrals)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (d *Dispatcher) bannedList(ctx context.Context, r *request) ([]Reply, error) {
	if err := d.Gate.Require(r.subject.ID); err != nil {
		return nil, err
	}
	ids, err := d.Subjects.ListBanned(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []Reply{{Text: "Nobody is banned.", Keyboard: adminKeyboard()}}, nil
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return []Reply{{Text: "Banned users:\n" + strings.Join(parts, "\n"), Keyboard: adminKeyboard()}}, nil
}

func (d *Dispatcher) toggleGlobalNotifications(ctx context.Context, r *request) ([]Reply, error) {
	if err := d.Gate.Require(r.subject.ID); err != nil {
		return nil, err
	}
	n, err := d.Settings.Notifications(ctx)
	if err != nil {
		return nil, err
	}
	if err := d.Settings.SetNotificationsEnabled(ctx, !n.Enabled); err != nil {
		return nil, err
	}
	d.log.Info().Int64("actor_id", r.subject.ID).Bool("enabled", !n.Enabled).Msg("Broadcast switch changed")
	return []Reply{{Text: "Broadcasts are now " + onOff(!n.Enabled) + ".", Keyboard: adminKeyboard()}}, nil
}

// Continuations. The pending step is already consumed when these run, so
// returning an error leaves the actor with no pending step.

func (d *Dispatcher) setLimitTarget(ctx context.Context, r *request) ([]Reply, error) {
	return d.pickTarget(ctx, r, state.StepSetLimitValue, "Send the new base limit for %s (now %d).", func(sum quota.Summary) int {
		return sum.BaseLimit
	})
}

func (d *Dispatcher) setRewardTarget(ctx context.Context, r *request) ([]Reply, error) {
	return d.pickTarget(ctx, r, state.StepSetRewardValue, "Send the slots per referral for %s (now %d).", func(sum quota.Summary) int {
		return sum.Reward
	})
}

// pickTarget resolves the subject named in the text and moves on to next.
func (d *Dispatcher) pickTarget(ctx context.Context, r *request, next state.Step, format string, current func(quota.Summary) int) ([]Reply, error) {
	if err := d.Gate.Require(r.subject.ID); err != nil {
		return nil, err
	}
	target, err := d.targetSubject(ctx, r.ev.Text)
	if err != nil {
		return nil, err
	}
	sum, err := d.Ledger.Summary(ctx, target.ID)
	if err != nil {
		return nil, err
	}
	d.States.Set(r.subject.ID, next, &target.ID)
	return []Reply{{Text: fmt.Sprintf(format, displayName(target), current(sum))}}, nil
}

func (d *Dispatcher) setLimitValue(ctx context.Context, r *request) ([]Reply, error) {
	if err := d.Gate.Require(r.subject.ID); err != nil {
		return nil, err
	}
	v, err := parseCount(r.ev.Text)
	if err != nil {
		return nil, err
	}
	sum, err := d.Ledger.SetBaseLimit(ctx, r.subject.ID, *r.st.Target, v)
	if err != nil {
		return nil, err
	}
	d.notify(ctx, sum.SubjectID, fmt.Sprintf("Your upload limit changed: %d/%d slots used.", sum.Used, sum.Total))
	return []Reply{{
		Text:     fmt.Sprintf("Base limit of %d set to %d. Total %d, used %d.", sum.SubjectID, sum.BaseLimit, sum.Total, sum.Used),
		Keyboard: adminKeyboard(),
	}}, nil
}

func (d *Dispatcher) setRewardValue(ctx context.Context, r *request) ([]Reply, error) {
	if err := d.Gate.Require(r.subject.ID); err != nil {
		return nil, err
	}
	v, err := parseCount(r.ev.Text)
	if err != nil {
		return nil, err
	}
	sum, err := d.Ledger.GrantReferralReward(ctx, r.subject.ID, *r.st.Target, v)
	if err != nil {
		return nil, err
	}
	d.notify(ctx, sum.SubjectID, fmt.Sprintf("You now get %d slots per invited friend. Total: %d slots.", sum.Reward, sum.Total))
	return []Reply{{
		Text:     fmt.Sprintf("Referral reward of %d set to %d. Total %d, used %d.", sum.SubjectID, sum.Reward, sum.Total, sum.Used),
		Keyboard: adminKeyboard(),
	}}, nil
}

func (d *Dispatcher) bulkLimit(ctx context.Context, r *request) ([]Reply, error) {
	if err := d.Gate.Require(r.subject.ID); err != nil {
		return nil, err
	}
	v, err := parseCount(r.ev.Text)
	if err != nil {
		return nil, err
	}
	res, err := d.Ledger.SetBaseLimitAll(ctx, r.subject.ID, v)
	if err != nil {
		return nil, err
	}
	return []Reply{{
		Text:     fmt.Sprintf("Base limit %d applied to %d users, %d failed.", v, res.Affected, res.Failed),
		Keyboard: adminKeyboard(),
	}}, nil
}

func (d *Dispatcher) bulkReward(ctx context.Context, r *request) ([]Reply, error) {
	if err := d.Gate.Require(r.subject.ID); err != nil {
		return nil, err
	}
	v, err := parseCount(r.ev.Text)
	if err != nil {
		return nil, err
	}
	res, err := d.Ledger.GrantReferralRewardAll(ctx, r.subject.ID, v)
	if err != nil {
		return nil, err
	}
	return []Reply{{
		Text:     fmt.Sprintf("Referral reward %d applied to %d users, %d failed.", v, res.Affected, res.Failed),
		Keyboard: adminKeyboard(),
	}}, nil
}

// broadcastAll starts the fan-out in the background and reports the tally to
// the admin when it is done.
func (d *Dispatcher) broadcastAll(ctx context.Context, r *request) ([]Reply, error) {
	if err := d.Gate.Require(r.subject.ID); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(r.ev.Text)
	if text == "" {
		return nil, apperr.Validation("the message is empty")
	}
	n, err := d.Settings.Notifications(ctx)
	if err != nil {
		return nil, err
	}
	if !n.Enabled {
		return []Reply{{Text: "Broadcasts are switched off. Turn them on in the admin panel first.", Keyboard: adminKeyboard()}}, nil
	}

	adminID, chatID := r.subject.ID, r.ev.Actor.ChatID
	bg := context.WithoutCancel(ctx)
	d.spawn(func() {
		res, err := d.Broadcast.Notify(bg, text, broadcast.All())
		report := fmt.Sprintf("Broadcast finished: %d sent, %d failed (%d unreachable) of %d.",
			res.Sent, res.Failed, res.Suppressed, res.Recipients)
		switch {
		case err != nil:
			d.log.Error().Err(err).Int64("actor_id", adminID).Msg("Broadcast failed")
			report = apperr.UserMessage(err)
		case res.Disabled:
			report = "Broadcast skipped: broadcasts are switched off."
		}
		sendCtx, cancel := context.WithTimeout(bg, d.SendTimeout)
		defer cancel()
		if err := d.Sink.Send(sendCtx, chatID, report); err != nil {
			d.log.Error().Err(err).Int64("actor_id", adminID).Msg("Failed to report broadcast result")
		}
	})
	return []Reply{{Text: "Broadcast started. I will report when it is done."}}, nil
}

func (d *Dispatcher) messageTarget(ctx context.Context, r *request) ([]Reply, error) {
	if err := d.Gate.Require(r.subject.ID); err != nil {
		return nil, err
	}
	target, err := d.targetSubject(ctx, r.ev.Text)
	if err != nil {
		return nil, err
	}
	d.States.Set(r.subject.ID, state.StepMessageText, &target.ID)
	return []Reply{{Text: fmt.Sprintf("Send the message for %s.", displayName(target))}}, nil
}

func (d *Dispatcher) messageText(ctx context.Context, r *request) ([]Reply, error) {
	if err := d.Gate.Require(r.subject.ID); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(r.ev.Text)
	if text == "" {
		return nil, apperr.Validation("the message is empty")
	}
	if _, err := d.Broadcast.Notify(ctx, text, broadcast.Single(*r.st.Target)); err != nil {
		return nil, err
	}
	return []Reply{{Text: "Message delivered.", Keyboard: adminKeyboard()}}, nil
}

func (d *Dispatcher) ban(ctx context.Context, r *request) ([]Reply, error) {
	return d.setBanned(ctx, r, true)
}

func (d *Dispatcher) unban(ctx context.Context, r *request) ([]Reply, error) {
	return d.setBanned(ctx, r, false)
}

func (d *Dispatcher) setBanned(ctx context.Context, r *request, banned bool) ([]Reply, error) {
	if err := d.Gate.Require(r.subject.ID); err != nil {
		return nil, err
	}
	id, err := parseSubjectID(r.ev.Text)
	if err != nil {
		return nil, err
	}
	if banned && d.Gate.IsAdmin(id) {
		return nil, apperr.Validation("admins cannot be banned")
	}
	if _, err := d.Subjects.Update(ctx, id, func(s *models.Subject) error {
		s.Banned = banned
		return nil
	}); err != nil {
		return nil, err
	}
	verb := "unbanned"
	if banned {
		verb = "banned"
	}
	d.log.Info().Int64("actor_id", r.subject.ID).Int64("subject_id", id).Bool("banned", banned).Msg("Ban status changed")
	return []Reply{{Text: fmt.Sprintf("User %d %s.", id, verb), Keyboard: adminKeyboard()}}, nil
}

func (d *Dispatcher) grantPremium(ctx context.Context, r *request) ([]Reply, error) {
	if err := d.Gate.Require(r.subject.ID); err != nil {
		return nil, err
	}
	fields := strings.Fields(r.ev.Text)
	if len(fields) == 0 || len(fields) > 2 {
		return nil, apperr.Validation("send the user id and optionally the number of days")
	}
	id, err := parseSubjectID(fields[0])
	if err != nil {
		return nil, err
	}
	days := 0
	if len(fields) == 2 {
		if days, err = parseCount(fields[1]); err != nil {
			return nil, err
		}
		if days == 0 {
			return nil, apperr.Validation("premium needs at least one day")
		}
	}

	sum, until, err := d.Ledger.GrantPremium(ctx, r.subject.ID, id, days)
	if err != nil {
		return nil, err
	}
	d.notify(ctx, id, fmt.Sprintf("You have premium until %s: %d slots.", until.Format("02.01.2006"), sum.Total))
	return []Reply{{
		Text:     fmt.Sprintf("Premium for %d until %s. Total %d slots.", id, until.Format("02.01.2006 15:04"), sum.Total),
		Keyboard: adminKeyboard(),
	}}, nil
}

func (d *Dispatcher) revokePremium(ctx context.Context, r *request) ([]Reply, error) {
	if err := d.Gate.Require(r.subject.ID); err != nil {
		return nil, err
	}
	id, err := parseSubjectID(r.ev.Text)
	if err != nil {
		return nil, err
	}
	sum, err := d.Ledger.RevokePremium(ctx, r.subject.ID, id)
	if err != nil {
		return nil, err
	}
	d.notify(ctx, id, fmt.Sprintf("Your premium has ended. You have %d slots.", sum.Total))
	return []Reply{{
		Text:     fmt.Sprintf("Premium of %d revoked. Base limit %d, total %d.", id, sum.BaseLimit, sum.Total),
		Keyboard: adminKeyboard(),
	}}, nil
}

func (d *Dispatcher) setExtensions(ctx context.Context, r *request) ([]Reply, error) {
	if err := d.Gate.Require(r.subject.ID); err != nil {
		return nil, err
	}
	u, err := d.Settings.SetExtensions(ctx, r.ev.Text)
	if err != nil {
		return nil, err
	}
	return []Reply{{Text: "Allowed file types: " + strings.Join(u.Extensions, " "), Keyboard: adminKeyboard()}}, nil
}

func (d *Dispatcher) setWelcome(ctx context.Context, r *request) ([]Reply, error) {
	if err := d.Gate.Require(r.subject.ID); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(r.ev.Text)
	if text == "-" {
		text = ""
	}
	if err := d.Settings.SetWelcome(ctx, text); err != nil {
		return nil, err
	}
	if text == "" {
		return []Reply{{Text: "Default welcome text restored.", Keyboard: adminKeyboard()}}, nil
	}
	return []Reply{{Text: "Welcome text updated.", Keyboard: adminKeyboard()}}, nil
}

func (d *Dispatcher) lookup(ctx context.Context, r *request) ([]Reply, error) {
	if err := d.Gate.Require(r.subject.ID); err != nil {
		return nil, err
	}
	target, err := d.targetSubject(ctx, r.ev.Text)
	if err != nil {
		return nil, err
	}
	sum, err := d.Ledger.Summary(ctx, target.ID)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s (%d)\n", displayName(target), target.ID)
	fmt.Fprintf(&b, "Joined: %s\n", target.JoinedAt.Format("02.01.2006"))
	fmt.Fprintf(&b, "Slots: %d/%d (base %d, +%d from %d referrals)\n", sum.Used, sum.Total, sum.BaseLimit, sum.Bonus, sum.Referrals)
	if target.Premium && target.PremiumUntil != nil {
		fmt.Fprintf(&b, "Premium until %s\n", target.PremiumUntil.Format("02.01.2006 15:04"))
	}
	if target.ReferredBy != nil {
		fmt.Fprintf(&b, "Invited by %d\n", *target.ReferredBy)
	}
	if u, err := d.Uploads.Usage(ctx, target.ID); err != nil {
		d.log.Warn().Err(err).Int64("subject_id", target.ID).Msg("Failed to list stored files")
	} else {
		fmt.Fprintf(&b, "Stored: %d files, %s\n", u.Objects, humanSize(u.Bytes))
	}
	fmt.Fprintf(&b, "Notifications: %s, banned: %t, deleted: %t", onOff(target.Notifications), target.Banned, target.Deleted)
	return []Reply{{Text: b.String(), Keyboard: adminKeyboard()}}, nil
}

func (d *Dispatcher) targetSubject(ctx context.Context, text string) (*models.Subject, error) {
	id, err := parseSubjectID(text)
	if err != nil {
		return nil, err
	}
	return d.Subjects.Get(ctx, id)
}

func parseSubjectID(text string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("%q is not a user id", strings.TrimSpace(text))
	}
	return id, nil
}

func parseCount(text string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || n < 0 {
		return 0, apperr.Validation("%q is not a whole number of 0 or more", strings.TrimSpace(text))
	}
	return n, nil
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
