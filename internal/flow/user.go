package flow

import (
	"context"
	"fmt"
	"strings"

	"slotbox-bot/internal/models"
	"slotbox-bot/internal/referral"
)

const defaultWelcome = "Hi %s! Send me any document and I will keep it for you. " +
	"Every user has a limited number of slots; invite friends to get more."

func (d *Dispatcher) start(ctx context.Context, r *request) ([]Reply, error) {
	s := r.subject
	var out []Reply
	if s.Deleted {
		restored, err := d.Subjects.Update(ctx, s.ID, func(s *models.Subject) error {
			s.Deleted = false
			s.DisplayName = r.ev.Actor.DisplayName
			s.Username = r.ev.Actor.Username
			s.ChatID = r.ev.Actor.ChatID
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to restore subject: %w", err)
		}
		d.log.Info().Int64("subject_id", s.ID).Msg("Subject restored")
		s, r.subject = restored, restored
		out = append(out, Reply{Text: "Welcome back! Your account is restored."})
	}

	w, err := d.Settings.Welcome(ctx)
	if err != nil {
		return nil, err
	}
	text := w.Text
	if text == "" {
		text = fmt.Sprintf(defaultWelcome, displayName(s))
	}
	return append(out, Reply{Text: text, Keyboard: d.mainMenu(s)}), nil
}

func (d *Dispatcher) help(_ context.Context, r *request) ([]Reply, error) {
	var b strings.Builder
	b.WriteString("Send a document to store it.\n\n")
	b.WriteString("/profile - your slots and referrals\n")
	b.WriteString("/files - your stored files\n")
	b.WriteString("/invite - your invite link\n")
	b.WriteString("/notifications - turn announcements on or off\n")
	b.WriteString("/forget - remove your data\n")
	b.WriteString("/cancel - stop the current dialogue")
	if d.Gate.IsAdmin(r.subject.ID) {
		b.WriteString("\n\n/admin - admin panel\n/stats - statistics")
	}
	return []Reply{{Text: b.String(), Keyboard: backKeyboard()}}, nil
}

func (d *Dispatcher) profile(ctx context.Context, r *request) ([]Reply, error) {
	sum, err := d.Ledger.Summary(ctx, r.subject.ID)
	if err != nil {
		return nil, err
	}
	s := r.subject

	var b strings.Builder
	fmt.Fprintf(&b, "ID: %d\n", s.ID)
	fmt.Fprintf(&b, "Slots: %d/%d used, %d free\n", sum.Used, sum.Total, sum.Remaining)
	fmt.Fprintf(&b, "Base limit: %d\n", sum.BaseLimit)
	fmt.Fprintf(&b, "Referrals: %d (x%d slots = +%d)\n", sum.Referrals, sum.Reward, sum.Bonus)
	if s.Premium && s.PremiumUntil != nil {
		fmt.Fprintf(&b, "Premium until %s\n", s.PremiumUntil.Format("02.01.2006"))
	}
	if s.Notifications {
		b.WriteString("Notifications: on")
	} else {
		b.WriteString("Notifications: off")
	}
	return []Reply{{Text: b.String(), Keyboard: backKeyboard()}}, nil
}

func (d *Dispatcher) files(ctx context.Context, r *request) ([]Reply, error) {
	list, err := d.Uploads.List(ctx, r.subject.ID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return []Reply{{Text: "You have no files yet. Send me a document to store it.", Keyboard: backKeyboard()}}, nil
	}

	var b strings.Builder
	rows := make([][]Button, 0, len(list)+1)
	for i, a := range list {
		fmt.Fprintf(&b, "%d. %s (%s)\n%s\n", i+1, a.FileName, humanSize(a.Size), a.URL)
		rows = append(rows, []Button{{Text: fmt.Sprintf("Delete %d. %s", i+1, truncate(a.FileName, 24)), Data: deleteData(a.ID)}})
	}
	rows = append(rows, backKeyboard()[0])
	return []Reply{{Text: b.String(), Keyboard: rows}}, nil
}

func (d *Dispatcher) deleteFile(ctx context.Context, r *request) ([]Reply, error) {
	id, _ := parseDeleteData(r.ev.Data)
	sum, err := d.Uploads.Delete(ctx, r.subject.ID, id)
	if err != nil {
		return nil, err
	}
	return []Reply{{
		Text:     fmt.Sprintf("File deleted. Slots: %d/%d used.", sum.Used, sum.Total),
		Keyboard: [][]Button{{{Text: "My files", Data: cbFiles}}},
	}}, nil
}

func (d *Dispatcher) invite(ctx context.Context, r *request) ([]Reply, error) {
	sum, err := d.Ledger.Summary(ctx, r.subject.ID)
	if err != nil {
		return nil, err
	}
	link := referral.Code(r.subject.ID)
	if d.BotUsername != "" {
		link = fmt.Sprintf("https://t.me/%s?start=%s", d.BotUsername, link)
	}
	text := fmt.Sprintf("Invite friends and get %d extra slots for each of them.\n\nInvited: %d\nBonus slots: %d\n\nYour link:\n%s",
		sum.Reward, sum.Referrals, sum.Bonus, link)
	return []Reply{{Text: text, Keyboard: backKeyboard()}}, nil
}

func (d *Dispatcher) toggleNotifications(ctx context.Context, r *request) ([]Reply, error) {
	s, err := d.Subjects.Update(ctx, r.subject.ID, func(s *models.Subject) error {
		s.Notifications = !s.Notifications
		return nil
	})
	if err != nil {
		return nil, err
	}
	text := "You will no longer receive announcements."
	if s.Notifications {
		text = "Announcements are on again."
	}
	return []Reply{{Text: text, Keyboard: d.mainMenu(s)}}, nil
}

func (d *Dispatcher) forgetPrompt(_ context.Context, _ *request) ([]Reply, error) {
	return []Reply{{
		Text: "Remove your profile data? Your files stay in place and /start brings your account back.",
		Keyboard: [][]Button{{
			{Text: "Yes, remove", Data: cbForgetConfirm},
			{Text: "No", Data: cbMenu},
		}},
	}}, nil
}

// forget soft-deletes the subject. Quota and files are kept so a later
// /start restores the account unchanged.
func (d *Dispatcher) forget(ctx context.Context, r *request) ([]Reply, error) {
	_, err := d.Subjects.Update(ctx, r.subject.ID, func(s *models.Subject) error {
		s.Deleted = true
		s.DisplayName = ""
		s.Username = ""
		return nil
	})
	if err != nil {
		return nil, err
	}
	d.log.Info().Int64("subject_id", r.subject.ID).Msg("Subject data removed on request")
	return []Reply{{Text: "Your data was removed. Send /start if you want to come back."}}, nil
}

func (d *Dispatcher) cancel(_ context.Context, r *request) ([]Reply, error) {
	if !r.hadState {
		return []Reply{{Text: "Nothing to cancel.", Keyboard: d.mainMenu(r.subject)}}, nil
	}
	return []Reply{{Text: "Cancelled.", Keyboard: d.mainMenu(r.subject)}}, nil
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
