package flow

import (
	"strings"

	"slotbox-bot/internal/models"
	"slotbox-bot/internal/state"

	"github.com/google/uuid"
)

const (
	cmdStart         = "start"
	cmdHelp          = "help"
	cmdProfile       = "profile"
	cmdFiles         = "files"
	cmdInvite        = "invite"
	cmdNotifications = "notifications"
	cmdForget        = "forget"
	cmdCancel        = "cancel"
	cmdAdmin         = "admin"
	cmdStats         = "stats"
)

const (
	cbMenu          = "menu"
	cbProfile       = "profile"
	cbFiles         = "files"
	cbInvite        = "invite"
	cbNotifications = "notifications"
	cbHelp          = "help"
	cbForget        = "forget"
	cbForgetConfirm = "forget_confirm"

	cbAdmin              = "admin"
	cbAdminStats         = "admin:stats"
	cbAdminTop           = "admin:top"
	cbAdminBanned        = "admin:banned"
	cbAdminToggleNotify  = "admin:toggle_notifications"
	cbAdminSetLimit      = "admin:set_limit"
	cbAdminSetReward     = "admin:set_reward"
	cbAdminBulkLimit     = "admin:bulk_limit"
	cbAdminBulkReward    = "admin:bulk_reward"
	cbAdminBroadcast     = "admin:broadcast"
	cbAdminMessage       = "admin:message"
	cbAdminBan           = "admin:ban"
	cbAdminUnban         = "admin:unban"
	cbAdminGrantPremium  = "admin:grant_premium"
	cbAdminRevokePremium = "admin:revoke_premium"
	cbAdminExtensions    = "admin:extensions"
	cbAdminWelcome       = "admin:welcome"
	cbAdminLookup        = "admin:lookup"

	deletePrefix = "del:"
)

func (d *Dispatcher) register() {
	d.commands = map[string]handler{
		cmdStart:         d.start,
		cmdHelp:          d.help,
		cmdProfile:       d.profile,
		cmdFiles:         d.files,
		cmdInvite:        d.invite,
		cmdNotifications: d.toggleNotifications,
		cmdForget:        d.forgetPrompt,
		cmdCancel:        d.cancel,
		cmdAdmin:         d.adminMenu,
		cmdStats:         d.stats,
	}

	d.callbacks = map[string]handler{
		cbMenu:          d.start,
		cbProfile:       d.profile,
		cbFiles:         d.files,
		cbInvite:        d.invite,
		cbNotifications: d.toggleNotifications,
		cbHelp:          d.help,
		cbForget:        d.forgetPrompt,
		cbForgetConfirm: d.forget,

		cbAdmin:             d.adminMenu,
		cbAdminStats:        d.stats,
		cbAdminTop:          d.topReferrers,
		cbAdminBanned:       d.bannedList,
		cbAdminToggleNotify: d.toggleGlobalNotifications,
	}
	for data, p := range prompts {
		d.callbacks[data] = d.prompt(p)
	}

	d.continuations = map[state.Step]handler{
		state.StepSetLimitTarget:  d.setLimitTarget,
		state.StepSetLimitValue:   d.setLimitValue,
		state.StepSetRewardTarget: d.setRewardTarget,
		state.StepSetRewardValue:  d.setRewardValue,
		state.StepBulkLimit:       d.bulkLimit,
		state.StepBulkReward:      d.bulkReward,
		state.StepBroadcast:       d.broadcastAll,
		state.StepMessageTarget:   d.messageTarget,
		state.StepMessageText:     d.messageText,
		state.StepBan:             d.ban,
		state.StepUnban:           d.unban,
		state.StepGrantPremium:    d.grantPremium,
		state.StepRevokePremium:   d.revokePremium,
		state.StepSetExtensions:   d.setExtensions,
		state.StepSetWelcome:      d.setWelcome,
		state.StepLookup:          d.lookup,
	}
}

type promptSpec struct {
	step state.Step
	text string
}

// prompts are the admin buttons that open a dialogue.
var prompts = map[string]promptSpec{
	cbAdminSetLimit:      {state.StepSetLimitTarget, "Send the user id whose base limit you want to change."},
	cbAdminSetReward:     {state.StepSetRewardTarget, "Send the user id whose slots-per-referral you want to change."},
	cbAdminBulkLimit:     {state.StepBulkLimit, "Send the new base limit for every user."},
	cbAdminBulkReward:    {state.StepBulkReward, "Send the new slots-per-referral for every user."},
	cbAdminBroadcast:     {state.StepBroadcast, "Send the message to broadcast to all users."},
	cbAdminMessage:       {state.StepMessageTarget, "Send the user id to message."},
	cbAdminBan:           {state.StepBan, "Send the user id to ban."},
	cbAdminUnban:         {state.StepUnban, "Send the user id to unban."},
	cbAdminGrantPremium:  {state.StepGrantPremium, "Send the user id and optionally the number of days, e.g. \"12345 30\"."},
	cbAdminRevokePremium: {state.StepRevokePremium, "Send the user id whose premium to revoke."},
	cbAdminExtensions:    {state.StepSetExtensions, "Send the allowed file extensions, e.g. \"pdf png zip\"."},
	cbAdminWelcome:       {state.StepSetWelcome, "Send the new welcome text, or \"-\" to restore the default."},
	cbAdminLookup:        {state.StepLookup, "Send the user id to look up."},
}

func (d *Dispatcher) mainMenu(s *models.Subject) [][]Button {
	notify := "Notifications: on"
	if !s.Notifications {
		notify = "Notifications: off"
	}
	rows := [][]Button{
		{{Text: "Profile", Data: cbProfile}, {Text: "My files", Data: cbFiles}},
		{{Text: "Invite friends", Data: cbInvite}, {Text: notify, Data: cbNotifications}},
		{{Text: "Help", Data: cbHelp}},
	}
	if d.Gate.IsAdmin(s.ID) {
		rows = append(rows, []Button{{Text: "Admin panel", Data: cbAdmin}})
	}
	return rows
}

func adminKeyboard() [][]Button {
	return [][]Button{
		{{Text: "Statistics", Data: cbAdminStats}, {Text: "Top referrers", Data: cbAdminTop}},
		{{Text: "Set limit", Data: cbAdminSetLimit}, {Text: "Set referral reward", Data: cbAdminSetReward}},
		{{Text: "Limit for all", Data: cbAdminBulkLimit}, {Text: "Reward for all", Data: cbAdminBulkReward}},
		{{Text: "Broadcast", Data: cbAdminBroadcast}, {Text: "Message user", Data: cbAdminMessage}},
		{{Text: "Ban", Data: cbAdminBan}, {Text: "Unban", Data: cbAdminUnban}, {Text: "Banned list", Data: cbAdminBanned}},
		{{Text: "Grant premium", Data: cbAdminGrantPremium}, {Text: "Revoke premium", Data: cbAdminRevokePremium}},
		{{Text: "File types", Data: cbAdminExtensions}, {Text: "Welcome text", Data: cbAdminWelcome}},
		{{Text: "Look up user", Data: cbAdminLookup}, {Text: "Toggle broadcasts", Data: cbAdminToggleNotify}},
		{{Text: "« Back", Data: cbMenu}},
	}
}

func backKeyboard() [][]Button {
	return [][]Button{{{Text: "« Back", Data: cbMenu}}}
}

func deleteData(id uuid.UUID) string {
	return deletePrefix + id.String()
}

func parseDeleteData(data string) (uuid.UUID, bool) {
	raw, ok := strings.CutPrefix(data, deletePrefix)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
