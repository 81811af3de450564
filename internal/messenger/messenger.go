// Package messenger delivers text to subjects and classifies the outcome.
package messenger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mymmrac/telego"
	ta "github.com/mymmrac/telego/telegoapi"
	tu "github.com/mymmrac/telego/telegoutil"
)

// ErrUnreachable marks a recipient that cannot receive messages any more
// (blocked the bot, deleted account, unknown chat).
var ErrUnreachable = errors.New("recipient unreachable")

type Outcome int

const (
	Delivered Outcome = iota
	Unreachable
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Unreachable:
		return "unreachable"
	default:
		return "failed"
	}
}

// Sink is the outbound messaging boundary.
type Sink interface {
	Send(ctx context.Context, chatID int64, text string) error
}

func Classify(err error) Outcome {
	switch {
	case err == nil:
		return Delivered
	case errors.Is(err, ErrUnreachable):
		return Unreachable
	default:
		return Failed
	}
}

type TelegramSink struct {
	bot *telego.Bot
}

func NewTelegramSink(bot *telego.Bot) *TelegramSink {
	return &TelegramSink{bot: bot}
}

func (s *TelegramSink) Send(ctx context.Context, chatID int64, text string) error {
	_, err := s.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text))
	if err == nil {
		return nil
	}
	if IsUnreachable(err) {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	return fmt.Errorf("send to %d: %w", chatID, err)
}

var unreachableHints = []string{
	"bot was blocked by the user",
	"user is deactivated",
	"chat not found",
	"bot was kicked",
	"bot can't initiate conversation",
	"have no rights to send a message",
}

// IsUnreachable recognises Bot API errors that will not go away on retry.
func IsUnreachable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *ta.Error
	if errors.As(err, &apiErr) && apiErr.ErrorCode == 403 {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range unreachableHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
