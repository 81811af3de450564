// Package bot is the Telegram transport: it turns updates into flow events
// and renders the replies.
package bot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"slotbox-bot/internal/flow"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/rs/zerolog"
)

const maxMessageRunes = 4096

type Options struct {
	// SendTimeout bounds every reply and callback answer.
	SendTimeout     time.Duration
	DownloadTimeout time.Duration
	MaxDownload     int64
}

type Bot struct {
	Instance   *telego.Bot
	dispatcher *flow.Dispatcher
	opts       Options
	http       *http.Client
	log        zerolog.Logger
}

func NewBot(instance *telego.Bot, dispatcher *flow.Dispatcher, opts Options, log zerolog.Logger) *Bot {
	return &Bot{
		Instance:   instance,
		dispatcher: dispatcher,
		opts:       opts,
		http:       &http.Client{},
		log:        log.With().Str("component", "bot").Logger(),
	}
}

// Start long-polls until ctx is cancelled. Updates are handled concurrently.
func (b *Bot) Start(ctx context.Context) error {
	updates, err := b.Instance.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start long polling: %w", err)
	}

	handler, err := th.NewBotHandler(b.Instance, updates)
	if err != nil {
		return fmt.Errorf("failed to create update handler: %w", err)
	}

	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		b.reply(ctx.Context(), update.Message.Chat.ID, b.dispatcher.Handle(ctx.Context(), commandEvent(update.Message)))
		return nil
	}, isCommand)

	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		b.answer(ctx.Context(), callback.ID)
		b.reply(ctx.Context(), callback.From.ID, b.dispatcher.Handle(ctx.Context(), callbackEvent(callback)))
		return nil
	}, th.AnyCallbackQuery())

	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		msg := update.Message
		b.reply(ctx.Context(), msg.Chat.ID, b.dispatcher.Handle(ctx.Context(), b.documentEvent(msg)))
		return nil
	}, hasDocument)

	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		msg := update.Message
		b.reply(ctx.Context(), msg.Chat.ID, b.dispatcher.Handle(ctx.Context(), flow.Event{
			Kind:  flow.KindText,
			Actor: actorOf(msg.From, msg.Chat.ID),
			Text:  msg.Text,
		}))
		return nil
	}, isText)

	b.log.Info().Msg("Bot is polling for updates")
	// Start returns once ctx is cancelled and the updates channel is closed.
	handler.Start()
	b.log.Info().Msg("Bot stopped")
	return nil
}

func (b *Bot) reply(ctx context.Context, chatID int64, replies []flow.Reply) {
	for _, r := range replies {
		if r.Text == "" {
			continue
		}
		msg := tu.Message(tu.ID(chatID), clip(r.Text))
		if len(r.Keyboard) > 0 {
			msg = msg.WithReplyMarkup(keyboard(r.Keyboard))
		}
		sendCtx, cancel := context.WithTimeout(ctx, b.opts.SendTimeout)
		_, err := b.Instance.SendMessage(sendCtx, msg)
		cancel()
		if err != nil {
			b.log.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send reply")
		}
	}
}

func (b *Bot) answer(ctx context.Context, callbackID string) {
	ctx, cancel := context.WithTimeout(ctx, b.opts.SendTimeout)
	defer cancel()
	if err := b.Instance.AnswerCallbackQuery(ctx, tu.CallbackQuery(callbackID)); err != nil {
		b.log.Warn().Err(err).Str("callback_id", callbackID).Msg("Failed to answer callback query")
	}
}

func (b *Bot) documentEvent(msg *telego.Message) flow.Event {
	doc := msg.Document
	return flow.Event{
		Kind:  flow.KindDocument,
		Actor: actorOf(msg.From, msg.Chat.ID),
		Text:  msg.Caption,
		Document: &flow.Document{
			FileName:    doc.FileName,
			ContentType: doc.MimeType,
			Size:        doc.FileSize,
			Fetch: func(ctx context.Context) ([]byte, error) {
				return b.download(ctx, doc.FileID)
			},
		},
	}
}

// download fetches a file through the Bot API file endpoint, bounded by the
// download timeout and the upload size limit.
func (b *Bot) download(ctx context.Context, fileID string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, b.opts.DownloadTimeout)
	defer cancel()

	file, err := b.Instance.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.Instance.FileDownloadURL(file.FilePath), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download file: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, b.opts.MaxDownload+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if int64(len(data)) > b.opts.MaxDownload {
		return nil, fmt.Errorf("file exceeds %d bytes", b.opts.MaxDownload)
	}
	return data, nil
}

func isCommand(_ context.Context, update telego.Update) bool {
	return update.Message != nil && update.Message.From != nil && strings.HasPrefix(update.Message.Text, "/")
}

func hasDocument(_ context.Context, update telego.Update) bool {
	return update.Message != nil && update.Message.From != nil && update.Message.Document != nil
}

func isText(_ context.Context, update telego.Update) bool {
	return update.Message != nil && update.Message.From != nil && update.Message.Text != ""
}

func commandEvent(msg *telego.Message) flow.Event {
	name, args := parseCommand(msg.Text)
	return flow.Event{
		Kind:    flow.KindCommand,
		Actor:   actorOf(msg.From, msg.Chat.ID),
		Command: name,
		Args:    args,
	}
}

func callbackEvent(q *telego.CallbackQuery) flow.Event {
	return flow.Event{
		Kind:  flow.KindCallback,
		Actor: actorOf(&q.From, q.From.ID),
		Data:  q.Data,
	}
}

// parseCommand splits "/start@bot payload" into "start" and "payload".
func parseCommand(text string) (string, string) {
	text = strings.TrimPrefix(strings.TrimSpace(text), "/")
	name, args, _ := strings.Cut(text, " ")
	name, _, _ = strings.Cut(name, "@")
	return strings.ToLower(name), strings.TrimSpace(args)
}

func actorOf(u *telego.User, chatID int64) flow.Actor {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	return flow.Actor{
		ID:          u.ID,
		ChatID:      chatID,
		DisplayName: name,
		Username:    u.Username,
	}
}

func keyboard(rows [][]flow.Button) *telego.InlineKeyboardMarkup {
	out := make([][]telego.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]telego.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			buttons = append(buttons, tu.InlineKeyboardButton(btn.Text).WithCallbackData(btn.Data))
		}
		out = append(out, tu.InlineKeyboardRow(buttons...))
	}
	return tu.InlineKeyboard(out...)
}

func clip(text string) string {
	r := []rune(text)
	if len(r) <= maxMessageRunes {
		return text
	}
	return string(r[:maxMessageRunes-1]) + "…"
}
