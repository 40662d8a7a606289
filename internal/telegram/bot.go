// Package telegram connects the intake handler to a Telegram bot running in
// private chats.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/go-telegram/ui/keyboard/inline"
	"github.com/go-telegram/ui/paginator"

	"invbot/internal/entry"
	"invbot/internal/intake"
)

const (
	startCmd     = "/start"
	helpCmd      = "/help"
	setupCmd     = "/setup"
	addCmd       = "/add"
	cancelCmd    = "/cancel"
	skipCmd      = entry.SkipCommand
	inventoryCmd = "/inventory"
	editCmd      = "/edit"
	removeCmd    = "/remove"

	storesPerRow  = 2
	itemsPerPage  = 10
	privateChat   = "private"
	deniedMessage = "🔒 Sorry, you don't have access to this bot."
)

// Responder is the chat-independent side of the bot.
type Responder interface {
	Start(ctx context.Context, userID int64) intake.Reply
	Help(ctx context.Context, userID int64) intake.Reply
	Setup(ctx context.Context, userID int64, args string) intake.Reply
	Add(ctx context.Context, userID int64) intake.Reply
	Text(ctx context.Context, userID int64, text string) intake.Reply
	SelectStore(ctx context.Context, userID int64, store string) intake.Reply
	Cancel(ctx context.Context, userID int64) intake.Reply
	Inventory(ctx context.Context, userID int64) intake.Reply
	Edit(ctx context.Context, userID int64, args string) intake.Reply
	Remove(ctx context.Context, userID int64, args string) intake.Reply
}

type Bot struct {
	api     *tgbot.Bot
	r       Responder
	allowed map[int64]struct{}
	logger  *slog.Logger
	extra   []tgbot.Option
}

type Option func(*Bot)

// WithAllowedUsers restricts the bot to the given Telegram user IDs. An
// empty list lets everyone in.
func WithAllowedUsers(ids []int64) Option {
	return func(b *Bot) {
		for _, id := range ids {
			b.allowed[id] = struct{}{}
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Bot) { b.logger = l }
}

// WithBotOptions passes options through to the Telegram client.
func WithBotOptions(opts ...tgbot.Option) Option {
	return func(b *Bot) { b.extra = append(b.extra, opts...) }
}

func New(token string, r Responder, opts ...Option) (*Bot, error) {
	b := &Bot{
		r:       r,
		allowed: make(map[int64]struct{}),
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}

	botOpts := append([]tgbot.Option{
		tgbot.WithDefaultHandler(b.handleText),
		tgbot.WithMiddlewares(b.guard),
		tgbot.WithErrorsHandler(func(err error) {
			b.logger.Error("telegram error", "error", err)
		}),
	}, b.extra...)

	api, err := tgbot.New(token, botOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	b.api = api

	b.command(startCmd, func(ctx context.Context, userID int64, _ string) intake.Reply {
		return r.Start(ctx, userID)
	})
	b.command(helpCmd, func(ctx context.Context, userID int64, _ string) intake.Reply {
		return r.Help(ctx, userID)
	})
	b.command(setupCmd, func(ctx context.Context, userID int64, args string) intake.Reply {
		return r.Setup(ctx, userID, args)
	})
	b.command(addCmd, func(ctx context.Context, userID int64, _ string) intake.Reply {
		return r.Add(ctx, userID)
	})
	b.command(cancelCmd, func(ctx context.Context, userID int64, _ string) intake.Reply {
		return r.Cancel(ctx, userID)
	})
	b.command(skipCmd, func(ctx context.Context, userID int64, _ string) intake.Reply {
		return r.Text(ctx, userID, skipCmd)
	})
	b.command(inventoryCmd, func(ctx context.Context, userID int64, _ string) intake.Reply {
		return r.Inventory(ctx, userID)
	})
	b.command(editCmd, func(ctx context.Context, userID int64, args string) intake.Reply {
		return r.Edit(ctx, userID, args)
	})
	b.command(removeCmd, func(ctx context.Context, userID int64, args string) intake.Reply {
		return r.Remove(ctx, userID, args)
	})

	return b, nil
}

// Run polls for updates until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("bot started", "allow_list", len(b.allowed))
	b.api.Start(ctx)
	return nil
}

// command registers fn for cmd. Matching is by prefix so "/cmd@botname" and
// arguments reach fn; longer commands such as "/address" fall through to
// the text handler.
func (b *Bot) command(cmd string, fn func(ctx context.Context, userID int64, args string) intake.Reply) {
	b.api.RegisterHandler(tgbot.HandlerTypeMessageText, cmd, tgbot.MatchTypePrefix, func(ctx context.Context, api *tgbot.Bot, update *models.Update) {
		msg := update.Message
		args, ok := commandArgs(msg.Text, cmd)
		if !ok {
			b.handleText(ctx, api, update)
			return
		}
		b.logger.Debug("command", "user_id", msg.From.ID, "command", cmd)
		b.send(ctx, msg.Chat.ID, fn(ctx, msg.From.ID, args))
	})
}

func (b *Bot) handleText(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	b.logger.Debug("message", "user_id", msg.From.ID, "length", len(msg.Text))
	b.send(ctx, msg.Chat.ID, b.r.Text(ctx, msg.From.ID, msg.Text))
}

// guard drops updates from group chats and from users outside the allow-list.
func (b *Bot) guard(next tgbot.HandlerFunc) tgbot.HandlerFunc {
	return func(ctx context.Context, api *tgbot.Bot, update *models.Update) {
		switch {
		case update.Message != nil:
			msg := update.Message
			if msg.From == nil || msg.Chat.Type != privateChat {
				return
			}
			if !b.isAllowed(msg.From.ID) {
				b.logger.Warn("access denied", "user_id", msg.From.ID)
				b.sendText(ctx, msg.Chat.ID, deniedMessage, nil)
				return
			}
		case update.CallbackQuery != nil:
			if !b.isAllowed(update.CallbackQuery.From.ID) {
				return
			}
		}
		next(ctx, api, update)
	}
}

func (b *Bot) isAllowed(userID int64) bool {
	if len(b.allowed) == 0 {
		return true
	}
	_, ok := b.allowed[userID]
	return ok
}

// send renders a Reply. Store choices become an inline keyboard and
// inventory lines a paginator under the reply text.
func (b *Bot) send(ctx context.Context, chatID int64, reply intake.Reply) {
	var markup any
	if len(reply.Keyboard) > 0 {
		markup = b.storeKeyboard(reply.Keyboard)
	}
	b.sendText(ctx, chatID, reply.Text, markup)

	if len(reply.Pages) > 0 {
		// The paginator sends its pages as MarkdownV2 without escaping.
		pages := make([]string, len(reply.Pages))
		for i, p := range reply.Pages {
			pages[i] = tgbot.EscapeMarkdown(p)
		}
		p := paginator.New(b.api, pages,
			paginator.PerPage(itemsPerPage),
			paginator.WithCloseButton("Close"),
			paginator.WithoutEmptyButtons(),
		)
		if _, err := p.Show(ctx, b.api, chatID); err != nil {
			b.logger.Error("show inventory failed", "chat_id", chatID, "error", err)
		}
	}
}

func (b *Bot) storeKeyboard(stores []string) *inline.Keyboard {
	kb := inline.New(b.api)
	for _, row := range chunk(stores, storesPerRow) {
		kb = kb.Row()
		for _, s := range row {
			kb = kb.Button(s, []byte(s), b.onStore)
		}
	}
	return kb
}

// onStore handles a store button. In a private chat the chat ID is the
// user's ID.
func (b *Bot) onStore(ctx context.Context, _ *tgbot.Bot, mes models.MaybeInaccessibleMessage, data []byte) {
	var chatID int64
	switch {
	case mes.Message != nil:
		chatID = mes.Message.Chat.ID
	case mes.InaccessibleMessage != nil:
		chatID = mes.InaccessibleMessage.Chat.ID
	default:
		return
	}
	b.send(ctx, chatID, b.r.SelectStore(ctx, chatID, string(data)))
}

func (b *Bot) sendText(ctx context.Context, chatID int64, text string, replyMarkup any) {
	params := &tgbot.SendMessageParams{
		ChatID:    chatID,
		Text:      tgbot.EscapeMarkdown(text),
		ParseMode: models.ParseModeMarkdown,
	}
	if replyMarkup != nil {
		params.ReplyMarkup = replyMarkup
	}

	if _, err := b.api.SendMessage(ctx, params); err != nil {
		b.logger.Error("send message failed", "chat_id", chatID, "error", err)
	}
}

// commandArgs returns the text after cmd, allowing a "@botname" suffix.
// It reports false when text is a longer command that merely starts with cmd.
func commandArgs(text, cmd string) (string, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(text), cmd)
	if !ok {
		return "", false
	}
	if strings.HasPrefix(rest, "@") {
		_, rest, _ = strings.Cut(rest, " ")
		return strings.TrimSpace(rest), true
	}
	if rest != "" && rest[0] != ' ' && rest[0] != '\n' {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

func chunk(items []string, perRow int) [][]string {
	rows := make([][]string, 0, (len(items)+perRow-1)/perRow)
	for i := 0; i < len(items); i += perRow {
		end := i + perRow
		if end > len(items) {
			end = len(items)
		}
		rows = append(rows, items[i:end])
	}
	return rows
}
