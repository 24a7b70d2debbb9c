package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"sensor-gateway/internal/config"
	"sensor-gateway/internal/dispatch"
	"sensor-gateway/internal/logging"
	"sensor-gateway/internal/router"
)

// Telegram bridges the chat platform: it feeds inbound commands to the
// router and implements dispatch.Sender for outbound messages. Replies go
// through the dispatcher so rate limiting and ordering apply to them too.
type Telegram struct {
	bot    *bot.Bot
	router *router.Router
	disp   *dispatch.Dispatcher
	logger *logging.Logger
}

func NewTelegram(cfg config.Config, rt *router.Router, logger *logging.Logger) (*Telegram, error) {
	t := &Telegram{router: rt, logger: logger}
	b, err := bot.New(cfg.Telegram.BotToken, bot.WithDefaultHandler(t.handleUpdate))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Telegram bot: %w", err)
	}
	t.bot = b
	return t, nil
}

// SetDispatcher wires the outbound path. The dispatcher is constructed with
// this provider as its Sender, so wiring happens in two steps.
func (t *Telegram) SetDispatcher(d *dispatch.Dispatcher) {
	t.disp = d
}

// Run long-polls for updates until ctx is cancelled.
func (t *Telegram) Run(ctx context.Context) {
	t.logger.Infof("Telegram bot started")
	t.bot.Start(ctx)
	t.logger.Infof("Telegram bot stopped")
}

// Send implements dispatch.Sender. Transport-level failures are transient;
// rejections like a blocked bot are permanent.
func (t *Telegram) Send(ctx context.Context, chatID int64, text string) error {
	_, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "Markdown",
	})
	if err == nil {
		return nil
	}
	if isPermanent(err) {
		return fmt.Errorf("telegram rejected message to chat %d: %w", chatID, err)
	}
	return &dispatch.TransientError{Err: err}
}

func (t *Telegram) handleUpdate(ctx context.Context, _ *bot.Bot, update *tgmodels.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}
	chatID := update.Message.Chat.ID
	cmd, err := router.Parse(update.Message.Text, chatID)
	var reply string
	if err != nil {
		reply = fmt.Sprintf("%v\n\n%s", err, router.Help())
	} else {
		reply = t.router.Handle(ctx, cmd)
	}
	// Direct replies carry no dedup key; every command gets an answer.
	t.disp.Send(chatID, reply, "")
}

func isPermanent(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "forbidden") ||
		strings.Contains(msg, "chat not found") ||
		strings.Contains(msg, "bot was blocked")
}
