package channels

import (
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/basket/go-concierge/internal/bus"
)

// TelegramAlerter pushes escalations and terminal job failures to an
// operator chat. Alerts are best-effort: a Telegram outage must never block
// message processing.
type TelegramAlerter struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *slog.Logger
}

// NewTelegramAlerter connects the operator alert bot.
func NewTelegramAlerter(token string, chatID int64, logger *slog.Logger) (*TelegramAlerter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot: %w", err)
	}
	return &TelegramAlerter{
		bot:    bot,
		chatID: chatID,
		logger: logger.With("component", "telegram_alerter"),
	}, nil
}

// Watch consumes bus events until the subscription closes. Run it in its
// own goroutine and unsubscribe on shutdown.
func (a *TelegramAlerter) Watch(sub *bus.Subscription) {
	for ev := range sub.Ch() {
		var text string
		switch payload := ev.Payload.(type) {
		case bus.EscalationEvent:
			text = fmt.Sprintf("Escalation: tenant %s conversation %s -> %s (%s)",
				payload.TenantID, payload.ConversationID, payload.NextStage, payload.Reason)
		case bus.JobFailedEvent:
			if !payload.Terminal {
				continue
			}
			text = fmt.Sprintf("Job dead: %s (%s) tenant %s: %s",
				payload.JobID, payload.JobType, payload.TenantID, payload.Error)
		default:
			continue
		}
		a.notify(text)
	}
}

func (a *TelegramAlerter) notify(text string) {
	if _, err := a.bot.Send(tgbotapi.NewMessage(a.chatID, text)); err != nil {
		a.logger.Warn("operator alert failed", "error", err.Error())
	}
}
