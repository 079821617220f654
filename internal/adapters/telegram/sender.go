package telegram

import (
	"context"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"ride-match-bot/internal/domain"
	"ride-match-bot/internal/infra/metrics"
)

type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Sender отправляет текст через Bot API, разбивая длинные сообщения.
type Sender struct {
	bot botAPI
}

var _ domain.Sender = (*Sender)(nil)

// NewSender создаёт отправителя.
func NewSender(bot botAPI) *Sender {
	return &Sender{bot: bot}
}

// Send отправляет текст частями; первая же ошибка прерывает отправку.
func (s *Sender) Send(ctx context.Context, chatID int64, text string) error {
	for _, part := range SplitMessage(text) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(chatID, part)
		msg.DisableWebPagePreview = true
		start := time.Now()
		_, err := s.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(chatID, 10), start, err)
		if err != nil {
			metrics.BotSendErrors.Inc()
			return fmt.Errorf("telegram: send: %w", err)
		}
	}
	return nil
}
