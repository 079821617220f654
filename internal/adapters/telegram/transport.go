package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"ride-match-bot/internal/domain"
)

// ErrUpdatesClosed возвращается, если Bot API закрыл канал обновлений.
var ErrUpdatesClosed = errors.New("telegram: канал обновлений закрыт")

// CommandHandler обрабатывает команды из личных чатов.
type CommandHandler interface {
	HandleCommand(ctx context.Context, chatID, userID int64, text string)
}

type updatesAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Transport получает сообщения групп через long polling Bot API.
type Transport struct {
	bot      updatesAPI
	commands CommandHandler
	timeout  int
	logger   zerolog.Logger
}

var _ domain.Transport = (*Transport)(nil)

// NewTransport создаёт транспорт; commands может быть nil.
func NewTransport(bot updatesAPI, commands CommandHandler, logger zerolog.Logger) *Transport {
	return &Transport{bot: bot, commands: commands, timeout: 60, logger: logger}
}

// Run читает обновления до отмены контекста или закрытия канала.
func (t *Transport) Run(ctx context.Context, sink domain.EventSink) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = t.timeout
	cfg.AllowedUpdates = []string{"message", "edited_message"}
	updates := t.bot.GetUpdatesChan(cfg)
	defer t.bot.StopReceivingUpdates()

	sink.OnConnection(ctx, domain.ConnectionEvent{Open: true})
	for {
		select {
		case <-ctx.Done():
			sink.OnConnection(ctx, domain.ConnectionEvent{Open: false, Reason: "shutdown"})
			return nil
		case upd, ok := <-updates:
			if !ok {
				return ErrUpdatesClosed
			}
			t.Dispatch(ctx, sink, upd)
		}
	}
}

// Dispatch раскладывает одно обновление по событиям.
func (t *Transport) Dispatch(ctx context.Context, sink domain.EventSink, upd tgbotapi.Update) {
	msg := upd.Message
	if msg == nil {
		return
	}
	if id, ok := ContactIdentity(msg); ok {
		sink.OnIdentities(ctx, []domain.ContactIdentity{id})
		return
	}
	if msg.Chat != nil && msg.Chat.IsPrivate() {
		if t.commands != nil && msg.From != nil && strings.HasPrefix(strings.TrimSpace(msg.Text), "/") {
			t.commands.HandleCommand(ctx, msg.Chat.ID, msg.From.ID, msg.Text)
		}
		return
	}
	raw, ok := ToRawMessage(msg)
	if !ok {
		return
	}
	sink.OnMessages(ctx, []domain.RawMessage{raw}, false)
}

// ToRawMessage переводит сообщение группы во входное сообщение конвейера.
func ToRawMessage(msg *tgbotapi.Message) (domain.RawMessage, bool) {
	if msg == nil || msg.Chat == nil || !(msg.Chat.IsGroup() || msg.Chat.IsSuperGroup()) {
		return domain.RawMessage{}, false
	}
	body := msg.Text
	if body == "" {
		body = msg.Caption
	}
	if strings.TrimSpace(body) == "" {
		return domain.RawMessage{}, false
	}
	raw := domain.RawMessage{
		MessageID:  fmt.Sprintf("%d:%d", msg.Chat.ID, msg.MessageID),
		GroupID:    fmt.Sprintf("%d", msg.Chat.ID),
		GroupTitle: msg.Chat.Title,
		Body:       body,
		Timestamp:  msg.Time(),
	}
	if msg.From != nil {
		raw.SenderIdentity = UserIdentity(msg.From.ID)
		raw.SenderDisplayName = displayName(msg.From)
	}
	return raw, true
}

// ContactIdentity извлекает пару из присланного контакта.
func ContactIdentity(msg *tgbotapi.Message) (domain.ContactIdentity, bool) {
	if msg == nil || msg.Contact == nil || msg.Contact.UserID == 0 || msg.Contact.PhoneNumber == "" {
		return domain.ContactIdentity{}, false
	}
	return domain.ContactIdentity{
		EphemeralID: UserIdentity(msg.Contact.UserID),
		StableID:    msg.Contact.PhoneNumber,
	}, true
}

// UserIdentity возвращает эфемерный идентификатор пользователя Telegram.
func UserIdentity(userID int64) string {
	return fmt.Sprintf("tg:%d", userID)
}

func displayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name == "" {
		name = u.UserName
	}
	return name
}
