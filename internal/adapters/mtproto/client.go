package mtproto

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"

	"ride-match-bot/internal/domain"
	"ride-match-bot/internal/infra/metrics"
)

// ErrUnauthorized возвращается, если сохранённая сессия не авторизована.
var ErrUnauthorized = errors.New("mtproto: сессия не авторизована, импортируйте её через mtproto-session-importer")

const (
	dialogsLimit      = 100
	participantsPage  = 200
	participantsLimit = 10000
)

// API описывает методы MTProto, которые использует клиент.
type API interface {
	MessagesGetDialogs(ctx context.Context, request *tg.MessagesGetDialogsRequest) (tg.MessagesDialogsClass, error)
	MessagesGetFullChat(ctx context.Context, chatID int64) (*tg.MessagesChatFull, error)
	ChannelsGetParticipants(ctx context.Context, request *tg.ChannelsGetParticipantsRequest) (tg.ChannelsChannelParticipantsClass, error)
	MessagesGetHistory(ctx context.Context, request *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error)
}

type runner func(ctx context.Context, f func(ctx context.Context, api API) error) error

// Client читает состав групп и историю от имени пользовательского аккаунта.
type Client struct {
	run    runner
	logger zerolog.Logger
}

var (
	_ domain.RosterSource  = (*Client)(nil)
	_ domain.HistorySource = (*Client)(nil)
)

// NewClient создаёт клиента gotd; каждое обращение открывает отдельное соединение.
func NewClient(apiID int, apiHash string, storage session.Storage, logger zerolog.Logger) *Client {
	tc := telegram.NewClient(apiID, apiHash, telegram.Options{SessionStorage: storage})
	run := func(ctx context.Context, f func(ctx context.Context, api API) error) error {
		return tc.Run(ctx, func(ctx context.Context) error {
			status, err := tc.Auth().Status(ctx)
			if err != nil {
				return fmt.Errorf("mtproto: auth status: %w", err)
			}
			if !status.Authorized {
				return ErrUnauthorized
			}
			return f(ctx, tc.API())
		})
	}
	return &Client{run: run, logger: logger}
}

type peer struct {
	group domain.Group
	input tg.InputPeerClass
	chat  tg.ChatClass
}

// FetchRoster возвращает группы аккаунта и пары идентификаторов участников с видимым номером.
func (c *Client) FetchRoster(ctx context.Context) ([]domain.GroupRoster, error) {
	var out []domain.GroupRoster
	err := c.run(ctx, func(ctx context.Context, api API) error {
		peers, err := c.dialogs(ctx, api)
		if err != nil {
			return err
		}
		for _, p := range peers {
			users, err := c.participants(ctx, api, p)
			if err != nil {
				c.logger.Warn().Err(err).Str("group", p.group.ID).Msg("mtproto: не удалось получить участников")
				out = append(out, domain.GroupRoster{Group: p.group})
				continue
			}
			out = append(out, domain.GroupRoster{Group: p.group, Members: identities(users)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FetchHistory выгружает не больше limit сообщений на группу, начиная с since.
func (c *Client) FetchHistory(ctx context.Context, groups []domain.Group, since time.Time, limit int) ([]domain.RawMessage, error) {
	want := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		want[g.ID] = struct{}{}
	}
	var out []domain.RawMessage
	err := c.run(ctx, func(ctx context.Context, api API) error {
		peers, err := c.dialogs(ctx, api)
		if err != nil {
			return err
		}
		for _, p := range peers {
			if _, ok := want[p.group.ID]; len(want) > 0 && !ok {
				continue
			}
			msgs, err := c.history(ctx, api, p, since, limit)
			if err != nil {
				c.logger.Warn().Err(err).Str("group", p.group.ID).Msg("mtproto: не удалось получить историю")
				continue
			}
			out = append(out, msgs...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) dialogs(ctx context.Context, api API) ([]peer, error) {
	start := time.Now()
	res, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      dialogsLimit,
	})
	metrics.ObserveNetworkRequest("mtproto", "get_dialogs", "dialogs", start, err)
	if err != nil {
		return nil, fmt.Errorf("mtproto: get dialogs: %w", err)
	}
	var chats []tg.ChatClass
	switch d := res.(type) {
	case *tg.MessagesDialogs:
		chats = d.Chats
	case *tg.MessagesDialogsSlice:
		chats = d.Chats
	}
	var out []peer
	for _, ch := range chats {
		switch v := ch.(type) {
		case *tg.Chat:
			if v.Deactivated {
				continue
			}
			out = append(out, peer{
				group: domain.Group{ID: ChatGroupID(v.ID), Name: v.Title},
				input: &tg.InputPeerChat{ChatID: v.ID},
				chat:  v,
			})
		case *tg.Channel:
			if !v.Megagroup {
				continue
			}
			out = append(out, peer{
				group: domain.Group{ID: ChannelGroupID(v.ID), Name: v.Title},
				input: &tg.InputPeerChannel{ChannelID: v.ID, AccessHash: v.AccessHash},
				chat:  v,
			})
		}
	}
	return out, nil
}

func (c *Client) participants(ctx context.Context, api API, p peer) ([]tg.UserClass, error) {
	switch v := p.chat.(type) {
	case *tg.Chat:
		start := time.Now()
		full, err := api.MessagesGetFullChat(ctx, v.ID)
		metrics.ObserveNetworkRequest("mtproto", "get_full_chat", p.group.ID, start, err)
		if err != nil {
			return nil, fmt.Errorf("mtproto: get full chat: %w", err)
		}
		return full.Users, nil
	case *tg.Channel:
		var users []tg.UserClass
		for offset := 0; offset < participantsLimit; offset += participantsPage {
			start := time.Now()
			res, err := api.ChannelsGetParticipants(ctx, &tg.ChannelsGetParticipantsRequest{
				Channel: &tg.InputChannel{ChannelID: v.ID, AccessHash: v.AccessHash},
				Filter:  &tg.ChannelParticipantsRecent{},
				Offset:  offset,
				Limit:   participantsPage,
			})
			metrics.ObserveNetworkRequest("mtproto", "get_participants", p.group.ID, start, err)
			if err != nil {
				return users, fmt.Errorf("mtproto: get participants: %w", err)
			}
			page, ok := res.(*tg.ChannelsChannelParticipants)
			if !ok || len(page.Participants) == 0 {
				break
			}
			users = append(users, page.Users...)
			if offset+len(page.Participants) >= page.Count {
				break
			}
		}
		return users, nil
	}
	return nil, nil
}

func (c *Client) history(ctx context.Context, api API, p peer, since time.Time, limit int) ([]domain.RawMessage, error) {
	start := time.Now()
	res, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{Peer: p.input, Limit: limit})
	metrics.ObserveNetworkRequest("mtproto", "get_history", p.group.ID, start, err)
	if err != nil {
		return nil, fmt.Errorf("mtproto: get history: %w", err)
	}
	var (
		messages []tg.MessageClass
		users    []tg.UserClass
	)
	switch m := res.(type) {
	case *tg.MessagesMessages:
		messages, users = m.Messages, m.Users
	case *tg.MessagesMessagesSlice:
		messages, users = m.Messages, m.Users
	case *tg.MessagesChannelMessages:
		messages, users = m.Messages, m.Users
	}
	names := make(map[int64]string, len(users))
	for _, u := range users {
		if user, ok := u.(*tg.User); ok {
			names[user.ID] = userName(user)
		}
	}

	out := make([]domain.RawMessage, 0, len(messages))
	// API отдаёт сообщения от новых к старым, конвейеру нужен порядок поступления.
	for i := len(messages) - 1; i >= 0; i-- {
		msg, ok := messages[i].(*tg.Message)
		if !ok || strings.TrimSpace(msg.Message) == "" {
			continue
		}
		ts := time.Unix(int64(msg.Date), 0).UTC()
		if !since.IsZero() && ts.Before(since) {
			continue
		}
		raw := domain.RawMessage{
			MessageID:  p.group.ID + ":" + strconv.Itoa(msg.ID),
			GroupID:    p.group.ID,
			GroupTitle: p.group.Name,
			Body:       msg.Message,
			Timestamp:  ts,
		}
		if from, ok := msg.FromID.(*tg.PeerUser); ok {
			raw.SenderIdentity = UserIdentity(from.UserID)
			raw.SenderDisplayName = names[from.UserID]
		}
		out = append(out, raw)
	}
	return out, nil
}

func identities(users []tg.UserClass) []domain.ContactIdentity {
	var out []domain.ContactIdentity
	for _, u := range users {
		user, ok := u.(*tg.User)
		if !ok || user.Bot || user.Phone == "" {
			continue
		}
		out = append(out, domain.ContactIdentity{
			EphemeralID: UserIdentity(user.ID),
			StableID:    "+" + strings.TrimPrefix(user.Phone, "+"),
		})
	}
	return out
}

func userName(u *tg.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.Username
	}
	return name
}

// UserIdentity совпадает с идентификатором отправителя из Bot API.
func UserIdentity(userID int64) string {
	return "tg:" + strconv.FormatInt(userID, 10)
}

// ChatGroupID возвращает идентификатор обычной группы в формате Bot API.
func ChatGroupID(chatID int64) string {
	return "-" + strconv.FormatInt(chatID, 10)
}

// ChannelGroupID возвращает идентификатор супергруппы в формате Bot API.
func ChannelGroupID(channelID int64) string {
	return "-100" + strconv.FormatInt(channelID, 10)
}
