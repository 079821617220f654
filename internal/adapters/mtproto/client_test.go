package mtproto

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"

	"ride-match-bot/internal/domain"
)

type fakeAPI struct {
	dialogs      tg.MessagesDialogsClass
	full         map[int64]*tg.MessagesChatFull
	participants map[int64][]tg.UserClass
	history      map[string]tg.MessagesMessagesClass
}

func (f *fakeAPI) MessagesGetDialogs(context.Context, *tg.MessagesGetDialogsRequest) (tg.MessagesDialogsClass, error) {
	return f.dialogs, nil
}

func (f *fakeAPI) MessagesGetFullChat(_ context.Context, chatID int64) (*tg.MessagesChatFull, error) {
	if full, ok := f.full[chatID]; ok {
		return full, nil
	}
	return nil, errors.New("CHAT_ID_INVALID")
}

func (f *fakeAPI) ChannelsGetParticipants(_ context.Context, req *tg.ChannelsGetParticipantsRequest) (tg.ChannelsChannelParticipantsClass, error) {
	ch := req.Channel.(*tg.InputChannel)
	users := f.participants[ch.ChannelID]
	if req.Offset >= len(users) {
		return &tg.ChannelsChannelParticipants{Count: len(users)}, nil
	}
	parts := make([]tg.ChannelParticipantClass, len(users))
	for i := range parts {
		parts[i] = &tg.ChannelParticipant{}
	}
	return &tg.ChannelsChannelParticipants{Count: len(users), Participants: parts, Users: users}, nil
}

func (f *fakeAPI) MessagesGetHistory(_ context.Context, req *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error) {
	switch p := req.Peer.(type) {
	case *tg.InputPeerChannel:
		return f.history[ChannelGroupID(p.ChannelID)], nil
	case *tg.InputPeerChat:
		return f.history[ChatGroupID(p.ChatID)], nil
	}
	return &tg.MessagesMessages{}, nil
}

func newTestClient(api API) *Client {
	return &Client{
		run: func(ctx context.Context, f func(ctx context.Context, api API) error) error {
			return f(ctx, api)
		},
		logger: zerolog.Nop(),
	}
}

func fixtureAPI(now time.Time) *fakeAPI {
	return &fakeAPI{
		dialogs: &tg.MessagesDialogs{Chats: []tg.ChatClass{
			&tg.Channel{ID: 555, AccessHash: 9, Title: "Aggie Rides", Megagroup: true},
			&tg.Channel{ID: 777, Title: "News", Broadcast: true},
			&tg.Chat{ID: 42, Title: "Carpool"},
		}},
		full: map[int64]*tg.MessagesChatFull{
			42: {Users: []tg.UserClass{&tg.User{ID: 3, FirstName: "Lee", Phone: "15550003333"}}},
		},
		participants: map[int64][]tg.UserClass{
			555: {
				&tg.User{ID: 1, FirstName: "Ann", Phone: "19795550101"},
				&tg.User{ID: 2, FirstName: "Hidden"},
				&tg.User{ID: 9, Bot: true, Phone: "10000000000"},
			},
		},
		history: map[string]tg.MessagesMessagesClass{
			"-100555": &tg.MessagesChannelMessages{
				Messages: []tg.MessageClass{
					&tg.Message{ID: 11, Date: int(now.Add(-time.Hour).Unix()), Message: "driving to Dallas friday", FromID: &tg.PeerUser{UserID: 1}},
					&tg.Message{ID: 10, Date: int(now.Add(-2 * time.Hour).Unix()), Message: "need a ride to IAH", FromID: &tg.PeerUser{UserID: 2}},
					&tg.Message{ID: 9, Date: int(now.Add(-72 * time.Hour).Unix()), Message: "old message", FromID: &tg.PeerUser{UserID: 2}},
					&tg.MessageService{ID: 8},
				},
				Users: []tg.UserClass{&tg.User{ID: 1, FirstName: "Ann", LastName: "Lee"}, &tg.User{ID: 2, Username: "hidden"}},
			},
		},
	}
}

func TestFetchRoster(t *testing.T) {
	c := newTestClient(fixtureAPI(time.Now()))
	rosters, err := c.FetchRoster(context.Background())
	if err != nil {
		t.Fatalf("roster: %v", err)
	}
	if len(rosters) != 2 {
		t.Fatalf("ожидали 2 группы (канал-рассылка пропущен), получили %d", len(rosters))
	}
	sg := rosters[0]
	if sg.Group.ID != "-100555" || sg.Group.Name != "Aggie Rides" {
		t.Fatalf("неверная супергруппа: %+v", sg.Group)
	}
	if len(sg.Members) != 1 || sg.Members[0] != (domain.ContactIdentity{EphemeralID: "tg:1", StableID: "+19795550101"}) {
		t.Fatalf("неверные пары: %+v", sg.Members)
	}
	if rosters[1].Group.ID != "-42" || len(rosters[1].Members) != 1 {
		t.Fatalf("неверная обычная группа: %+v", rosters[1])
	}
}

func TestFetchHistoryWindowAndOrder(t *testing.T) {
	now := time.Now()
	c := newTestClient(fixtureAPI(now))
	msgs, err := c.FetchHistory(context.Background(), []domain.Group{{ID: "-100555"}}, now.Add(-24*time.Hour), 50)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("ожидали 2 сообщения в окне, получили %d", len(msgs))
	}
	if msgs[0].MessageID != "-100555:10" || msgs[1].MessageID != "-100555:11" {
		t.Fatalf("ожидали порядок от старых к новым: %s, %s", msgs[0].MessageID, msgs[1].MessageID)
	}
	if msgs[1].SenderIdentity != "tg:1" || msgs[1].SenderDisplayName != "Ann Lee" || msgs[0].SenderDisplayName != "hidden" {
		t.Fatalf("неверные отправители: %+v", msgs)
	}
	if msgs[0].GroupTitle != "Aggie Rides" {
		t.Fatalf("нет названия группы")
	}
}

func TestFetchHistoryPropagatesRunError(t *testing.T) {
	c := &Client{
		run: func(context.Context, func(context.Context, API) error) error {
			return ErrUnauthorized
		},
		logger: zerolog.Nop(),
	}
	if _, err := c.FetchHistory(context.Background(), nil, time.Time{}, 10); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("ожидали ErrUnauthorized, получили %v", err)
	}
}
