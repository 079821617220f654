package digest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ride-match-bot/internal/adapters/repo"
	"ride-match-bot/internal/domain"
)

type senderStub struct {
	chatID int64
	texts  []string
	err    error
}

func (s *senderStub) Send(_ context.Context, chatID int64, text string) error {
	if s.err != nil {
		return s.err
	}
	s.chatID = chatID
	s.texts = append(s.texts, text)
	return nil
}

func seed(t *testing.T, store *repo.Memory, id, group string, typ domain.RequestType) {
	t.Helper()
	_, err := store.InsertRequest(context.Background(), domain.Request{
		ID:            id,
		ParsedRequest: domain.ParsedRequest{Type: typ, Category: domain.CategoryRide, Destination: "Austin"},
		SourceGroup:   group,
		SourceContact: "+1979555" + id,
		ContentHash:   "hash-" + id,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func TestSendReviewMarksNotifiedAndSkipsTestGroups(t *testing.T) {
	ctx := context.Background()
	store := repo.NewMemory()
	store.SetGroup(domain.Group{ID: "-1", Name: "Aggie Rides", Active: true})
	store.SetGroup(domain.Group{ID: "-2", Name: "Sandbox", Active: true, IsTest: true})

	seed(t, store, "0001", "-1", domain.RequestNeed)
	seed(t, store, "0002", "Aggie Rides", domain.RequestOffer)
	seed(t, store, "0003", "Sandbox", domain.RequestNeed)
	seed(t, store, "0004", "-1", domain.RequestOffer)

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	if _, err := store.CreateMatch(ctx, domain.Match{ID: "m1", NeedID: "0001", OfferID: "0002", Score: 1, Quality: domain.QualityStrong, CreatedAt: base}); err != nil {
		t.Fatalf("create m1: %v", err)
	}
	if _, err := store.CreateMatch(ctx, domain.Match{ID: "m2", NeedID: "0003", OfferID: "0004", Score: 1, Quality: domain.QualityLow, CreatedAt: base.Add(time.Minute)}); err != nil {
		t.Fatalf("create m2: %v", err)
	}

	sender := &senderStub{}
	svc := NewService(store, store, store, sender, 777, time.UTC, zerolog.Nop())

	pending, err := svc.PendingMatches(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Match.ID != "m1" {
		t.Fatalf("ожидали только m1, получили %+v", pending)
	}
	if pending[0].Need.SourceGroup != "Aggie Rides" {
		t.Fatalf("идентификатор группы не заменён названием: %s", pending[0].Need.SourceGroup)
	}

	res, err := svc.SendReview(ctx)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !res.Sent || res.Matches != 1 || sender.chatID != 777 {
		t.Fatalf("неверный результат: %+v chat=%d", res, sender.chatID)
	}
	if !strings.Contains(sender.texts[0], "Same group: Aggie Rides") {
		t.Fatalf("в дайджесте нет группы: %s", sender.texts[0])
	}

	notified := true
	done, _ := store.ListMatches(ctx, domain.MatchFilter{Notified: &notified})
	if len(done) != 1 || done[0].ID != "m1" {
		t.Fatalf("ожидали отметку только у m1: %+v", done)
	}

	res, err = svc.SendReview(ctx)
	if err != nil || res.Matches != 0 {
		t.Fatalf("повторный дайджест должен быть пустым: %+v %v", res, err)
	}
	if !strings.Contains(sender.texts[1], "All clear") {
		t.Fatalf("ожидали сообщение «всё чисто»: %s", sender.texts[1])
	}
}

func TestSendReviewKeepsMatchesOnSendError(t *testing.T) {
	ctx := context.Background()
	store := repo.NewMemory()
	seed(t, store, "0001", "g", domain.RequestNeed)
	seed(t, store, "0002", "g", domain.RequestOffer)
	if _, err := store.CreateMatch(ctx, domain.Match{ID: "m1", NeedID: "0001", OfferID: "0002", Quality: domain.QualityMedium}); err != nil {
		t.Fatalf("create: %v", err)
	}
	svc := NewService(store, store, nil, &senderStub{err: errors.New("boom")}, 1, nil, zerolog.Nop())
	if _, err := svc.SendReview(ctx); err == nil {
		t.Fatalf("ожидали ошибку отправки")
	}
	notified := false
	open, _ := store.ListMatches(ctx, domain.MatchFilter{Notified: &notified})
	if len(open) != 1 {
		t.Fatalf("матч не должен помечаться при ошибке отправки")
	}
}

func TestSendReviewWithoutRecipient(t *testing.T) {
	svc := NewService(repo.NewMemory(), repo.NewMemory(), nil, nil, 0, nil, zerolog.Nop())
	if _, err := svc.SendReview(context.Background()); !errors.Is(err, ErrNoRecipient) {
		t.Fatalf("ожидали ErrNoRecipient, получили %v", err)
	}
}

func TestAnnouncerSendsToAdmin(t *testing.T) {
	sender := &senderStub{}
	a := NewAnnouncer(sender, 42, zerolog.Nop())
	a.NotifyMatches(context.Background(), []domain.MatchDetails{sampleMatch()})
	if len(sender.texts) != 1 || !strings.HasPrefix(sender.texts[0], "Match Found! [MEDIUM]") {
		t.Fatalf("уведомление не отправлено: %+v", sender.texts)
	}

	silent := &senderStub{}
	NewAnnouncer(silent, 0, zerolog.Nop()).NotifyMatches(context.Background(), []domain.MatchDetails{sampleMatch()})
	if len(silent.texts) != 0 {
		t.Fatalf("без чата администратора отправлять нельзя")
	}
}
