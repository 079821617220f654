package requests

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"ride-match-bot/internal/adapters/repo"
	"ride-match-bot/internal/domain"
	"ride-match-bot/internal/usecase/location"
)

func rideCandidate(contact, dest, date string) Candidate {
	p := domain.ParsedRequest{
		Type:        domain.RequestNeed,
		Category:    domain.CategoryRide,
		Destination: dest,
		Origin:      "College Station",
		TimeFuzzy:   true,
	}
	if date != "" {
		p.Date = domain.DatePtr(date)
	}
	return Candidate{Parsed: p, SourceContact: contact, SourceGroup: "Aggie Rides", RawMessage: "need ride"}
}

func TestContentHashIgnoresTime(t *testing.T) {
	d := domain.DatePtr("2025-03-01")
	a := ContentHash("+1555", domain.RequestNeed, "ride", "Houston IAH", d)
	b := ContentHash("+1555", domain.RequestNeed, "ride", "houston iah", d)
	if a != b || len(a) != 16 {
		t.Fatalf("отпечаток должен игнорировать регистр назначения: %s %s", a, b)
	}
	if a == ContentHash("+1555", domain.RequestOffer, "ride", "Houston IAH", d) {
		t.Fatalf("тип заявки должен входить в отпечаток")
	}
	if a == ContentHash("+1555", domain.RequestNeed, "ride", "Houston IAH", nil) {
		t.Fatalf("дата должна входить в отпечаток")
	}
}

func TestSaveContentDedup(t *testing.T) {
	ctx := context.Background()
	store := repo.NewMemory()
	g := NewGateway(store, location.New(), zerolog.Nop())

	first := g.Save(ctx, rideCandidate("+15550001111", "IAH", "2025-03-01"))
	if first == nil {
		t.Fatalf("первая заявка должна сохраниться")
	}
	if first.Destination != "Houston IAH" || first.Status != domain.StatusOpen {
		t.Fatalf("неожиданная заявка: %+v", first)
	}
	c := rideCandidate("+15550001111", "houston airport", "2025-03-01")
	c.Parsed.Time = "5pm"
	c.Parsed.TimeFuzzy = false
	if dup := g.Save(ctx, c); dup != nil {
		t.Fatalf("уточнение времени не должно создавать новую заявку")
	}
	stats, _ := store.Stats(ctx)
	if stats.Total != 1 {
		t.Fatalf("ожидали одну заявку, получили %d", stats.Total)
	}
}

func TestSaveAfterMatchAllowsRepeat(t *testing.T) {
	ctx := context.Background()
	store := repo.NewMemory()
	g := NewGateway(store, nil, zerolog.Nop())

	need := g.Save(ctx, rideCandidate("+15550001111", "Austin", "2025-03-01"))
	offerCand := rideCandidate("+15550002222", "Austin", "2025-03-01")
	offerCand.Parsed.Type = domain.RequestOffer
	offer := g.Save(ctx, offerCand)
	if need == nil || offer == nil {
		t.Fatalf("обе заявки должны сохраниться")
	}
	if _, err := store.CreateMatch(ctx, domain.Match{ID: "m", NeedID: need.ID, OfferID: offer.ID, Score: 1, Quality: domain.QualityMedium}); err != nil {
		t.Fatalf("матч: %v", err)
	}
	if again := g.Save(ctx, rideCandidate("+15550001111", "Austin", "2025-03-01")); again == nil {
		t.Fatalf("после матча повторная заявка должна приниматься")
	}
}

type failingRepo struct {
	domain.RequestRepo
}

func (failingRepo) FindOpenByHash(context.Context, string) (domain.Request, error) {
	return domain.Request{}, errors.New("connection refused")
}

func TestSaveStoreFailureReturnsNil(t *testing.T) {
	g := NewGateway(failingRepo{}, nil, zerolog.Nop())
	if got := g.Save(context.Background(), rideCandidate("+1", "Austin", "")); got != nil {
		t.Fatalf("ошибка хранилища должна давать nil")
	}
}

func TestSaveDefaultsCategory(t *testing.T) {
	store := repo.NewMemory()
	g := NewGateway(store, nil, zerolog.Nop())
	c := rideCandidate("+1", "Dallas", "")
	c.Parsed.Category = ""
	got := g.Save(context.Background(), c)
	if got == nil || got.Category != domain.CategoryRide {
		t.Fatalf("ожидали категорию ride, получили %+v", got)
	}
}
