package matcher

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"ride-match-bot/internal/adapters/repo"
	"ride-match-bot/internal/domain"
	"ride-match-bot/internal/usecase/location"
)

func parsed(date string, dateFuzzy, timeFuzzy bool, possible ...string) domain.ParsedRequest {
	p := domain.ParsedRequest{Category: domain.CategoryRide, DateFuzzy: dateFuzzy, TimeFuzzy: timeFuzzy}
	if date != "" {
		p.Date = domain.DatePtr(date)
	}
	for _, d := range possible {
		p.PossibleDates = append(p.PossibleDates, domain.MustDate(d))
	}
	return p
}

func TestComputeQuality(t *testing.T) {
	cases := []struct {
		name  string
		need  domain.ParsedRequest
		offer domain.ParsedRequest
		want  domain.QualityTier
	}{
		{"same date confirmed times", parsed("2025-03-01", false, false), parsed("2025-03-01", false, false), domain.QualityStrong},
		{"offer time fuzzy", parsed("2025-03-01", false, false), parsed("2025-03-01", false, true), domain.QualityMedium},
		{"one day apart", parsed("2025-03-02", false, false), parsed("2025-03-01", false, false), domain.QualityLow},
		{"three days apart", parsed("2025-03-04", false, false), parsed("2025-03-01", false, false), domain.QualityLow},
		{"fuzzy overlap", parsed("2025-03-01", true, false, "2025-03-01", "2025-03-02"), parsed("2025-03-01", false, false), domain.QualityLow},
		{"both dates absent", parsed("", false, false), parsed("", false, false), domain.QualityStrong},
		{"both absent time fuzzy", parsed("", false, true), parsed("", false, false), domain.QualityMedium},
		{"one date absent", parsed("2025-03-01", false, false), parsed("", false, false), domain.QualityLow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ComputeQuality(tc.need, tc.offer); got != tc.want {
				t.Fatalf("ComputeQuality = %s, ожидали %s", got, tc.want)
			}
			if again := ComputeQuality(tc.need, tc.offer); again != ComputeQuality(tc.need, tc.offer) {
				t.Fatalf("функция должна быть детерминированной")
			}
		})
	}
}

func request(id string, typ domain.RequestType, origin, dest, date string) domain.Request {
	r := domain.Request{ID: id, Status: domain.StatusOpen}
	r.ParsedRequest = parsed(date, false, true)
	r.Type = typ
	r.Origin = origin
	r.Destination = dest
	return r
}

func TestScore(t *testing.T) {
	n := location.New()
	cases := []struct {
		name string
		a, b domain.Request
		want float64
	}{
		{"same everything", request("a", domain.RequestNeed, "CS", "IAH", "2025-03-01"), request("b", domain.RequestOffer, "College Station", "Houston IAH", "2025-03-01"), 1.0},
		{"one day apart", request("a", domain.RequestNeed, "", "Austin", "2025-03-01"), request("b", domain.RequestOffer, "", "Austin", "2025-03-02"), 0.8},
		{"one day apart same origin", request("a", domain.RequestNeed, "cs", "Austin", "2025-03-01"), request("b", domain.RequestOffer, "cs", "Austin", "2025-03-02"), 0.88},
		{"far dates", request("a", domain.RequestNeed, "", "Austin", "2025-03-01"), request("b", domain.RequestOffer, "", "Austin", "2025-03-05"), 0.5},
		{"other destination", request("a", domain.RequestNeed, "", "Austin", "2025-03-01"), request("b", domain.RequestOffer, "", "Dallas", "2025-03-01"), 0.6},
		{"no dates", request("a", domain.RequestNeed, "", "Austin", ""), request("b", domain.RequestOffer, "", "Austin", "2025-03-01"), 1.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Score(tc.a, tc.b, n)
			if diff := got - tc.want; diff > 1e-9 || diff < -1e-9 {
				t.Fatalf("Score = %v, ожидали %v", got, tc.want)
			}
		})
	}
}

func TestProcessCreatesSingleMatchAndFlipsStatus(t *testing.T) {
	ctx := context.Background()
	store := repo.NewMemory()
	need, _ := store.InsertRequest(ctx, withHash(request("need", domain.RequestNeed, "College Station", "Houston IAH", "2025-03-07"), "h1"))
	offer, _ := store.InsertRequest(ctx, withHash(request("offer", domain.RequestOffer, "College Station", "Houston IAH", "2025-03-07"), "h2"))

	m := New(store, store, location.New(), zerolog.Nop())
	got := m.Process(ctx, offer)
	if len(got) != 1 {
		t.Fatalf("ожидали один матч, получили %d", len(got))
	}
	if got[0].Match.NeedID != need.ID || got[0].Match.OfferID != offer.ID {
		t.Fatalf("стороны перепутаны: %+v", got[0].Match)
	}
	if got[0].Match.Quality != domain.QualityMedium || got[0].Match.Score != 1.0 {
		t.Fatalf("неожиданный матч: %+v", got[0].Match)
	}

	if again := m.Process(ctx, need); len(again) != 0 {
		t.Fatalf("повторная обработка не должна создавать матчей")
	}
	if _, err := store.CreateMatch(ctx, domain.Match{ID: "x", NeedID: need.ID, OfferID: offer.ID}); !errors.Is(err, domain.ErrMatchExists) {
		t.Fatalf("пара должна быть уникальной, получили %v", err)
	}
	matches, _ := store.ListMatches(ctx, domain.MatchFilter{})
	if len(matches) != 1 {
		t.Fatalf("ожидали одну строку матча, получили %d", len(matches))
	}
	reqs, _ := store.GetRequests(ctx, []string{need.ID, offer.ID})
	for _, r := range reqs {
		if r.Status != domain.StatusMatched {
			t.Fatalf("заявка %s не закрыта", r.ID)
		}
	}
}

func TestCandidateQueryWindow(t *testing.T) {
	m := New(nil, nil, nil, zerolog.Nop())
	q := m.CandidateQuery(request("a", domain.RequestNeed, "", "iah", "2025-03-01"))
	if q.Type != domain.RequestOffer || q.Destination != "Houston IAH" || q.ExcludeID != "a" {
		t.Fatalf("неожиданный запрос: %+v", q)
	}
	if domain.FormatDate(q.DateFrom) != "2025-02-28" || domain.FormatDate(q.DateTo) != "2025-03-02" {
		t.Fatalf("неверное окно дат: %s..%s", domain.FormatDate(q.DateFrom), domain.FormatDate(q.DateTo))
	}
	open := m.CandidateQuery(request("b", domain.RequestOffer, "", "Austin", ""))
	if open.DateFrom != nil || open.DateTo != nil {
		t.Fatalf("без даты окно должно быть открытым")
	}
}

type brokenMatches struct {
	domain.MatchRepo
	calls int
}

func (b *brokenMatches) CreateMatch(context.Context, domain.Match) (domain.Match, error) {
	b.calls++
	return domain.Match{}, errors.New("timeout")
}

func TestProcessSkipsFailedCandidates(t *testing.T) {
	ctx := context.Background()
	store := repo.NewMemory()
	_, _ = store.InsertRequest(ctx, withHash(request("o1", domain.RequestOffer, "", "Austin", ""), "h1"))
	_, _ = store.InsertRequest(ctx, withHash(request("o2", domain.RequestOffer, "", "Austin", ""), "h2"))
	need, _ := store.InsertRequest(ctx, withHash(request("n", domain.RequestNeed, "", "Austin", ""), "h3"))

	broken := &brokenMatches{}
	m := New(store, broken, nil, zerolog.Nop())
	if got := m.Process(ctx, need); len(got) != 0 {
		t.Fatalf("при ошибках хранилища матчей быть не должно")
	}
	if broken.calls != 2 {
		t.Fatalf("ожидали попытку для каждого кандидата, получили %d", broken.calls)
	}
}

func withHash(r domain.Request, hash string) domain.Request {
	r.ContentHash = hash
	return r
}
