package intake

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ride-match-bot/internal/adapters/repo"
	"ride-match-bot/internal/domain"
	"ride-match-bot/internal/infra/cache"
	"ride-match-bot/internal/usecase/identity"
	"ride-match-bot/internal/usecase/location"
	"ride-match-bot/internal/usecase/matcher"
	"ride-match-bot/internal/usecase/requests"
)

type extractorStub struct {
	mu      sync.Mutex
	calls   int
	results map[string]domain.Extraction
	err     error
}

func (e *extractorStub) Extract(_ context.Context, body, _ string, _ time.Time) (domain.Extraction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return domain.Extraction{}, e.err
	}
	if res, ok := e.results[body]; ok {
		return res, nil
	}
	return domain.NotARequest(nil), nil
}

type notifierStub struct {
	got []domain.MatchDetails
}

func (n *notifierStub) NotifyMatches(_ context.Context, m []domain.MatchDetails) {
	n.got = append(n.got, m...)
}

type env struct {
	store     *repo.Memory
	extractor *extractorStub
	notifier  *notifierStub
	resolver  *identity.Resolver
	pipeline  *Pipeline
}

func newEnv() *env {
	store := repo.NewMemory()
	n := location.New()
	ex := &extractorStub{results: map[string]domain.Extraction{}}
	notifier := &notifierStub{}
	resolver := identity.NewResolver(store, nil, nil, zerolog.Nop())
	p := NewPipeline(Deps{
		Seen:      cache.NewBounded[string, struct{}](100),
		Audit:     store,
		Identity:  resolver,
		Extractor: ex,
		Gateway:   requests.NewGateway(store, n, zerolog.Nop()),
		Matcher:   matcher.New(store, store, n, zerolog.Nop()),
		Notifier:  notifier,
		Logger:    zerolog.Nop(),
	})
	return &env{store: store, extractor: ex, notifier: notifier, resolver: resolver, pipeline: p}
}

func ride(typ domain.RequestType, dest, date string) domain.Extraction {
	p := domain.NewParsedRequest(domain.ParsedRequest{
		Type:        typ,
		Category:    domain.CategoryRide,
		Date:        domain.DatePtr(date),
		TimeFuzzy:   true,
		Origin:      "College Station",
		Destination: dest,
	})
	return domain.Extraction{Request: &p, Raw: []byte(`{"is_request":true}`)}
}

func message(id, sender, body string) domain.RawMessage {
	return domain.RawMessage{
		MessageID:         id,
		GroupID:           "-100",
		GroupTitle:        "Aggie Rides",
		SenderIdentity:    sender,
		SenderDisplayName: "Sam",
		Body:              body,
		Timestamp:         time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC),
	}
}

func TestIngestIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	e.extractor.results["need ride to Austin"] = ride(domain.RequestNeed, "Austin", "2025-03-07")

	msg := message("-100:1", "+15550001111", "need ride to Austin")
	if got := e.pipeline.Ingest(ctx, msg); got != OutcomeSaved {
		t.Fatalf("первый вызов: %s", got)
	}
	if got := e.pipeline.Ingest(ctx, msg); got != OutcomeDuplicate {
		t.Fatalf("второй вызов: %s", got)
	}
	if len(e.store.AuditEntries()) != 1 {
		t.Fatalf("ожидали одну строку журнала, получили %d", len(e.store.AuditEntries()))
	}
	stats, _ := e.store.Stats(ctx)
	if stats.Total != 1 {
		t.Fatalf("ожидали одну заявку, получили %d", stats.Total)
	}
	if e.extractor.calls != 1 {
		t.Fatalf("экстрактор вызван %d раз", e.extractor.calls)
	}
}

func TestIngestDedupAcrossRestartViaAuditLog(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	msg := message("-100:2", "+15550001111", "hello everyone")
	e.pipeline.Ingest(ctx, msg)

	restarted := NewPipeline(Deps{
		Audit:     e.store,
		Extractor: e.extractor,
		Gateway:   requests.NewGateway(e.store, nil, zerolog.Nop()),
		Matcher:   matcher.New(e.store, e.store, nil, zerolog.Nop()),
		Logger:    zerolog.Nop(),
	})
	if got := restarted.Ingest(ctx, msg); got != OutcomeDuplicate {
		t.Fatalf("после перезапуска ожидали duplicate, получили %s", got)
	}
}

func TestIngestShortBody(t *testing.T) {
	e := newEnv()
	if got := e.pipeline.Ingest(context.Background(), message("-100:3", "+1", " ok ")); got != OutcomeTooShort {
		t.Fatalf("ожидали too_short, получили %s", got)
	}
	if e.extractor.calls != 0 || len(e.store.AuditEntries()) != 0 {
		t.Fatalf("короткие сообщения не должны доходить до экстрактора")
	}
}

func TestIngestExtractorFailureStillAudited(t *testing.T) {
	e := newEnv()
	e.extractor.err = errors.New("llm timeout")
	if got := e.pipeline.Ingest(context.Background(), message("-100:4", "+1", "need a ride tomorrow")); got != OutcomeExtractFailed {
		t.Fatalf("ожидали extract_failed, получили %s", got)
	}
	entries := e.store.AuditEntries()
	if len(entries) != 1 || entries[0].Error == "" || entries[0].IsRequest {
		t.Fatalf("ошибка должна попасть в журнал: %+v", entries)
	}
}

func TestIngestResolvesEphemeralSender(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	e.resolver.Record(ctx, domain.ContactIdentity{EphemeralID: "tg:9", StableID: "+15550009999"})
	e.extractor.results["need ride to Dallas"] = ride(domain.RequestNeed, "Dallas", "2025-03-07")

	e.pipeline.Ingest(ctx, message("-100:5", "tg:9", "need ride to Dallas"))
	entries := e.store.AuditEntries()
	if entries[0].SourceContact != "+15550009999" {
		t.Fatalf("ожидали стабильный номер в журнале, получили %s", entries[0].SourceContact)
	}
}

func TestIngestHoustonScenario(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	e.extractor.results["need ride to Houston IAH Friday"] = ride(domain.RequestNeed, "Houston IAH", "2025-03-07")
	e.extractor.results["driving to Houston airport Friday, 2 seats"] = ride(domain.RequestOffer, "Houston airport", "2025-03-07")

	if got := e.pipeline.Ingest(ctx, message("-100:10", "+15550000001", "need ride to Houston IAH Friday")); got != OutcomeSaved {
		t.Fatalf("потребность: %s", got)
	}
	if got := e.pipeline.Ingest(ctx, message("-100:11", "+15550000002", "driving to Houston airport Friday, 2 seats")); got != OutcomeMatched {
		t.Fatalf("предложение: %s", got)
	}

	matches, _ := e.store.ListMatches(ctx, domain.MatchFilter{})
	if len(matches) != 1 {
		t.Fatalf("ожидали один матч, получили %d", len(matches))
	}
	m := matches[0]
	if m.Score != 1.0 || m.Quality != domain.QualityMedium {
		t.Fatalf("ожидали score 1.0 и medium, получили %v %s", m.Score, m.Quality)
	}
	reqs, _ := e.store.GetRequests(ctx, []string{m.NeedID, m.OfferID})
	if len(reqs) != 2 {
		t.Fatalf("ожидали две заявки")
	}
	for _, r := range reqs {
		if r.Destination != "Houston IAH" || r.Status != domain.StatusMatched {
			t.Fatalf("неожиданная заявка: %s %s", r.Destination, r.Status)
		}
	}
	if len(e.notifier.got) != 1 {
		t.Fatalf("ожидали одно уведомление, получили %d", len(e.notifier.got))
	}
}
