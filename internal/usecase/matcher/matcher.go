package matcher

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ride-match-bot/internal/domain"
	"ride-match-bot/internal/infra/metrics"
	"ride-match-bot/internal/usecase/location"
)

// MinScore задаёт порог: кандидаты с меньшей оценкой отбрасываются.
const MinScore = 0.5

// Matcher ищет встречные заявки и сохраняет матчи.
type Matcher struct {
	requests   domain.RequestRepo
	matches    domain.MatchRepo
	normalizer *location.Normalizer
	logger     zerolog.Logger
	now        func() time.Time
}

// New создаёт матчер.
func New(requests domain.RequestRepo, matches domain.MatchRepo, normalizer *location.Normalizer, logger zerolog.Logger) *Matcher {
	if normalizer == nil {
		normalizer = location.New()
	}
	return &Matcher{requests: requests, matches: matches, normalizer: normalizer, logger: logger, now: time.Now}
}

// CandidateQuery строит запрос встречных заявок для req.
func (m *Matcher) CandidateQuery(req domain.Request) domain.CandidateQuery {
	q := domain.CandidateQuery{
		Type:      req.Type.Opposite(),
		Category:  req.Category,
		ExcludeID: req.ID,
	}
	if req.Category == domain.CategoryRide {
		q.Destination = m.normalizer.Normalize(req.Destination)
	}
	if req.Date != nil {
		from := req.Date.AddDate(0, 0, -1)
		to := req.Date.AddDate(0, 0, 1)
		q.DateFrom, q.DateTo = &from, &to
	}
	return q
}

// Process находит пары для только что сохранённой заявки.
// Ошибка по отдельному кандидату не прерывает цикл.
func (m *Matcher) Process(ctx context.Context, req domain.Request) []domain.MatchDetails {
	log := m.logger.With().Str("request_id", req.ID).Str("type", string(req.Type)).Logger()

	candidates, err := m.requests.FindCandidates(ctx, m.CandidateQuery(req))
	if err != nil {
		log.Error().Err(err).Msg("matcher: не удалось найти кандидатов")
		return nil
	}
	if len(candidates) == 0 {
		log.Debug().Msg("matcher: кандидатов нет")
		return nil
	}
	log.Info().Int("candidates", len(candidates)).Msg("matcher: найдены кандидаты")

	var out []domain.MatchDetails
	for _, cand := range candidates {
		score := Score(req, cand, m.normalizer)
		if score < MinScore {
			continue
		}
		need, offer := req, cand
		if req.Type == domain.RequestOffer {
			need, offer = cand, req
		}
		quality := ComputeQuality(need.ParsedRequest, offer.ParsedRequest)

		saved, err := m.matches.CreateMatch(ctx, domain.Match{
			ID:        uuid.NewString(),
			NeedID:    need.ID,
			OfferID:   offer.ID,
			Score:     score,
			Quality:   quality,
			CreatedAt: m.now().UTC(),
		})
		if errors.Is(err, domain.ErrMatchExists) {
			log.Debug().Str("candidate_id", cand.ID).Msg("matcher: пара уже сопоставлена")
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("candidate_id", cand.ID).Msg("matcher: не удалось сохранить матч")
			continue
		}
		need.Status = domain.StatusMatched
		offer.Status = domain.StatusMatched
		metrics.IncMatch(string(quality))
		log.Info().Str("match_id", saved.ID).Float64("score", score).Str("quality", string(quality)).Msg("matcher: матч создан")
		out = append(out, domain.MatchDetails{Match: saved, Need: need, Offer: offer})
	}
	return out
}

// Score оценивает пару в (0,1]. Дата учитывается, только если она есть у обеих сторон.
func Score(req, cand domain.Request, n *location.Normalizer) float64 {
	score := 1.0
	if req.Date != nil && cand.Date != nil {
		switch domain.DaysApart(*req.Date, *cand.Date) {
		case 0:
		case 1:
			score *= 0.8
		default:
			score *= 0.5
		}
	}
	if req.Category == domain.CategoryRide && req.Destination != "" && cand.Destination != "" {
		if !n.Equal(req.Destination, cand.Destination) {
			score *= 0.6
		}
		if req.Origin != "" && cand.Origin != "" && n.Equal(req.Origin, cand.Origin) {
			score = math.Min(score*1.1, 1.0)
		}
	}
	return score
}

// ComputeQuality оценивает уверенность в дате и времени для пары потребность/предложение.
// Две пустые даты считаются совпадающими.
func ComputeQuality(need, offer domain.ParsedRequest) domain.QualityTier {
	exact := domain.SameDate(need.Date, offer.Date)
	oneDayApart := need.Date != nil && offer.Date != nil && domain.DaysApart(*need.Date, *offer.Date) == 1
	fuzzyOverlap := (need.DateFuzzy && domain.ContainsDate(need.PossibleDates, offer.Date)) ||
		(offer.DateFuzzy && domain.ContainsDate(offer.PossibleDates, need.Date))

	if !exact && !fuzzyOverlap && !oneDayApart {
		return domain.QualityLow
	}
	if exact && !need.DateFuzzy && !offer.DateFuzzy {
		if !need.TimeFuzzy && !offer.TimeFuzzy {
			return domain.QualityStrong
		}
		return domain.QualityMedium
	}
	return domain.QualityLow
}
