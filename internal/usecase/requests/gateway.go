package requests

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ride-match-bot/internal/domain"
	"ride-match-bot/internal/infra/metrics"
	"ride-match-bot/internal/usecase/location"
)

// Candidate описывает извлечённую заявку вместе с контекстом сообщения.
type Candidate struct {
	Parsed        domain.ParsedRequest
	SourceGroup   string
	SourceContact string
	SenderName    string
	RawMessage    string
}

// ContentHash считает отпечаток смысловых полей заявки; время и неточные даты не входят.
func ContentHash(sourceContact string, typ domain.RequestType, category, normalizedDestination string, date *time.Time) string {
	parts := strings.Join([]string{
		sourceContact,
		string(typ),
		category,
		strings.ToLower(normalizedDestination),
		domain.FormatDate(date),
	}, "|")
	sum := sha256.Sum256([]byte(parts))
	return hex.EncodeToString(sum[:])[:16]
}

// Gateway проверяет дубликаты и сохраняет заявки.
type Gateway struct {
	repo       domain.RequestRepo
	normalizer *location.Normalizer
	logger     zerolog.Logger
	now        func() time.Time
}

// NewGateway создаёт шлюз.
func NewGateway(repo domain.RequestRepo, normalizer *location.Normalizer, logger zerolog.Logger) *Gateway {
	if normalizer == nil {
		normalizer = location.New()
	}
	return &Gateway{repo: repo, normalizer: normalizer, logger: logger, now: time.Now}
}

// Save сохраняет заявку и возвращает её, либо nil для дубликата и при ошибке хранилища.
func (g *Gateway) Save(ctx context.Context, c Candidate) *domain.Request {
	parsed := domain.NewParsedRequest(c.Parsed)
	parsed.Origin = g.normalizer.Normalize(parsed.Origin)
	parsed.Destination = g.normalizer.Normalize(parsed.Destination)
	if parsed.Category == "" {
		parsed.Category = domain.CategoryRide
	}

	hash := ContentHash(c.SourceContact, parsed.Type, parsed.Category, parsed.Destination, parsed.Date)
	log := g.logger.With().Str("hash", hash).Str("type", string(parsed.Type)).Logger()

	existing, err := g.repo.FindOpenByHash(ctx, hash)
	switch {
	case err == nil:
		metrics.RequestsDuplicate.Inc()
		log.Info().Str("existing_id", existing.ID).Str("existing_group", existing.SourceGroup).Msg("requests: дубликат открытой заявки, пропускаем")
		return nil
	case !errors.Is(err, domain.ErrNotFound):
		log.Error().Err(err).Msg("requests: не удалось проверить дубликат")
		return nil
	}

	req := domain.Request{
		ID:            uuid.NewString(),
		ParsedRequest: parsed,
		SourceGroup:   c.SourceGroup,
		SourceContact: c.SourceContact,
		SenderName:    c.SenderName,
		RawMessage:    c.RawMessage,
		Status:        domain.StatusOpen,
		ContentHash:   hash,
		CreatedAt:     g.now().UTC(),
	}
	saved, err := g.repo.InsertRequest(ctx, req)
	if errors.Is(err, domain.ErrDuplicate) {
		metrics.RequestsDuplicate.Inc()
		log.Info().Msg("requests: дубликат отклонён хранилищем")
		return nil
	}
	if err != nil {
		log.Error().Err(err).Msg("requests: не удалось сохранить заявку")
		return nil
	}
	metrics.RequestsSaved.WithLabelValues(string(saved.Type)).Inc()
	log.Info().Str("id", saved.ID).Str("category", saved.Category).Str("destination", saved.Destination).Msg("requests: заявка сохранена")
	return &saved
}
