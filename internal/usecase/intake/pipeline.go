package intake

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ride-match-bot/internal/domain"
	"ride-match-bot/internal/infra/cache"
	"ride-match-bot/internal/infra/metrics"
	"ride-match-bot/internal/usecase/requests"
)

// MinBodyLength задаёт длину, короче которой сообщения не отправляются экстрактору.
const MinBodyLength = 3

// Outcome описывает результат обработки одного сообщения.
type Outcome string

const (
	OutcomeSkipped          Outcome = "skipped"
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomeTooShort         Outcome = "too_short"
	OutcomeExtractFailed    Outcome = "extract_failed"
	OutcomeNotRequest       Outcome = "not_request"
	OutcomeDuplicateRequest Outcome = "duplicate_request"
	OutcomeSaved            Outcome = "saved"
	OutcomeMatched          Outcome = "matched"
)

// IdentityResolver возвращает стабильный идентификатор отправителя.
type IdentityResolver interface {
	Resolve(ctx context.Context, sender string) string
}

// RequestSaver сохраняет заявку или возвращает nil.
type RequestSaver interface {
	Save(ctx context.Context, c requests.Candidate) *domain.Request
}

// MatchProcessor ищет пары для новой заявки.
type MatchProcessor interface {
	Process(ctx context.Context, req domain.Request) []domain.MatchDetails
}

// MatchNotifier сообщает о новых матчах.
type MatchNotifier interface {
	NotifyMatches(ctx context.Context, matches []domain.MatchDetails)
}

// Deps содержит зависимости конвейера. Shared и Notifier необязательны.
type Deps struct {
	Seen      *cache.Bounded[string, struct{}]
	Shared    domain.SeenCache
	Audit     domain.AuditLog
	Identity  IdentityResolver
	Extractor domain.Extractor
	Gateway   RequestSaver
	Matcher   MatchProcessor
	Notifier  MatchNotifier
	Logger    zerolog.Logger
}

// Pipeline обрабатывает входящие сообщения не более одного раза.
type Pipeline struct {
	seen      *cache.Bounded[string, struct{}]
	shared    domain.SeenCache
	audit     domain.AuditLog
	identity  IdentityResolver
	extractor domain.Extractor
	gateway   RequestSaver
	matcher   MatchProcessor
	notifier  MatchNotifier
	logger    zerolog.Logger
	now       func() time.Time
}

// NewPipeline создаёт конвейер.
func NewPipeline(d Deps) *Pipeline {
	seen := d.Seen
	if seen == nil {
		seen = cache.NewBounded[string, struct{}](10000)
	}
	return &Pipeline{
		seen:      seen,
		shared:    d.Shared,
		audit:     d.Audit,
		identity:  d.Identity,
		extractor: d.Extractor,
		gateway:   d.Gateway,
		matcher:   d.Matcher,
		notifier:  d.Notifier,
		logger:    d.Logger,
		now:       time.Now,
	}
}

// Ingest обрабатывает одно сообщение целиком: дедупликация, извлечение, журнал, сохранение, матчинг.
func (p *Pipeline) Ingest(ctx context.Context, msg domain.RawMessage) Outcome {
	outcome := p.ingest(ctx, msg)
	metrics.IncIngest(string(outcome))
	return outcome
}

func (p *Pipeline) ingest(ctx context.Context, msg domain.RawMessage) Outcome {
	if msg.MessageID == "" {
		return OutcomeSkipped
	}
	if p.alreadyProcessed(ctx, msg.MessageID) {
		return OutcomeDuplicate
	}
	p.seen.Put(msg.MessageID, struct{}{})

	body := strings.TrimSpace(msg.Body)
	if utf8.RuneCountInString(body) < MinBodyLength {
		return OutcomeTooShort
	}

	log := p.logger.With().Str("message_id", msg.MessageID).Str("group", groupLabel(msg)).Logger()

	sender := msg.SenderIdentity
	if p.identity != nil {
		sender = p.identity.Resolve(ctx, sender)
	}
	senderName := strings.TrimSpace(msg.SenderDisplayName)
	if senderName == "" {
		senderName = "Unknown"
	}

	contextDate := msg.Timestamp
	if contextDate.IsZero() {
		contextDate = p.now()
	}
	extraction, extractErr := p.extractor.Extract(ctx, body, senderName, contextDate)
	if extractErr != nil {
		metrics.ExtractorErrors.Inc()
		log.Warn().Err(extractErr).Msg("intake: экстрактор не справился, сообщение считаем не заявкой")
		extraction = domain.NotARequest(nil)
	}

	entry := domain.AuditEntry{
		ID:            uuid.NewString(),
		MessageID:     msg.MessageID,
		SourceGroup:   groupLabel(msg),
		SourceContact: sender,
		SenderName:    senderName,
		Body:          body,
		IsRequest:     extraction.IsRequest(),
		Parsed:        auditPayload(extraction),
		CreatedAt:     p.now().UTC(),
	}
	if extractErr != nil {
		entry.Error = extractErr.Error()
	}
	if err := p.audit.LogMessage(ctx, entry); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			log.Debug().Msg("intake: сообщение уже записано другим процессом")
			return OutcomeDuplicate
		}
		log.Error().Err(err).Msg("intake: не удалось записать журнал")
	}
	if p.shared != nil {
		if err := p.shared.MarkSeen(ctx, msg.MessageID); err != nil {
			log.Warn().Err(err).Msg("intake: не удалось отметить сообщение в общем кэше")
		}
	}

	if extractErr != nil {
		return OutcomeExtractFailed
	}
	if !extraction.IsRequest() {
		return OutcomeNotRequest
	}

	saved := p.gateway.Save(ctx, requests.Candidate{
		Parsed:        *extraction.Request,
		SourceGroup:   groupLabel(msg),
		SourceContact: sender,
		SenderName:    senderName,
		RawMessage:    body,
	})
	if saved == nil {
		return OutcomeDuplicateRequest
	}

	matches := p.matcher.Process(ctx, *saved)
	if len(matches) == 0 {
		return OutcomeSaved
	}
	log.Info().Int("matches", len(matches)).Msg("intake: найдены матчи")
	if p.notifier != nil {
		p.notifier.NotifyMatches(ctx, matches)
	}
	return OutcomeMatched
}

func (p *Pipeline) alreadyProcessed(ctx context.Context, messageID string) bool {
	if p.seen.Has(messageID) {
		return true
	}
	if p.shared != nil {
		seen, err := p.shared.Seen(ctx, messageID)
		if err != nil {
			p.logger.Warn().Err(err).Str("message_id", messageID).Msg("intake: общий кэш недоступен")
		} else if seen {
			return true
		}
	}
	logged, err := p.audit.MessageLogged(ctx, messageID)
	if err != nil {
		p.logger.Warn().Err(err).Str("message_id", messageID).Msg("intake: не удалось проверить журнал")
		return false
	}
	return logged
}

func auditPayload(e domain.Extraction) json.RawMessage {
	if len(e.Raw) > 0 {
		return e.Raw
	}
	if e.Request == nil {
		return json.RawMessage(`{"is_request":false}`)
	}
	return nil
}

func groupLabel(msg domain.RawMessage) string {
	if msg.GroupTitle != "" {
		return msg.GroupTitle
	}
	return msg.GroupID
}
