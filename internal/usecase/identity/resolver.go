package identity

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ride-match-bot/internal/domain"
	"ride-match-bot/internal/infra/cache"
	"ride-match-bot/internal/infra/metrics"
)

var stablePattern = regexp.MustCompile(`^\+?\d{7,15}$`)

// IsStable сообщает, имеет ли идентификатор форму телефонного номера.
func IsStable(id string) bool {
	return stablePattern.MatchString(id)
}

// NormalizePhone убирает оформление номера; результат пригоден для IsStable.
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out != "" && !strings.HasPrefix(out, "+") {
		out = "+" + out
	}
	return out
}

// Resolver сопоставляет эфемерные идентификаторы отправителей стабильным.
type Resolver struct {
	cache    *cache.Bounded[string, string]
	contacts domain.ContactRepo
	queue    domain.BackfillQueue
	logger   zerolog.Logger
	now      func() time.Time
}

// NewResolver создаёт резолвер. queue может быть nil, тогда исторические строки не переписываются.
func NewResolver(contacts domain.ContactRepo, queue domain.BackfillQueue, c *cache.Bounded[string, string], logger zerolog.Logger) *Resolver {
	if c == nil {
		c = cache.NewBounded[string, string](10000)
	}
	return &Resolver{cache: c, contacts: contacts, queue: queue, logger: logger, now: time.Now}
}

// Resolve возвращает стабильный идентификатор или исходный, если пара неизвестна.
// Никогда не возвращает ошибку: отсутствие пары не мешает обработке сообщения.
func (r *Resolver) Resolve(ctx context.Context, sender string) string {
	if sender == "" || IsStable(sender) {
		return sender
	}
	if stable, ok := r.cache.Get(sender); ok {
		metrics.IdentityLookups.WithLabelValues("cache").Inc()
		return stable
	}
	if r.contacts == nil {
		metrics.IdentityLookups.WithLabelValues("miss").Inc()
		return sender
	}
	stable, err := r.contacts.StableIDFor(ctx, sender)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			r.logger.Warn().Err(err).Str("sender", sender).Msg("identity: не удалось прочитать контакт")
		}
		metrics.IdentityLookups.WithLabelValues("miss").Inc()
		return sender
	}
	metrics.IdentityLookups.WithLabelValues("store").Inc()
	r.cache.Put(sender, stable)
	return stable
}

// Record запоминает пару и ставит задачу переписать исторические строки.
func (r *Resolver) Record(ctx context.Context, identity domain.ContactIdentity) {
	r.record(ctx, identity)
}

// record возвращает true, если пара новая или изменилась. Пара, уже
// известная хранилищу, только возвращается в кэш: без записи и без задачи.
func (r *Resolver) record(ctx context.Context, identity domain.ContactIdentity) bool {
	identity.StableID = NormalizePhone(identity.StableID)
	if identity.EphemeralID == "" || !IsStable(identity.StableID) || identity.EphemeralID == identity.StableID {
		return false
	}
	if prev, ok := r.cache.Get(identity.EphemeralID); ok && prev == identity.StableID {
		return false
	}
	if r.contacts != nil {
		if stored, err := r.contacts.StableIDFor(ctx, identity.EphemeralID); err == nil && stored == identity.StableID {
			r.cache.Put(identity.EphemeralID, identity.StableID)
			return false
		}
	}
	r.cache.Put(identity.EphemeralID, identity.StableID)

	if r.contacts != nil {
		if err := r.contacts.UpsertContact(ctx, identity); err != nil {
			r.logger.Warn().Err(err).Str("ephemeral_id", identity.EphemeralID).Msg("identity: не удалось сохранить контакт")
		}
	}
	if r.queue == nil {
		return true
	}
	job := domain.BackfillJob{
		ID:          uuid.NewString(),
		EphemeralID: identity.EphemeralID,
		StableID:    identity.StableID,
		RequestedAt: r.now().UTC(),
	}
	if err := r.queue.Enqueue(ctx, job); err != nil {
		metrics.BackfillJobs.WithLabelValues("enqueue_failed").Inc()
		r.logger.Warn().Err(err).Str("ephemeral_id", identity.EphemeralID).Msg("identity: не удалось поставить задачу догрузки")
	}
	return true
}

// Warm записывает пары из состава групп и возвращает число новых или изменённых.
func (r *Resolver) Warm(ctx context.Context, identities []domain.ContactIdentity) int {
	changed := 0
	for _, id := range identities {
		if r.record(ctx, id) {
			changed++
		}
	}
	return changed
}
