package identity

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"ride-match-bot/internal/domain"
	"ride-match-bot/internal/infra/metrics"
)

// Backfiller обрабатывает задачи переписывания устаревших идентификаторов.
type Backfiller struct {
	queue      domain.BackfillQueue
	contacts   domain.ContactRepo
	logger     zerolog.Logger
	retryDelay time.Duration
}

// NewBackfiller создаёт воркер.
func NewBackfiller(queue domain.BackfillQueue, contacts domain.ContactRepo, logger zerolog.Logger) *Backfiller {
	return &Backfiller{queue: queue, contacts: contacts, logger: logger, retryDelay: time.Second}
}

// Run читает задачи до отмены контекста.
func (b *Backfiller) Run(ctx context.Context) error {
	b.logger.Info().Msg("backfill: воркер запущен")
	for {
		job, ack, err := b.queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			b.logger.Error().Err(err).Msg("backfill: ошибка чтения очереди")
			if !sleepCtx(ctx, b.retryDelay) {
				return nil
			}
			continue
		}
		if err := b.Handle(ctx, job); err != nil {
			_ = ack(false)
			if !sleepCtx(ctx, b.retryDelay) {
				return nil
			}
			continue
		}
		if err := ack(true); err != nil {
			b.logger.Warn().Err(err).Str("job_id", job.ID).Msg("backfill: ack не прошёл")
		}
	}
}

// Handle переписывает строки одной задачи.
func (b *Backfiller) Handle(ctx context.Context, job domain.BackfillJob) error {
	n, err := b.contacts.RewriteSourceContact(ctx, job.EphemeralID, job.StableID)
	if err != nil {
		metrics.BackfillJobs.WithLabelValues("failed").Inc()
		b.logger.Error().Err(err).Str("job_id", job.ID).Str("ephemeral_id", job.EphemeralID).Msg("backfill: не удалось переписать строки")
		return err
	}
	metrics.BackfillJobs.WithLabelValues("done").Inc()
	if n > 0 {
		b.logger.Info().Int64("rows", n).Str("ephemeral_id", job.EphemeralID).Str("stable_id", job.StableID).Msg("backfill: строки переписаны")
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
