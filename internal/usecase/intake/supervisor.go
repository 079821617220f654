package intake

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"ride-match-bot/internal/domain"
)

// IdentityRecorder принимает пары идентификаторов от транспорта.
type IdentityRecorder interface {
	Record(ctx context.Context, identity domain.ContactIdentity)
	Warm(ctx context.Context, identities []domain.ContactIdentity) int
}

// SupervisorConfig задаёт параметры догрузки истории и переподключения.
type SupervisorConfig struct {
	BackfillHours  int
	BackfillLimit  int
	MaxReconnect   int
	ReconnectDelay time.Duration
}

// Supervisor связывает события транспорта с конвейером.
type Supervisor struct {
	pipeline *Pipeline
	groups   *Groups
	identity IdentityRecorder
	roster   domain.RosterSource
	history  domain.HistorySource
	stats    domain.RequestRepo
	gate     *Gate
	cfg      SupervisorConfig
	logger   zerolog.Logger
	now      func() time.Time

	// process сериализует обработку живых и исторических сообщений.
	process  sync.Mutex
	attempts atomic.Int32
}

var _ domain.EventSink = (*Supervisor)(nil)

// SupervisorDeps содержит зависимости супервизора; roster, history и stats необязательны.
type SupervisorDeps struct {
	Pipeline *Pipeline
	Groups   *Groups
	Identity IdentityRecorder
	Roster   domain.RosterSource
	History  domain.HistorySource
	Stats    domain.RequestRepo
	Logger   zerolog.Logger
}

// NewSupervisor создаёт супервизор.
func NewSupervisor(d SupervisorDeps, cfg SupervisorConfig) *Supervisor {
	if cfg.BackfillHours <= 0 {
		cfg.BackfillHours = 24
	}
	if cfg.BackfillLimit <= 0 {
		cfg.BackfillLimit = 50
	}
	if cfg.MaxReconnect <= 0 {
		cfg.MaxReconnect = 5
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 10 * time.Second
	}
	s := &Supervisor{
		pipeline: d.Pipeline,
		groups:   d.Groups,
		identity: d.Identity,
		roster:   d.Roster,
		history:  d.History,
		stats:    d.Stats,
		cfg:      cfg,
		logger:   d.Logger,
		now:      time.Now,
	}
	s.gate = NewGate(s.processHistory)
	return s
}

// Gate возвращает входной шлюз.
func (s *Supervisor) Gate() *Gate {
	return s.gate
}

// OnConnection загружает состав групп при подключении и закрывает шлюз при обрыве.
func (s *Supervisor) OnConnection(ctx context.Context, ev domain.ConnectionEvent) {
	if !ev.Open {
		s.gate.Close()
		s.logger.Warn().Str("reason", ev.Reason).Msg("intake: соединение закрыто")
		return
	}
	s.attempts.Store(0)
	s.logger.Info().Msg("intake: соединение установлено")
	s.loadPrerequisites(ctx)
	if drained := s.gate.Open(ctx); drained > 0 {
		s.logger.Info().Int("messages", drained).Msg("intake: очередь истории обработана")
	}
}

func (s *Supervisor) loadPrerequisites(ctx context.Context) {
	var known []domain.Group
	if s.roster != nil {
		rosters, err := s.roster.FetchRoster(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("intake: не удалось получить состав групп")
		}
		var pairs []domain.ContactIdentity
		for _, r := range rosters {
			known = append(known, r.Group)
			pairs = append(pairs, r.Members...)
		}
		if s.identity != nil && len(pairs) > 0 {
			if added := s.identity.Warm(ctx, pairs); added > 0 {
				s.logger.Info().Int("pairs", added).Msg("intake: идентификаторы из состава групп")
			}
		}
	}
	if err := s.groups.Seed(ctx, known); err != nil {
		s.logger.Error().Err(err).Msg("intake: не удалось сохранить группы")
	}
	count, err := s.groups.Refresh(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("intake: не удалось загрузить активные группы")
	}
	if count == 0 {
		s.logger.Warn().Int("available", len(known)).Msg("intake: активных групп нет, принимаем все")
	} else {
		s.logger.Info().Int("groups", count).Msg("intake: отслеживаем группы")
	}
	if s.stats != nil {
		if st, err := s.stats.Stats(ctx); err == nil {
			s.logger.Info().Int("total", st.Total).Int("open", st.Open).Int("matched", st.Matched).Msg("intake: состояние заявок")
		}
	}

	if s.history == nil {
		return
	}
	targets := s.groups.Active()
	if len(targets) == 0 {
		targets = known
	}
	since := s.now().Add(-time.Duration(s.cfg.BackfillHours) * time.Hour)
	msgs, err := s.history.FetchHistory(ctx, targets, since, s.cfg.BackfillLimit)
	if err != nil {
		s.logger.Error().Err(err).Msg("intake: не удалось выгрузить историю")
		return
	}
	s.logger.Info().Int("messages", len(msgs)).Msg("intake: получена история")
	s.gate.Submit(ctx, msgs)
}

// OnMessages обрабатывает живые сообщения сразу, историю через шлюз.
func (s *Supervisor) OnMessages(ctx context.Context, msgs []domain.RawMessage, history bool) {
	if history {
		if !s.gate.Submit(ctx, msgs) && len(msgs) > 0 {
			s.logger.Debug().Int("pending", s.gate.Pending()).Msg("intake: история отложена до загрузки групп")
		}
		return
	}
	for _, msg := range msgs {
		if !s.groups.Allowed(msg.GroupID) {
			continue
		}
		s.ingest(ctx, msg)
	}
}

// OnIdentities записывает пары идентификаторов.
func (s *Supervisor) OnIdentities(ctx context.Context, identities []domain.ContactIdentity) {
	if s.identity == nil {
		return
	}
	for _, id := range identities {
		s.identity.Record(ctx, id)
	}
}

func (s *Supervisor) processHistory(ctx context.Context, msgs []domain.RawMessage) {
	since := s.now().Add(-time.Duration(s.cfg.BackfillHours) * time.Hour)
	processed := 0
	for _, msg := range msgs {
		if !s.groups.Allowed(msg.GroupID) {
			continue
		}
		if !msg.Timestamp.IsZero() && msg.Timestamp.Before(since) {
			continue
		}
		if o := s.ingest(ctx, msg); o != OutcomeDuplicate && o != OutcomeTooShort && o != OutcomeSkipped {
			processed++
		}
	}
	if processed > 0 {
		s.logger.Info().Int("messages", processed).Msg("intake: догрузка истории завершена")
	}
}

func (s *Supervisor) ingest(ctx context.Context, msg domain.RawMessage) Outcome {
	if msg.GroupTitle == "" {
		msg.GroupTitle = s.groups.Name(msg.GroupID)
	} else {
		s.groups.RememberName(msg.GroupID, msg.GroupTitle)
	}
	s.process.Lock()
	defer s.process.Unlock()
	return s.pipeline.Ingest(ctx, msg)
}

// Run запускает транспорт и переподключается с растущей задержкой.
func (s *Supervisor) Run(ctx context.Context, t domain.Transport) error {
	for {
		err := t.Run(ctx, s)
		if ctx.Err() != nil {
			return nil
		}
		reason := "stopped"
		if err != nil {
			reason = err.Error()
		}
		s.OnConnection(ctx, domain.ConnectionEvent{Open: false, Reason: reason})

		attempt := int(s.attempts.Add(1))
		if attempt > s.cfg.MaxReconnect {
			if err == nil {
				err = errors.New("transport stopped")
			}
			return fmt.Errorf("intake: превышено число переподключений: %w", err)
		}
		delay := time.Duration(attempt) * s.cfg.ReconnectDelay
		if limit := 6 * s.cfg.ReconnectDelay; delay > limit {
			delay = limit
		}
		s.logger.Info().Int("attempt", attempt).Dur("delay", delay).Msg("intake: переподключение")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}
