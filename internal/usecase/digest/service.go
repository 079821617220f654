package digest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"ride-match-bot/internal/domain"
)

// ErrNoRecipient возвращается, если не задан чат администратора.
var ErrNoRecipient = errors.New("не задан чат для дайджеста")

// Result описывает итог отправки дайджеста.
type Result struct {
	Sent    bool
	Matches int
}

// Service собирает дайджест матчей для ручной проверки.
type Service struct {
	requests domain.RequestRepo
	matches  domain.MatchRepo
	groups   domain.GroupRepo
	sender   domain.Sender
	chatID   int64
	loc      *time.Location
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService создаёт сервис дайджестов; groups и sender могут быть nil.
func NewService(requests domain.RequestRepo, matches domain.MatchRepo, groups domain.GroupRepo, sender domain.Sender, chatID int64, loc *time.Location, logger zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{requests: requests, matches: matches, groups: groups, sender: sender, chatID: chatID, loc: loc, logger: logger, now: time.Now}
}

// PendingMatches возвращает неотправленные матчи (старые первыми) вместе с заявками.
// Матчи из тестовых групп пропускаются.
func (s *Service) PendingMatches(ctx context.Context) ([]domain.MatchDetails, error) {
	notified := false
	matches, err := s.matches.ListMatches(ctx, domain.MatchFilter{Notified: &notified})
	if err != nil {
		return nil, fmt.Errorf("получение матчей: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].CreatedAt.Before(matches[j].CreatedAt) })

	seen := make(map[string]struct{}, len(matches)*2)
	ids := make([]string, 0, len(matches)*2)
	for _, m := range matches {
		for _, id := range []string{m.NeedID, m.OfferID} {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	reqs, err := s.requests.GetRequests(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("получение заявок: %w", err)
	}
	byID := make(map[string]domain.Request, len(reqs))
	for _, r := range reqs {
		byID[r.ID] = r
	}

	names, tests := s.groupIndex(ctx)
	out := make([]domain.MatchDetails, 0, len(matches))
	for _, m := range matches {
		need, okNeed := byID[m.NeedID]
		offer, okOffer := byID[m.OfferID]
		if !okNeed || !okOffer {
			continue
		}
		if _, ok := tests[need.SourceGroup]; ok {
			continue
		}
		if _, ok := tests[offer.SourceGroup]; ok {
			continue
		}
		if name, ok := names[need.SourceGroup]; ok {
			need.SourceGroup = name
		}
		if name, ok := names[offer.SourceGroup]; ok {
			offer.SourceGroup = name
		}
		out = append(out, domain.MatchDetails{Match: m, Need: need, Offer: offer})
	}
	return out, nil
}

func (s *Service) groupIndex(ctx context.Context) (map[string]string, map[string]struct{}) {
	names := map[string]string{}
	tests := map[string]struct{}{}
	if s.groups == nil {
		return names, tests
	}
	groups, err := s.groups.ListGroups(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("digest: не удалось загрузить группы")
		return names, tests
	}
	for _, g := range groups {
		if g.Name != "" {
			names[g.ID] = g.Name
		}
		if g.IsTest {
			tests[g.ID] = struct{}{}
			if g.Name != "" {
				tests[g.Name] = struct{}{}
			}
		}
	}
	return names, tests
}

// Build собирает текст дайджеста и список вошедших матчей.
func (s *Service) Build(ctx context.Context) (string, []string, error) {
	matches, err := s.PendingMatches(ctx)
	if err != nil {
		return "", nil, err
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.Match.ID)
	}
	return FormatDigest(matches, s.now().In(s.loc)), ids, nil
}

// SendReview отправляет дайджест администратору и помечает матчи отправленными.
func (s *Service) SendReview(ctx context.Context) (Result, error) {
	if s.sender == nil || s.chatID == 0 {
		return Result{}, ErrNoRecipient
	}
	text, ids, err := s.Build(ctx)
	if err != nil {
		return Result{}, err
	}
	if err := s.sender.Send(ctx, s.chatID, text); err != nil {
		return Result{}, fmt.Errorf("отправка дайджеста: %w", err)
	}
	if len(ids) == 0 {
		s.logger.Info().Msg("digest: новых матчей нет")
		return Result{Sent: true}, nil
	}
	if err := s.matches.MarkNotified(ctx, ids); err != nil {
		return Result{Sent: true, Matches: len(ids)}, fmt.Errorf("отметка матчей: %w", err)
	}
	s.logger.Info().Int("matches", len(ids)).Msg("digest: дайджест отправлен")
	return Result{Sent: true, Matches: len(ids)}, nil
}

// MarkNotified помечает матчи отправленными вручную.
func (s *Service) MarkNotified(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.matches.MarkNotified(ctx, ids)
}

// Announcer сообщает о новых матчах в лог и в чат администратора.
type Announcer struct {
	sender domain.Sender
	chatID int64
	logger zerolog.Logger
}

// NewAnnouncer создаёт уведомитель; без sender или chatID матчи только логируются.
func NewAnnouncer(sender domain.Sender, chatID int64, logger zerolog.Logger) *Announcer {
	return &Announcer{sender: sender, chatID: chatID, logger: logger}
}

// NotifyMatches отправляет уведомление по каждому матчу.
func (a *Announcer) NotifyMatches(ctx context.Context, matches []domain.MatchDetails) {
	for _, m := range matches {
		a.logger.Info().
			Str("match_id", m.Match.ID).
			Str("quality", string(m.Match.Quality)).
			Float64("score", m.Match.Score).
			Str("destination", m.Need.Destination).
			Msg("digest: найден матч")
		if a.sender == nil || a.chatID == 0 {
			continue
		}
		if err := a.sender.Send(ctx, a.chatID, FormatAnnouncement(m)); err != nil {
			a.logger.Warn().Err(err).Str("match_id", m.Match.ID).Msg("digest: не удалось отправить уведомление")
		}
	}
}
