package intake

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ride-match-bot/internal/domain"
	"ride-match-bot/internal/infra/cache"
)

// Groups хранит множество отслеживаемых групп и кэш их названий.
// Пустое множество означает «принимать все группы».
type Groups struct {
	repo   domain.GroupRepo
	names  *cache.Bounded[string, string]
	logger zerolog.Logger

	mu     sync.RWMutex
	active map[string]domain.Group
	// seenUpdate хранит наибольший updated_at на момент последнего Refresh.
	seenUpdate time.Time
}

// NewGroups создаёт реестр групп.
func NewGroups(repo domain.GroupRepo, names *cache.Bounded[string, string], logger zerolog.Logger) *Groups {
	if names == nil {
		names = cache.NewBounded[string, string](500)
	}
	return &Groups{repo: repo, names: names, logger: logger, active: map[string]domain.Group{}}
}

// Allowed сообщает, принимаются ли сообщения из группы.
func (g *Groups) Allowed(groupID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.active) == 0 {
		return true
	}
	_, ok := g.active[groupID]
	return ok
}

// Active возвращает отслеживаемые группы.
func (g *Groups) Active() []domain.Group {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]domain.Group, 0, len(g.active))
	for _, grp := range g.active {
		out = append(out, grp)
	}
	return out
}

// RememberName запоминает название группы.
func (g *Groups) RememberName(groupID, name string) {
	if groupID == "" || name == "" {
		return
	}
	g.names.Put(groupID, name)
}

// Name возвращает название группы или её идентификатор.
func (g *Groups) Name(groupID string) string {
	if name, ok := g.names.Get(groupID); ok {
		return name
	}
	g.mu.RLock()
	grp, ok := g.active[groupID]
	g.mu.RUnlock()
	if ok && grp.Name != "" {
		g.names.Put(groupID, grp.Name)
		return grp.Name
	}
	return groupID
}

// Seed регистрирует группы из состава аккаунта.
func (g *Groups) Seed(ctx context.Context, groups []domain.Group) error {
	for _, grp := range groups {
		g.RememberName(grp.ID, grp.Name)
	}
	if len(groups) == 0 {
		return nil
	}
	return g.repo.SeedGroups(ctx, groups)
}

// Refresh перечитывает активные группы из хранилища.
// Отметка берётся до чтения списка, поэтому правка между запросами попадёт в следующий опрос.
func (g *Groups) Refresh(ctx context.Context) (int, error) {
	mark, err := g.repo.LatestGroupUpdate(ctx)
	if err != nil {
		return 0, err
	}
	groups, err := g.repo.ListActiveGroups(ctx)
	if err != nil {
		return 0, err
	}
	active := make(map[string]domain.Group, len(groups))
	for _, grp := range groups {
		active[grp.ID] = grp
		g.RememberName(grp.ID, grp.Name)
	}
	g.mu.Lock()
	g.active = active
	g.seenUpdate = mark
	g.mu.Unlock()
	return len(active), nil
}

// CheckChanges перечитывает группы, если updated_at в хранилище ушёл вперёд
// относительно последней прочитанной отметки. Часы процесса не участвуют.
func (g *Groups) CheckChanges(ctx context.Context) (bool, error) {
	g.mu.RLock()
	seen := g.seenUpdate
	g.mu.RUnlock()

	latest, err := g.repo.LatestGroupUpdate(ctx)
	if err != nil {
		return false, err
	}
	if !latest.After(seen) {
		return false, nil
	}
	n, err := g.Refresh(ctx)
	if err != nil {
		return false, err
	}
	g.logger.Info().Int("groups", n).Msg("intake: список групп обновлён")
	return true, nil
}

// Poll периодически проверяет изменения списка групп.
func (g *Groups) Poll(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := g.CheckChanges(ctx); err != nil {
				g.logger.Error().Err(err).Msg("intake: ошибка опроса групп")
			}
		}
	}
}
