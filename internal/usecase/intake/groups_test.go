package intake

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ride-match-bot/internal/adapters/repo"
	"ride-match-bot/internal/domain"
)

func TestGroupsAllowAllWhenEmpty(t *testing.T) {
	g := NewGroups(repo.NewMemory(), nil, zerolog.Nop())
	if _, err := g.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !g.Allowed("-42") {
		t.Fatalf("без активных групп принимаются все")
	}
	if g.Name("-42") != "-42" {
		t.Fatalf("без названия возвращается идентификатор")
	}
}

func TestGroupsCheckChanges(t *testing.T) {
	ctx := context.Background()
	store := repo.NewMemory()
	g := NewGroups(store, nil, zerolog.Nop())
	_, _ = g.Refresh(ctx)

	changed, err := g.CheckChanges(ctx)
	if err != nil || changed {
		t.Fatalf("изменений ещё не было: %v %v", changed, err)
	}
	time.Sleep(2 * time.Millisecond)
	store.SetGroup(domain.Group{ID: "-100", Name: "Rides", Active: true})
	changed, err = g.CheckChanges(ctx)
	if err != nil || !changed {
		t.Fatalf("ожидали обнаружить изменение: %v %v", changed, err)
	}
	if g.Allowed("-200") || !g.Allowed("-100") {
		t.Fatalf("множество групп не обновилось")
	}
	if g.Name("-100") != "Rides" {
		t.Fatalf("название не запомнено")
	}
}

type skewedGroupRepo struct {
	groups []domain.Group
}

func (s *skewedGroupRepo) ListActiveGroups(context.Context) ([]domain.Group, error) {
	var out []domain.Group
	for _, g := range s.groups {
		if g.Active {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *skewedGroupRepo) ListGroups(context.Context) ([]domain.Group, error) { return s.groups, nil }

func (s *skewedGroupRepo) SeedGroups(context.Context, []domain.Group) error { return nil }

func (s *skewedGroupRepo) LatestGroupUpdate(context.Context) (time.Time, error) {
	var latest time.Time
	for _, g := range s.groups {
		if g.UpdatedAt.After(latest) {
			latest = g.UpdatedAt
		}
	}
	return latest, nil
}

func TestGroupsCheckChangesIgnoresProcessClock(t *testing.T) {
	ctx := context.Background()
	// часы базы отстают от процесса на час
	dbNow := time.Now().Add(-time.Hour)
	store := &skewedGroupRepo{groups: []domain.Group{{ID: "-100", Name: "Rides", Active: true, UpdatedAt: dbNow}}}
	g := NewGroups(store, nil, zerolog.Nop())
	if _, err := g.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if changed, _ := g.CheckChanges(ctx); changed {
		t.Fatalf("без правок изменений быть не должно")
	}

	store.groups = append(store.groups, domain.Group{ID: "-200", Name: "Aggie Rides", Active: true, UpdatedAt: dbNow.Add(time.Second)})
	changed, err := g.CheckChanges(ctx)
	if err != nil || !changed {
		t.Fatalf("правка с отстающими часами базы должна быть замечена: %v %v", changed, err)
	}
	if !g.Allowed("-200") {
		t.Fatalf("новая активная группа не попала в множество")
	}
	if changed, _ := g.CheckChanges(ctx); changed {
		t.Fatalf("повторная проверка без правок не должна перечитывать группы")
	}
}
