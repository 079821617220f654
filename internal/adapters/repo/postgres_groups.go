package repo

import (
	"context"
	"database/sql"
	"time"

	"ride-match-bot/internal/domain"
	"ride-match-bot/internal/infra/metrics"
)

// ListActiveGroups возвращает группы, из которых принимаются заявки.
func (p *Postgres) ListActiveGroups(ctx context.Context) ([]domain.Group, error) {
	return p.listGroups(ctx, true)
}

// ListGroups возвращает все известные группы.
func (p *Postgres) ListGroups(ctx context.Context) ([]domain.Group, error) {
	return p.listGroups(ctx, false)
}

func (p *Postgres) listGroups(ctx context.Context, activeOnly bool) ([]domain.Group, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT group_id, name, active, is_test, updated_at
FROM monitored_groups
WHERE NOT $1 OR active
ORDER BY group_id
`, activeOnly)
	metrics.ObserveNetworkRequest("postgres", "groups_list", "monitored_groups", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Group
	for rows.Next() {
		var (
			g    domain.Group
			name sql.NullString
		)
		if err := rows.Scan(&g.ID, &name, &g.Active, &g.IsTest, &g.UpdatedAt); err != nil {
			return nil, err
		}
		g.Name = name.String
		out = append(out, g)
	}
	return out, rows.Err()
}

// SeedGroups регистрирует новые группы неактивными и дописывает отсутствующие названия.
func (p *Postgres) SeedGroups(ctx context.Context, groups []domain.Group) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	for _, g := range groups {
		start := time.Now()
		_, err := p.pool.Exec(ctx, `
INSERT INTO monitored_groups (group_id, name, active, is_test, updated_at)
VALUES ($1, NULLIF($2, ''), false, false, now())
ON CONFLICT (group_id) DO UPDATE
SET name = EXCLUDED.name
WHERE monitored_groups.name IS NULL AND EXCLUDED.name IS NOT NULL
`, g.ID, g.Name)
		metrics.ObserveNetworkRequest("postgres", "groups_seed", "monitored_groups", start, err)
		if err != nil {
			return err
		}
	}
	return nil
}

// LatestGroupUpdate возвращает время последней правки списка групп.
func (p *Postgres) LatestGroupUpdate(ctx context.Context) (time.Time, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var latest *time.Time
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT MAX(updated_at) FROM monitored_groups`).Scan(&latest)
	metrics.ObserveNetworkRequest("postgres", "groups_latest_update", "monitored_groups", start, err)
	if err != nil || latest == nil {
		return time.Time{}, err
	}
	return *latest, nil
}
