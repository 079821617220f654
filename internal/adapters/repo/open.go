package repo

import (
	"context"
	"fmt"

	"ride-match-bot/internal/domain"
	"ride-match-bot/internal/infra/db"
)

// Store объединяет все репозитории сервиса.
type Store interface {
	domain.ContactRepo
	domain.AuditLog
	domain.RequestRepo
	domain.MatchRepo
	domain.GroupRepo
	domain.SessionRepo
}

var (
	_ Store = (*Postgres)(nil)
	_ Store = (*Memory)(nil)
)

// Open выбирает хранилище по названию: memory или postgres. Для postgres
// применяется схема; возвращаемая функция закрывает пул.
func Open(ctx context.Context, kind, dsn string) (Store, func(), error) {
	switch kind {
	case "memory":
		return NewMemory(), func() {}, nil
	case "", "postgres":
		if dsn == "" {
			return nil, nil, fmt.Errorf("repo: PG_DSN не задан")
		}
		pool, err := db.Connect(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("repo: connect: %w", err)
		}
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("repo: %w", err)
		}
		return NewPostgres(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("repo: неизвестное хранилище %q", kind)
	}
}
