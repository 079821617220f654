package repo

import (
	"context"
	"errors"
	"time"

	"github.com/gotd/td/session"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ride-match-bot/internal/domain"
	"ride-match-bot/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.ContactRepo = (*Postgres)(nil)
	_ domain.AuditLog    = (*Postgres)(nil)
	_ domain.RequestRepo = (*Postgres)(nil)
	_ domain.MatchRepo   = (*Postgres)(nil)
	_ domain.GroupRepo   = (*Postgres)(nil)
	_ domain.SessionRepo = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// UpsertContact сохраняет пару идентификаторов; свежая пара перезаписывает старую.
func (p *Postgres) UpsertContact(ctx context.Context, contact domain.ContactIdentity) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO contacts (ephemeral_id, stable_id, display_name, updated_at)
VALUES ($1, $2, NULLIF($3, ''), now())
ON CONFLICT (ephemeral_id) DO UPDATE
SET stable_id = EXCLUDED.stable_id,
    display_name = COALESCE(EXCLUDED.display_name, contacts.display_name),
    updated_at = now()
`, contact.EphemeralID, contact.StableID, contact.DisplayName)
	metrics.ObserveNetworkRequest("postgres", "contacts_upsert", "contacts", start, err)
	return err
}

// StableIDFor возвращает стабильный идентификатор по эфемерному.
func (p *Postgres) StableIDFor(ctx context.Context, ephemeralID string) (string, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var stableID string
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT stable_id FROM contacts WHERE ephemeral_id = $1`, ephemeralID).Scan(&stableID)
	metrics.ObserveNetworkRequest("postgres", "contacts_get", "contacts", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return stableID, nil
}

// RewriteSourceContact переписывает устаревший идентификатор в заявках и журнале сообщений.
func (p *Postgres) RewriteSourceContact(ctx context.Context, from, to string) (int64, error) {
	if from == "" || to == "" || from == to {
		return 0, nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "contacts", start, err)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var total int64
	for _, table := range []string{"ride_requests", "message_log"} {
		start = time.Now()
		tag, err := tx.Exec(ctx, `UPDATE `+table+` SET source_contact = $2 WHERE source_contact = $1`, from, to)
		metrics.ObserveNetworkRequest("postgres", "rewrite_source_contact", table, start, err)
		if err != nil {
			return 0, err
		}
		total += tag.RowsAffected()
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return total, nil
}

// LoadMTProtoSession загружает сохранённую MTProto-сессию.
func (p *Postgres) LoadMTProtoSession(ctx context.Context, name string) ([]byte, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	if name == "" {
		name = "default"
	}

	var data []byte
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT data FROM mtproto_sessions WHERE name = $1`, name).Scan(&data)
	metrics.ObserveNetworkRequest("postgres", "mtproto_sessions_load", "mtproto_sessions", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// StoreMTProtoSession сохраняет MTProto-сессию.
func (p *Postgres) StoreMTProtoSession(ctx context.Context, name string, data []byte) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	if name == "" {
		name = "default"
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO mtproto_sessions (name, data, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
`, name, data)
	metrics.ObserveNetworkRequest("postgres", "mtproto_sessions_store", "mtproto_sessions", start, err)
	return err
}
