package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"ride-match-bot/internal/domain"
	"ride-match-bot/internal/infra/metrics"
)

const requestColumns = `id::text, request_type, category, request_date, date_fuzzy, possible_dates, ride_time, time_fuzzy,
origin, destination, details, source_group, source_contact, sender_name, raw_message, status, request_hash, created_at`

// LogMessage записывает строку журнала. Повтор message_id возвращает ErrDuplicate.
func (p *Postgres) LogMessage(ctx context.Context, entry domain.AuditEntry) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var parsed []byte
	if len(entry.Parsed) > 0 {
		parsed = entry.Parsed
	}
	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
INSERT INTO message_log (id, message_id, source_group, source_contact, sender_name, body, is_request, parsed, error, created_at)
VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, NULLIF($9, ''), $10)
ON CONFLICT (message_id) DO NOTHING
`, entry.ID, entry.MessageID, entry.SourceGroup, entry.SourceContact, entry.SenderName, entry.Body,
		entry.IsRequest, parsed, entry.Error, entry.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "message_log_insert", "message_log", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDuplicate
	}
	return nil
}

// MessageLogged проверяет, обрабатывалось ли сообщение.
func (p *Postgres) MessageLogged(ctx context.Context, messageID string) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var exists bool
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM message_log WHERE message_id = $1)`, messageID).Scan(&exists)
	metrics.ObserveNetworkRequest("postgres", "message_log_exists", "message_log", start, err)
	return exists, err
}

func scanRequest(row pgx.Row) (domain.Request, error) {
	var (
		req         domain.Request
		date        sql.NullTime
		rideTime    sql.NullString
		origin      sql.NullString
		destination sql.NullString
		details     []byte
		sourceGroup sql.NullString
		senderName  sql.NullString
		rawMessage  sql.NullString
		reqType     string
		status      string
	)
	err := row.Scan(&req.ID, &reqType, &req.Category, &date, &req.DateFuzzy, &req.PossibleDates, &rideTime, &req.TimeFuzzy,
		&origin, &destination, &details, &sourceGroup, &req.SourceContact, &senderName, &rawMessage, &status, &req.ContentHash, &req.CreatedAt)
	if err != nil {
		return domain.Request{}, err
	}
	req.Type = domain.RequestType(reqType)
	req.Status = domain.RequestStatus(status)
	if date.Valid {
		d := domain.DateOf(date.Time)
		req.Date = &d
	}
	req.Time = rideTime.String
	req.Origin = origin.String
	req.Destination = destination.String
	req.SourceGroup = sourceGroup.String
	req.SenderName = senderName.String
	req.RawMessage = rawMessage.String
	req.Details = map[string]any{}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &req.Details); err != nil {
			return domain.Request{}, fmt.Errorf("decode details: %w", err)
		}
	}
	return req, nil
}

func collectRequests(rows pgx.Rows) ([]domain.Request, error) {
	defer rows.Close()
	var out []domain.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// FindOpenByHash ищет открытую заявку с тем же отпечатком.
func (p *Postgres) FindOpenByHash(ctx context.Context, hash string) (domain.Request, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	req, err := scanRequest(p.pool.QueryRow(ctx, `SELECT `+requestColumns+`
FROM ride_requests WHERE request_hash = $1 AND status = 'open' LIMIT 1`, hash))
	metrics.ObserveNetworkRequest("postgres", "requests_find_by_hash", "ride_requests", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Request{}, domain.ErrNotFound
	}
	return req, err
}

// InsertRequest сохраняет заявку; окончательную защиту от дублей даёт уникальный индекс по открытым отпечаткам.
func (p *Postgres) InsertRequest(ctx context.Context, req domain.Request) (domain.Request, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	details, err := json.Marshal(req.Details)
	if err != nil {
		return domain.Request{}, fmt.Errorf("encode details: %w", err)
	}
	possible := req.PossibleDates
	if possible == nil {
		possible = []time.Time{}
	}
	status := req.Status
	if status == "" {
		status = domain.StatusOpen
	}

	start := time.Now()
	err = p.pool.QueryRow(ctx, `
INSERT INTO ride_requests (id, request_type, category, request_date, date_fuzzy, possible_dates, ride_time, time_fuzzy,
    origin, destination, details, source_group, source_contact, sender_name, raw_message, status, request_hash, created_at)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, NULLIF($9, ''), NULLIF($10, ''), $11, NULLIF($12, ''), $13,
    NULLIF($14, ''), $15, $16, $17, $18)
ON CONFLICT (request_hash) WHERE status = 'open' DO NOTHING
RETURNING created_at
`, req.ID, string(req.Type), req.Category, req.Date, req.DateFuzzy, possible, req.Time, req.TimeFuzzy,
		req.Origin, req.Destination, details, req.SourceGroup, req.SourceContact, req.SenderName, req.RawMessage,
		string(status), req.ContentHash, req.CreatedAt).Scan(&req.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "requests_insert", "ride_requests", start, err)
	if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
		return domain.Request{}, domain.ErrDuplicate
	}
	if err != nil {
		return domain.Request{}, err
	}
	req.Status = status
	return req, nil
}

// FindCandidates возвращает открытые встречные заявки.
func (p *Postgres) FindCandidates(ctx context.Context, q domain.CandidateQuery) ([]domain.Request, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		conds = []string{"status = 'open'", "request_type = $1", "category = $2"}
		args  = []any{string(q.Type), q.Category}
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if q.ExcludeID != "" {
		add("id::text <> $%d", q.ExcludeID)
	}
	if q.Destination != "" {
		add("lower(destination) = lower($%d)", q.Destination)
	}
	if q.DateFrom != nil {
		add("request_date >= $%d", *q.DateFrom)
	}
	if q.DateTo != nil {
		add("request_date <= $%d", *q.DateTo)
	}

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+requestColumns+` FROM ride_requests WHERE `+
		strings.Join(conds, " AND ")+` ORDER BY created_at, id`, args...)
	metrics.ObserveNetworkRequest("postgres", "requests_find_candidates", "ride_requests", start, err)
	if err != nil {
		return nil, err
	}
	return collectRequests(rows)
}

// ListOpenSnapshot возвращает открытые заявки в порядке поступления.
func (p *Postgres) ListOpenSnapshot(ctx context.Context, q domain.SnapshotQuery) ([]domain.Request, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+requestColumns+`
FROM ride_requests
WHERE status = 'open' AND ($1 = '' OR category = $1) AND created_at >= $2
ORDER BY created_at, id`, q.Category, q.Since)
	metrics.ObserveNetworkRequest("postgres", "requests_snapshot", "ride_requests", start, err)
	if err != nil {
		return nil, err
	}
	return collectRequests(rows)
}

// GetRequests возвращает заявки по идентификаторам.
func (p *Postgres) GetRequests(ctx context.Context, ids []string) ([]domain.Request, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+requestColumns+` FROM ride_requests WHERE id::text = ANY($1) ORDER BY created_at, id`, ids)
	metrics.ObserveNetworkRequest("postgres", "requests_get", "ride_requests", start, err)
	if err != nil {
		return nil, err
	}
	return collectRequests(rows)
}

// Stats считает заявки по типам и статусам.
func (p *Postgres) Stats(ctx context.Context) (domain.RequestStats, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var stats domain.RequestStats
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT count(*),
       count(*) FILTER (WHERE request_type = 'need'),
       count(*) FILTER (WHERE request_type = 'offer'),
       count(*) FILTER (WHERE status = 'open'),
       count(*) FILTER (WHERE status = 'matched')
FROM ride_requests
`).Scan(&stats.Total, &stats.Needs, &stats.Offers, &stats.Open, &stats.Matched)
	metrics.ObserveNetworkRequest("postgres", "requests_stats", "ride_requests", start, err)
	return stats, err
}

// CreateMatch сохраняет матч и закрывает обе заявки в одной транзакции.
func (p *Postgres) CreateMatch(ctx context.Context, m domain.Match) (domain.Match, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "ride_matches", start, err)
	if err != nil {
		return domain.Match{}, err
	}
	defer tx.Rollback(ctx)

	start = time.Now()
	err = tx.QueryRow(ctx, `
INSERT INTO ride_matches (id, need_id, offer_id, score, match_quality, notified, created_at)
VALUES ($1, $2, $3, $4, $5, false, $6)
ON CONFLICT DO NOTHING
RETURNING created_at
`, m.ID, m.NeedID, m.OfferID, m.Score, string(m.Quality), m.CreatedAt).Scan(&m.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "matches_insert", "ride_matches", start, err)
	if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
		return domain.Match{}, domain.ErrMatchExists
	}
	if err != nil {
		return domain.Match{}, err
	}

	start = time.Now()
	_, err = tx.Exec(ctx, `UPDATE ride_requests SET status = 'matched' WHERE id::text IN ($1, $2)`, m.NeedID, m.OfferID)
	metrics.ObserveNetworkRequest("postgres", "requests_mark_matched", "ride_requests", start, err)
	if err != nil {
		return domain.Match{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Match{}, err
	}
	m.Notified = false
	return m, nil
}

// ListMatches возвращает матчи от старых к новым.
func (p *Postgres) ListMatches(ctx context.Context, f domain.MatchFilter) ([]domain.Match, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var notified sql.NullBool
	if f.Notified != nil {
		notified = sql.NullBool{Bool: *f.Notified, Valid: true}
	}
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id::text, need_id::text, offer_id::text, score, match_quality, notified, created_at
FROM ride_matches
WHERE $1::boolean IS NULL OR notified = $1
ORDER BY created_at, id
`, notified)
	metrics.ObserveNetworkRequest("postgres", "matches_list", "ride_matches", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Match
	for rows.Next() {
		var (
			m       domain.Match
			quality string
		)
		if err := rows.Scan(&m.ID, &m.NeedID, &m.OfferID, &m.Score, &quality, &m.Notified, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Quality = domain.QualityTier(quality)
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkNotified помечает матчи просмотренными; флаг только растёт.
func (p *Postgres) MarkNotified(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `UPDATE ride_matches SET notified = true WHERE id::text = ANY($1)`, ids)
	metrics.ObserveNetworkRequest("postgres", "matches_mark_notified", "ride_matches", start, err)
	return err
}
