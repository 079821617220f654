package repo

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gotd/td/session"

	"ride-match-bot/internal/domain"
)

// Memory реализует хранилище в памяти с теми же инвариантами, что и Postgres.
type Memory struct {
	mu       sync.RWMutex
	now      func() time.Time
	contacts map[string]domain.ContactIdentity
	log      map[string]domain.AuditEntry
	requests []domain.Request
	matches  []domain.Match
	groups   map[string]domain.Group
	sessions map[string][]byte
}

var (
	_ domain.ContactRepo = (*Memory)(nil)
	_ domain.AuditLog    = (*Memory)(nil)
	_ domain.RequestRepo = (*Memory)(nil)
	_ domain.MatchRepo   = (*Memory)(nil)
	_ domain.GroupRepo   = (*Memory)(nil)
	_ domain.SessionRepo = (*Memory)(nil)
)

// NewMemory создаёт пустое хранилище.
func NewMemory() *Memory {
	return &Memory{
		now:      time.Now,
		contacts: make(map[string]domain.ContactIdentity),
		log:      make(map[string]domain.AuditEntry),
		groups:   make(map[string]domain.Group),
		sessions: make(map[string][]byte),
	}
}

// UpsertContact сохраняет пару идентификаторов.
func (m *Memory) UpsertContact(_ context.Context, contact domain.ContactIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.contacts[contact.EphemeralID]; ok && contact.DisplayName == "" {
		contact.DisplayName = prev.DisplayName
	}
	contact.UpdatedAt = m.now()
	m.contacts[contact.EphemeralID] = contact
	return nil
}

// StableIDFor возвращает стабильный идентификатор.
func (m *Memory) StableIDFor(_ context.Context, ephemeralID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contacts[ephemeralID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return c.StableID, nil
}

// RewriteSourceContact переписывает идентификатор в заявках и журнале.
func (m *Memory) RewriteSourceContact(_ context.Context, from, to string) (int64, error) {
	if from == "" || to == "" || from == to {
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for i := range m.requests {
		if m.requests[i].SourceContact == from {
			m.requests[i].SourceContact = to
			n++
		}
	}
	for id, entry := range m.log {
		if entry.SourceContact == from {
			entry.SourceContact = to
			m.log[id] = entry
			n++
		}
	}
	return n, nil
}

// LogMessage записывает строку журнала.
func (m *Memory) LogMessage(_ context.Context, entry domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.log[entry.MessageID]; ok {
		return domain.ErrDuplicate
	}
	m.log[entry.MessageID] = entry
	return nil
}

// MessageLogged проверяет наличие строки журнала.
func (m *Memory) MessageLogged(_ context.Context, messageID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.log[messageID]
	return ok, nil
}

// AuditEntries возвращает копию журнала.
func (m *Memory) AuditEntries() []domain.AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.AuditEntry, 0, len(m.log))
	for _, e := range m.log {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MessageID < out[j].MessageID })
	return out
}

// FindOpenByHash ищет открытую заявку по отпечатку.
func (m *Memory) FindOpenByHash(_ context.Context, hash string) (domain.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.requests {
		if r.ContentHash == hash && r.Status == domain.StatusOpen {
			return r, nil
		}
	}
	return domain.Request{}, domain.ErrNotFound
}

// InsertRequest сохраняет заявку, проверяя уникальность открытого отпечатка под блокировкой.
func (m *Memory) InsertRequest(_ context.Context, req domain.Request) (domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.requests {
		if r.ID == req.ID || (r.ContentHash == req.ContentHash && r.Status == domain.StatusOpen) {
			return domain.Request{}, domain.ErrDuplicate
		}
	}
	if req.Status == "" {
		req.Status = domain.StatusOpen
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = m.now()
	}
	m.requests = append(m.requests, req)
	return req, nil
}

// FindCandidates возвращает открытые встречные заявки.
func (m *Memory) FindCandidates(_ context.Context, q domain.CandidateQuery) ([]domain.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Request
	for _, r := range m.requests {
		if r.Status != domain.StatusOpen || r.Type != q.Type || r.Category != q.Category || r.ID == q.ExcludeID {
			continue
		}
		if q.Destination != "" && !strings.EqualFold(r.Destination, q.Destination) {
			continue
		}
		if q.DateFrom != nil || q.DateTo != nil {
			if r.Date == nil {
				continue
			}
			if q.DateFrom != nil && r.Date.Before(*q.DateFrom) {
				continue
			}
			if q.DateTo != nil && r.Date.After(*q.DateTo) {
				continue
			}
		}
		out = append(out, r)
	}
	return out, nil
}

// ListOpenSnapshot возвращает открытые заявки в порядке поступления.
func (m *Memory) ListOpenSnapshot(_ context.Context, q domain.SnapshotQuery) ([]domain.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Request
	for _, r := range m.requests {
		if r.Status != domain.StatusOpen || (q.Category != "" && r.Category != q.Category) || r.CreatedAt.Before(q.Since) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// GetRequests возвращает заявки по идентификаторам.
func (m *Memory) GetRequests(_ context.Context, ids []string) ([]domain.Request, error) {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Request
	for _, r := range m.requests {
		if _, ok := want[r.ID]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// Stats считает заявки.
func (m *Memory) Stats(_ context.Context) (domain.RequestStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var s domain.RequestStats
	for _, r := range m.requests {
		s.Total++
		switch r.Type {
		case domain.RequestNeed:
			s.Needs++
		case domain.RequestOffer:
			s.Offers++
		}
		switch r.Status {
		case domain.StatusOpen:
			s.Open++
		case domain.StatusMatched:
			s.Matched++
		}
	}
	return s, nil
}

// CreateMatch сохраняет матч и закрывает обе заявки под одной блокировкой.
func (m *Memory) CreateMatch(_ context.Context, match domain.Match) (domain.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.matches {
		if samePair(existing, match) {
			return domain.Match{}, domain.ErrMatchExists
		}
	}
	if match.CreatedAt.IsZero() {
		match.CreatedAt = m.now()
	}
	match.Notified = false
	m.matches = append(m.matches, match)
	for i := range m.requests {
		if m.requests[i].ID == match.NeedID || m.requests[i].ID == match.OfferID {
			m.requests[i].Status = domain.StatusMatched
		}
	}
	return match, nil
}

func samePair(a, b domain.Match) bool {
	return (a.NeedID == b.NeedID && a.OfferID == b.OfferID) || (a.NeedID == b.OfferID && a.OfferID == b.NeedID)
}

// ListMatches возвращает матчи от старых к новым.
func (m *Memory) ListMatches(_ context.Context, f domain.MatchFilter) ([]domain.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Match
	for _, match := range m.matches {
		if f.Notified != nil && match.Notified != *f.Notified {
			continue
		}
		out = append(out, match)
	}
	return out, nil
}

// MarkNotified помечает матчи просмотренными.
func (m *Memory) MarkNotified(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		for i := range m.matches {
			if m.matches[i].ID == id {
				m.matches[i].Notified = true
			}
		}
	}
	return nil
}

// ListActiveGroups возвращает активные группы.
func (m *Memory) ListActiveGroups(ctx context.Context) ([]domain.Group, error) {
	all, _ := m.ListGroups(ctx)
	var out []domain.Group
	for _, g := range all {
		if g.Active {
			out = append(out, g)
		}
	}
	return out, nil
}

// ListGroups возвращает все группы.
func (m *Memory) ListGroups(_ context.Context) ([]domain.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Group, 0, len(m.groups))
	for _, g := range m.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SeedGroups добавляет неизвестные группы неактивными.
func (m *Memory) SeedGroups(_ context.Context, groups []domain.Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range groups {
		if existing, ok := m.groups[g.ID]; ok {
			if existing.Name == "" && g.Name != "" {
				existing.Name = g.Name
				m.groups[g.ID] = existing
			}
			continue
		}
		m.groups[g.ID] = domain.Group{ID: g.ID, Name: g.Name, UpdatedAt: m.now()}
	}
	return nil
}

// SetGroup задаёт группу целиком, как это делает оператор в админке.
func (m *Memory) SetGroup(g domain.Group) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g.UpdatedAt = m.now()
	m.groups[g.ID] = g
}

// LatestGroupUpdate возвращает время последней правки групп.
func (m *Memory) LatestGroupUpdate(_ context.Context) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest time.Time
	for _, g := range m.groups {
		if g.UpdatedAt.After(latest) {
			latest = g.UpdatedAt
		}
	}
	return latest, nil
}

// LoadMTProtoSession загружает сессию.
func (m *Memory) LoadMTProtoSession(_ context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.sessions[name]
	if !ok {
		return nil, session.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// StoreMTProtoSession сохраняет сессию.
func (m *Memory) StoreMTProtoSession(_ context.Context, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[name] = append([]byte(nil), data...)
	return nil
}
