package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound возвращается, когда запись отсутствует.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate возвращается при нарушении уникальности заявки или журнала.
	ErrDuplicate = errors.New("duplicate")
	// ErrMatchExists возвращается, если пара уже сопоставлена.
	ErrMatchExists = errors.New("match already exists")
)

// ContactRepo хранит соответствия эфемерных и стабильных идентификаторов.
type ContactRepo interface {
	UpsertContact(ctx context.Context, contact ContactIdentity) error
	// StableIDFor возвращает ErrNotFound, если пара неизвестна.
	StableIDFor(ctx context.Context, ephemeralID string) (string, error)
	// RewriteSourceContact заменяет устаревший идентификатор в заявках и журнале.
	RewriteSourceContact(ctx context.Context, from, to string) (int64, error)
}

// AuditLog описывает журнал всех обработанных сообщений.
type AuditLog interface {
	LogMessage(ctx context.Context, entry AuditEntry) error
	MessageLogged(ctx context.Context, messageID string) (bool, error)
}

// CandidateQuery задаёт поиск встречных заявок.
type CandidateQuery struct {
	Type        RequestType
	Category    string
	Destination string
	DateFrom    *time.Time
	DateTo      *time.Time
	ExcludeID   string
}

// SnapshotQuery задаёт выборку открытых заявок для кластеризации.
type SnapshotQuery struct {
	Category string
	Since    time.Time
}

// RequestRepo управляет заявками.
type RequestRepo interface {
	FindOpenByHash(ctx context.Context, hash string) (Request, error)
	// InsertRequest возвращает ErrDuplicate, если открытая заявка с тем же хешем уже есть.
	InsertRequest(ctx context.Context, req Request) (Request, error)
	FindCandidates(ctx context.Context, q CandidateQuery) ([]Request, error)
	ListOpenSnapshot(ctx context.Context, q SnapshotQuery) ([]Request, error)
	GetRequests(ctx context.Context, ids []string) ([]Request, error)
	Stats(ctx context.Context) (RequestStats, error)
}

// MatchFilter ограничивает выборку матчей.
type MatchFilter struct {
	Notified *bool
}

// MatchRepo управляет матчами.
type MatchRepo interface {
	// CreateMatch сохраняет матч и переводит обе заявки в matched за один шаг.
	// Повторная пара в любом порядке возвращает ErrMatchExists.
	CreateMatch(ctx context.Context, m Match) (Match, error)
	ListMatches(ctx context.Context, f MatchFilter) ([]Match, error)
	MarkNotified(ctx context.Context, ids []string) error
}

// GroupRepo управляет списком отслеживаемых групп.
type GroupRepo interface {
	ListActiveGroups(ctx context.Context) ([]Group, error)
	ListGroups(ctx context.Context) ([]Group, error)
	// SeedGroups добавляет новые группы неактивными, существующие не трогает.
	SeedGroups(ctx context.Context, groups []Group) error
	// LatestGroupUpdate возвращает наибольший updated_at по часам хранилища; нулевое время, если групп нет.
	LatestGroupUpdate(ctx context.Context) (time.Time, error)
}

// SessionRepo хранит MTProto-сессии.
type SessionRepo interface {
	LoadMTProtoSession(ctx context.Context, name string) ([]byte, error)
	StoreMTProtoSession(ctx context.Context, name string, data []byte) error
}

// Extractor превращает текст в структурированную заявку.
type Extractor interface {
	Extract(ctx context.Context, body, senderName string, contextDate time.Time) (Extraction, error)
}

// SeenCache хранит разделяемую между процессами отметку обработанных сообщений.
type SeenCache interface {
	Seen(ctx context.Context, messageID string) (bool, error)
	MarkSeen(ctx context.Context, messageID string) error
}

// ConnectionEvent описывает смену состояния соединения транспорта.
type ConnectionEvent struct {
	Open   bool
	Reason string
}

// EventSink принимает события транспорта.
type EventSink interface {
	OnConnection(ctx context.Context, ev ConnectionEvent)
	OnMessages(ctx context.Context, msgs []RawMessage, history bool)
	OnIdentities(ctx context.Context, identities []ContactIdentity)
}

// Transport доставляет сообщения в реальном времени.
type Transport interface {
	Run(ctx context.Context, sink EventSink) error
}

// RosterSource возвращает участников групп.
type RosterSource interface {
	FetchRoster(ctx context.Context) ([]GroupRoster, error)
}

// HistorySource выгружает историю групп для догрузки.
type HistorySource interface {
	FetchHistory(ctx context.Context, groups []Group, since time.Time, limit int) ([]RawMessage, error)
}

// Sender отправляет текстовые сообщения.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}
