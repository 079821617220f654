package domain

import (
	"encoding/json"
	"time"
)

// RequestType различает потребность и предложение поездки.
type RequestType string

const (
	// RequestNeed: человек ищет поездку или помощь.
	RequestNeed RequestType = "need"
	// RequestOffer: человек предлагает поездку или помощь.
	RequestOffer RequestType = "offer"
)

// Opposite возвращает встречный тип заявки.
func (t RequestType) Opposite() RequestType {
	if t == RequestNeed {
		return RequestOffer
	}
	return RequestNeed
}

// Valid сообщает, известен ли тип.
func (t RequestType) Valid() bool {
	return t == RequestNeed || t == RequestOffer
}

// RequestStatus описывает жизненный цикл заявки.
type RequestStatus string

const (
	StatusOpen    RequestStatus = "open"
	StatusMatched RequestStatus = "matched"
)

// QualityTier описывает грубую оценку уверенности в дате и времени.
type QualityTier string

const (
	QualityStrong QualityTier = "strong"
	QualityMedium QualityTier = "medium"
	QualityLow    QualityTier = "low"
)

// CategoryRide обозначает категорию поездок, для которой сравниваются маршруты.
const CategoryRide = "ride"

// ContactIdentity связывает эфемерный идентификатор отправителя со стабильным.
type ContactIdentity struct {
	EphemeralID string
	StableID    string
	DisplayName string
	UpdatedAt   time.Time
}

// RawMessage представляет входящее сообщение транспорта до разбора.
type RawMessage struct {
	MessageID         string
	GroupID           string
	GroupTitle        string
	SenderIdentity    string
	SenderDisplayName string
	Body              string
	Timestamp         time.Time
}

// ParsedRequest описывает структурированную заявку, извлечённую из текста.
type ParsedRequest struct {
	Type          RequestType
	Category      string
	Date          *time.Time
	DateFuzzy     bool
	PossibleDates []time.Time
	Time          string
	TimeFuzzy     bool
	Origin        string
	Destination   string
	Details       map[string]any
}

// Extraction хранит результат экстрактора: либо заявку, либо «не заявка».
// Raw хранит исходный ответ для журнала.
type Extraction struct {
	Request *ParsedRequest
	Raw     json.RawMessage
}

// NotARequest строит результат для обычной болтовни.
func NotARequest(raw json.RawMessage) Extraction {
	return Extraction{Raw: raw}
}

// IsRequest сообщает, содержит ли результат заявку.
func (e Extraction) IsRequest() bool {
	return e.Request != nil
}

// NewParsedRequest собирает заявку и приводит даты к календарным.
// Неуверенные даты сохраняются только при DateFuzzy.
func NewParsedRequest(p ParsedRequest) ParsedRequest {
	if p.Date != nil {
		d := DateOf(*p.Date)
		p.Date = &d
	}
	if !p.DateFuzzy {
		p.PossibleDates = nil
	} else {
		dates := make([]time.Time, 0, len(p.PossibleDates))
		for _, d := range p.PossibleDates {
			dates = append(dates, DateOf(d))
		}
		p.PossibleDates = dates
	}
	if p.Details == nil {
		p.Details = map[string]any{}
	}
	return p
}

// Request представляет сохранённую заявку.
type Request struct {
	ID string
	ParsedRequest
	SourceGroup   string
	SourceContact string
	SenderName    string
	RawMessage    string
	Status        RequestStatus
	ContentHash   string
	CreatedAt     time.Time
}

// Match описывает найденную пару потребности и предложения.
type Match struct {
	ID        string
	NeedID    string
	OfferID   string
	Score     float64
	Quality   QualityTier
	Notified  bool
	CreatedAt time.Time
}

// MatchDetails содержит матч вместе с обеими заявками.
type MatchDetails struct {
	Match Match
	Need  Request
	Offer Request
}

// Cluster описывает группу заявок по маршруту и дате, вычисляется на лету.
type Cluster struct {
	Origin             string
	Destination        string
	Members            []Request
	Driver             *Request
	Riders             []Request
	Quality            QualityTier
	RepresentativeDate *time.Time
	RepresentativeTime string
	Gap                string
}

// AuditEntry представляет строку журнала обработанных сообщений.
type AuditEntry struct {
	ID            string
	MessageID     string
	SourceGroup   string
	SourceContact string
	SenderName    string
	Body          string
	IsRequest     bool
	Parsed        json.RawMessage
	Error         string
	CreatedAt     time.Time
}

// Group описывает отслеживаемый групповой чат.
type Group struct {
	ID        string
	Name      string
	Active    bool
	IsTest    bool
	UpdatedAt time.Time
}

// GroupRoster хранит участников группы с известными парами идентификаторов.
type GroupRoster struct {
	Group   Group
	Members []ContactIdentity
}

// RequestStats содержит сводку по заявкам.
type RequestStats struct {
	Total   int
	Needs   int
	Offers  int
	Open    int
	Matched int
}
