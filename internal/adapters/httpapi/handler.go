package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"ride-match-bot/internal/domain"
	httpinfra "ride-match-bot/internal/infra/http"
	"ride-match-bot/internal/usecase/digest"
)

// ClusterSource строит кластеры открытых заявок.
type ClusterSource interface {
	Clusters(ctx context.Context, strict bool) ([]domain.Cluster, error)
}

// ReviewSender отправляет дайджест по запросу.
type ReviewSender interface {
	SendReview(ctx context.Context) (digest.Result, error)
}

// Handler обслуживает API для ручной проверки матчей и кластеров.
type Handler struct {
	clusters ClusterSource
	requests domain.RequestRepo
	matches  domain.MatchRepo
	review   ReviewSender
	log      zerolog.Logger
}

// NewHandler создаёт обработчик API; review может быть nil.
func NewHandler(clusters ClusterSource, requests domain.RequestRepo, matches domain.MatchRepo, review ReviewSender, log zerolog.Logger) *Handler {
	return &Handler{clusters: clusters, requests: requests, matches: matches, review: review, log: log}
}

// Routes регистрирует маршруты /api/v1.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/v1/clusters", h.listClusters)
	r.Get("/api/v1/matches", h.listMatches)
	r.Post("/api/v1/matches/{id}/notified", h.markNotified)
	r.Get("/api/v1/stats", h.stats)
	r.Post("/api/v1/digest/send", h.sendDigest)
}

func (h *Handler) listClusters(w http.ResponseWriter, r *http.Request) {
	strict, err := optionalBool(r, "strict")
	if err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, "strict must be a boolean")
		return
	}
	clusters, err := h.clusters.Clusters(r.Context(), strict != nil && *strict)
	if err != nil {
		h.log.Error().Err(err).Msg("api: не удалось построить кластеры")
		httpinfra.WriteError(w, http.StatusInternalServerError, "failed to build clusters")
		return
	}
	out := make([]clusterDTO, 0, len(clusters))
	for _, c := range clusters {
		out = append(out, toClusterDTO(c))
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"clusters": out})
}

func (h *Handler) listMatches(w http.ResponseWriter, r *http.Request) {
	notified, err := optionalBool(r, "notified")
	if err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, "notified must be a boolean")
		return
	}
	ctx := r.Context()
	matches, err := h.matches.ListMatches(ctx, domain.MatchFilter{Notified: notified})
	if err != nil {
		h.log.Error().Err(err).Msg("api: не удалось получить матчи")
		httpinfra.WriteError(w, http.StatusInternalServerError, "failed to list matches")
		return
	}
	ids := make([]string, 0, len(matches)*2)
	for _, m := range matches {
		ids = append(ids, m.NeedID, m.OfferID)
	}
	byID := map[string]domain.Request{}
	if len(ids) > 0 {
		reqs, err := h.requests.GetRequests(ctx, ids)
		if err != nil {
			h.log.Error().Err(err).Msg("api: не удалось получить заявки")
			httpinfra.WriteError(w, http.StatusInternalServerError, "failed to load requests")
			return
		}
		for _, req := range reqs {
			byID[req.ID] = req
		}
	}
	out := make([]matchDTO, 0, len(matches))
	for _, m := range matches {
		dto := toMatchDTO(m)
		if need, ok := byID[m.NeedID]; ok {
			n := toRequestDTO(need)
			dto.Need = &n
		}
		if offer, ok := byID[m.OfferID]; ok {
			o := toRequestDTO(offer)
			dto.Offer = &o
		}
		out = append(out, dto)
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"matches": out})
}

func (h *Handler) markNotified(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		httpinfra.WriteError(w, http.StatusBadRequest, "id is required")
		return
	}
	if err := h.matches.MarkNotified(r.Context(), []string{id}); err != nil {
		h.log.Error().Err(err).Str("match_id", id).Msg("api: не удалось отметить матч")
		httpinfra.WriteError(w, http.StatusInternalServerError, "failed to mark match")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.requests.Stats(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("api: не удалось получить статистику")
		httpinfra.WriteError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, statsDTO{Total: st.Total, Needs: st.Needs, Offers: st.Offers, Open: st.Open, Matched: st.Matched})
}

func (h *Handler) sendDigest(w http.ResponseWriter, r *http.Request) {
	if h.review == nil {
		httpinfra.WriteError(w, http.StatusServiceUnavailable, "digest is not configured")
		return
	}
	res, err := h.review.SendReview(r.Context())
	if err != nil {
		if errors.Is(err, digest.ErrNoRecipient) {
			httpinfra.WriteError(w, http.StatusServiceUnavailable, "admin chat is not configured")
			return
		}
		h.log.Error().Err(err).Msg("api: не удалось отправить дайджест")
		httpinfra.WriteError(w, http.StatusBadGateway, "failed to send digest")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"sent": res.Sent, "matches": res.Matches})
}

func optionalBool(r *http.Request, key string) (*bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

type requestDTO struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Category      string         `json:"category"`
	Date          string         `json:"date,omitempty"`
	DateFuzzy     bool           `json:"date_fuzzy"`
	PossibleDates []string       `json:"possible_dates,omitempty"`
	Time          string         `json:"time,omitempty"`
	TimeFuzzy     bool           `json:"time_fuzzy"`
	Origin        string         `json:"origin,omitempty"`
	Destination   string         `json:"destination,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
	SourceGroup   string         `json:"source_group"`
	SourceContact string         `json:"source_contact"`
	SenderName    string         `json:"sender_name"`
	RawMessage    string         `json:"raw_message"`
	Status        string         `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
}

func toRequestDTO(r domain.Request) requestDTO {
	dto := requestDTO{
		ID:            r.ID,
		Type:          string(r.Type),
		Category:      r.Category,
		Date:          domain.FormatDate(r.Date),
		DateFuzzy:     r.DateFuzzy,
		Time:          r.Time,
		TimeFuzzy:     r.TimeFuzzy,
		Origin:        r.Origin,
		Destination:   r.Destination,
		Details:       r.Details,
		SourceGroup:   r.SourceGroup,
		SourceContact: r.SourceContact,
		SenderName:    r.SenderName,
		RawMessage:    r.RawMessage,
		Status:        string(r.Status),
		CreatedAt:     r.CreatedAt,
	}
	for i := range r.PossibleDates {
		dto.PossibleDates = append(dto.PossibleDates, domain.FormatDate(&r.PossibleDates[i]))
	}
	return dto
}

type matchDTO struct {
	ID        string      `json:"id"`
	NeedID    string      `json:"need_id"`
	OfferID   string      `json:"offer_id"`
	Score     float64     `json:"score"`
	Quality   string      `json:"quality"`
	Notified  bool        `json:"notified"`
	CreatedAt time.Time   `json:"created_at"`
	Need      *requestDTO `json:"need,omitempty"`
	Offer     *requestDTO `json:"offer,omitempty"`
}

func toMatchDTO(m domain.Match) matchDTO {
	return matchDTO{
		ID:        m.ID,
		NeedID:    m.NeedID,
		OfferID:   m.OfferID,
		Score:     m.Score,
		Quality:   string(m.Quality),
		Notified:  m.Notified,
		CreatedAt: m.CreatedAt,
	}
}

type clusterDTO struct {
	Origin             string       `json:"origin"`
	Destination        string       `json:"destination"`
	Quality            string       `json:"quality"`
	RepresentativeDate string       `json:"representative_date,omitempty"`
	RepresentativeTime string       `json:"representative_time,omitempty"`
	Gap                string       `json:"gap,omitempty"`
	Driver             *requestDTO  `json:"driver,omitempty"`
	Riders             []requestDTO `json:"riders"`
	Members            []requestDTO `json:"members"`
}

func toClusterDTO(c domain.Cluster) clusterDTO {
	dto := clusterDTO{
		Origin:             c.Origin,
		Destination:        c.Destination,
		Quality:            string(c.Quality),
		RepresentativeDate: domain.FormatDate(c.RepresentativeDate),
		RepresentativeTime: c.RepresentativeTime,
		Gap:                c.Gap,
		Riders:             make([]requestDTO, 0, len(c.Riders)),
		Members:            make([]requestDTO, 0, len(c.Members)),
	}
	if c.Driver != nil {
		d := toRequestDTO(*c.Driver)
		dto.Driver = &d
	}
	for _, r := range c.Riders {
		dto.Riders = append(dto.Riders, toRequestDTO(r))
	}
	for _, m := range c.Members {
		dto.Members = append(dto.Members, toRequestDTO(m))
	}
	return dto
}

type statsDTO struct {
	Total   int `json:"total"`
	Needs   int `json:"needs"`
	Offers  int `json:"offers"`
	Open    int `json:"open"`
	Matched int `json:"matched"`
}
