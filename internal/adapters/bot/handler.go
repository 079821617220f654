package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"ride-match-bot/internal/domain"
	"ride-match-bot/internal/usecase/cluster"
	"ride-match-bot/internal/usecase/digest"
)

// maxClusterLines ограничивает ответ на /clusters.
const maxClusterLines = 30

// Handler обслуживает команды администратора в личном чате с ботом.
type Handler struct {
	sender   domain.Sender
	digest   *digest.Service
	clusters *cluster.Service
	requests domain.RequestRepo
	adminID  int64
	log      zerolog.Logger
}

// NewHandler создаёт обработчик; команды принимаются только из чата adminID.
func NewHandler(sender domain.Sender, digestUC *digest.Service, clusterUC *cluster.Service, requests domain.RequestRepo, adminID int64, log zerolog.Logger) *Handler {
	return &Handler{sender: sender, digest: digestUC, clusters: clusterUC, requests: requests, adminID: adminID, log: log}
}

// HandleCommand разбирает команду и отвечает в тот же чат.
func (h *Handler) HandleCommand(ctx context.Context, chatID, userID int64, text string) {
	if h.adminID == 0 || chatID != h.adminID {
		h.log.Debug().Int64("chat", chatID).Int64("user", userID).Msg("bot: команда не из чата администратора")
		return
	}
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return
	}
	cmd := strings.ToLower(fields[0])
	if i := strings.Index(cmd, "@"); i > 0 {
		cmd = cmd[:i]
	}
	args := fields[1:]

	switch cmd {
	case "/start", "/help":
		h.reply(ctx, chatID, helpMessage)
	case "/stats":
		h.handleStats(ctx, chatID)
	case "/digest":
		h.handleDigest(ctx, chatID)
	case "/clusters":
		strict := len(args) > 0 && strings.EqualFold(args[0], "strict")
		h.handleClusters(ctx, chatID, strict)
	default:
		h.reply(ctx, chatID, "Unknown command. Use /help")
	}
}

func (h *Handler) handleStats(ctx context.Context, chatID int64) {
	st, err := h.requests.Stats(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("bot: не удалось получить статистику")
		h.reply(ctx, chatID, "Could not load stats, try again later")
		return
	}
	h.reply(ctx, chatID, FormatStats(st))
}

func (h *Handler) handleDigest(ctx context.Context, chatID int64) {
	if h.digest == nil {
		h.reply(ctx, chatID, "Digest is not configured")
		return
	}
	res, err := h.digest.SendReview(ctx)
	switch {
	case errors.Is(err, digest.ErrNoRecipient):
		h.reply(ctx, chatID, "ADMIN_CHAT_ID is not set")
	case err != nil:
		h.log.Error().Err(err).Msg("bot: не удалось отправить дайджест")
		h.reply(ctx, chatID, "Digest failed: "+err.Error())
	default:
		h.log.Info().Int("matches", res.Matches).Msg("bot: дайджест отправлен по команде")
	}
}

func (h *Handler) handleClusters(ctx context.Context, chatID int64, strict bool) {
	if h.clusters == nil {
		h.reply(ctx, chatID, "Clusters are not configured")
		return
	}
	list, err := h.clusters.Clusters(ctx, strict)
	if err != nil {
		h.log.Error().Err(err).Msg("bot: не удалось построить кластеры")
		h.reply(ctx, chatID, "Could not build clusters, try again later")
		return
	}
	h.reply(ctx, chatID, FormatClusters(list, maxClusterLines))
}

func (h *Handler) reply(ctx context.Context, chatID int64, text string) {
	if err := h.sender.Send(ctx, chatID, text); err != nil {
		h.log.Error().Err(err).Msg("bot: не удалось отправить сообщение")
	}
}

// FormatStats печатает сводку по заявкам.
func FormatStats(st domain.RequestStats) string {
	return fmt.Sprintf("📊 Requests: %d\nNeeds: %d · Offers: %d\nOpen: %d · Matched: %d", st.Total, st.Needs, st.Offers, st.Open, st.Matched)
}

// FormatClusters печатает кластеры по одной строке, не больше limit строк.
func FormatClusters(list []domain.Cluster, limit int) string {
	if len(list) == 0 {
		return "No open clusters"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🧩 Open clusters: %d", len(list))
	for i, c := range list {
		if limit > 0 && i >= limit {
			fmt.Fprintf(&b, "\n… and %d more", len(list)-limit)
			break
		}
		date := digest.FormatDate(c.RepresentativeDate)
		driver := "no driver"
		if c.Driver != nil {
			driver = "driver: " + firstNonEmpty(c.Driver.SenderName, c.Driver.SourceContact)
		}
		fmt.Fprintf(&b, "\n%s %s → %s · %s · %s, riders: %d", qualityMark(c.Quality), c.Origin, c.Destination, date, driver, len(c.Riders))
		if c.Gap != "" {
			b.WriteString("\n   " + c.Gap)
		}
	}
	return b.String()
}

func qualityMark(q domain.QualityTier) string {
	switch q {
	case domain.QualityStrong:
		return "🟢"
	case domain.QualityMedium:
		return "🟡"
	}
	return "🔴"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return "unknown"
}

const helpMessage = `Ride match admin commands:
/stats — request totals
/digest — send the review digest of new matches now
/clusters — open ride clusters (add "strict" for exact dates only)
/help — this message`
