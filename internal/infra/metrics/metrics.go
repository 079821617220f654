package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	MessagesIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "intake_messages_total",
		Help: "Входящие сообщения по результату обработки",
	}, []string{"outcome"})
	ExtractorErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "extractor_errors_total",
		Help: "Ошибки извлечения заявок",
	})
	RequestsSaved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "requests_saved_total",
		Help: "Сохранённые заявки по типу",
	}, []string{"type"})
	RequestsDuplicate = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "requests_duplicate_total",
		Help: "Заявки, отклонённые как дубликаты",
	})
	MatchesCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matches_created_total",
		Help: "Созданные матчи по уровню качества",
	}, []string{"quality"})
	ClustersBuilt = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "clusters_built",
		Help:    "Количество кластеров за один расчёт",
		Buckets: prometheus.LinearBuckets(0, 5, 10),
	})
	IdentityLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "identity_lookups_total",
		Help: "Разрешение идентификаторов по источнику",
	}, []string{"source"})
	BackfillJobs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "identity_backfill_jobs_total",
		Help: "Задачи переписывания идентификаторов по статусу",
	}, []string{"status"})
	BotSendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_send_errors_total",
		Help: "Ошибки отправки сообщений ботом",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60, 90, 120},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	LLMGenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_generation_duration_seconds",
		Help:    "Длительность генерации ответа LLM",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	LLMTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Количество токенов, использованных LLM",
	}, []string{"model", "type"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		MessagesIngested,
		ExtractorErrors,
		RequestsSaved,
		RequestsDuplicate,
		MatchesCreated,
		ClustersBuilt,
		IdentityLookups,
		BackfillJobs,
		BotSendErrors,
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveLLMGeneration записывает длительность и токены генерации LLM.
func ObserveLLMGeneration(model string, duration time.Duration, promptTokens, completionTokens, totalTokens int) {
	if model == "" {
		model = "unknown"
	}
	LLMGenerationDuration.WithLabelValues(model).Observe(duration.Seconds())
	if promptTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
	if totalTokens <= 0 {
		totalTokens = promptTokens + completionTokens
	}
	if totalTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "total").Add(float64(totalTokens))
	}
}

// IncIngest увеличивает счётчик входящих сообщений по результату.
func IncIngest(outcome string) {
	MessagesIngested.WithLabelValues(outcome).Inc()
}

// IncMatch увеличивает счётчик матчей по уровню качества.
func IncMatch(quality string) {
	MatchesCreated.WithLabelValues(quality).Inc()
}
