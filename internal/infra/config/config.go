package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	TZ     string `envconfig:"TZ" default:"America/Chicago"`
	Port   int    `envconfig:"PORT" default:"8080"`

	// Store выбирает хранилище: postgres или memory.
	Store string `envconfig:"STORE" default:"postgres"`
	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	Telegram struct {
		Token   string `envconfig:"TG_BOT_TOKEN"`
		APIID   int    `envconfig:"TG_API_ID"`
		APIHash string `envconfig:"TG_API_HASH"`
		// AdminChatID получает сводку новых матчей.
		AdminChatID int64 `envconfig:"ADMIN_CHAT_ID"`
	} `envconfig:""`

	MTProto struct {
		SessionName string `envconfig:"MTPROTO_SESSION_NAME" default:"default"`
		SessionFile string `envconfig:"MTPROTO_SESSION_FILE"`
	} `envconfig:""`

	LLM struct {
		APIKey  string        `envconfig:"LLM_API_KEY"`
		BaseURL string        `envconfig:"LLM_BASE_URL" default:"https://openrouter.ai/api/v1"`
		Model   string        `envconfig:"LLM_MODEL" default:"openai/gpt-4o-mini"`
		Timeout time.Duration `envconfig:"LLM_TIMEOUT" default:"30s"`
	} `envconfig:""`

	Backfill struct {
		Hours int `envconfig:"BACKFILL_HOURS" default:"24"`
		Limit int `envconfig:"BACKFILL_LIMIT" default:"50"`
	} `envconfig:""`

	Caches struct {
		Dedup         int           `envconfig:"DEDUP_CACHE_SIZE" default:"10000"`
		Identity      int           `envconfig:"IDENTITY_CACHE_SIZE" default:"10000"`
		Groups        int           `envconfig:"GROUP_CACHE_SIZE" default:"500"`
		ClearInterval time.Duration `envconfig:"CACHE_CLEAR_INTERVAL" default:"1h"`
		SeenTTL       time.Duration `envconfig:"SEEN_TTL" default:"72h"`
	} `envconfig:""`

	Groups struct {
		PollInterval time.Duration `envconfig:"GROUP_POLL_INTERVAL" default:"60s"`
	} `envconfig:""`

	Digest struct {
		Interval time.Duration `envconfig:"DIGEST_INTERVAL" default:"24h"`
	} `envconfig:""`

	Queues struct {
		RabbitURL string `envconfig:"RABBITMQ_URL"`
		Backfill  string `envconfig:"BACKFILL_QUEUE" default:"identity_backfill"`
	} `envconfig:""`

	API struct {
		Token string `envconfig:"API_TOKEN"`
	} `envconfig:""`

	MetricsAddr   string `envconfig:"METRICS_ADDR" default:":9090"`
	DefaultOrigin string `envconfig:"DEFAULT_ORIGIN" default:"College Station"`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// Location возвращает часовой пояс сервиса, по умолчанию UTC.
func (c AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.TZ)
	if err != nil {
		return time.UTC
	}
	return loc
}
