package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Backfill.Hours != 24 || cfg.Backfill.Limit != 50 {
		t.Fatalf("неожиданные параметры догрузки: %+v", cfg.Backfill)
	}
	if cfg.Caches.Dedup != 10000 || cfg.Caches.Groups != 500 {
		t.Fatalf("неожиданные размеры кэшей: %+v", cfg.Caches)
	}
	if cfg.Groups.PollInterval != time.Minute {
		t.Fatalf("ожидали опрос групп раз в минуту, получили %s", cfg.Groups.PollInterval)
	}
	if cfg.DefaultOrigin != "College Station" {
		t.Fatalf("неожиданный пункт отправления: %q", cfg.DefaultOrigin)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE", "memory")
	t.Setenv("BACKFILL_LIMIT", "10")
	t.Setenv("ADMIN_CHAT_ID", "-1001")
	cfg := Load()
	if cfg.Store != "memory" || cfg.Backfill.Limit != 10 || cfg.Telegram.AdminChatID != -1001 {
		t.Fatalf("переопределения не применились: %+v", cfg)
	}
}

func TestLocationFallback(t *testing.T) {
	cfg := AppConfig{TZ: "Nowhere/Invalid"}
	if cfg.Location() != time.UTC {
		t.Fatalf("ожидали UTC для неизвестного пояса")
	}
}
