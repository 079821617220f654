package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"ride-match-bot/internal/infra/metrics"
)

const seenPrefix = "seen:"

// RedisSeen отмечает обработанные сообщения в Redis, общий для всех процессов.
type RedisSeen struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSeen создаёт отметчик с указанным временем жизни ключей.
func NewRedisSeen(client *redis.Client, ttl time.Duration) *RedisSeen {
	return &RedisSeen{client: client, ttl: ttl}
}

// Seen сообщает, обрабатывалось ли сообщение.
func (c *RedisSeen) Seen(ctx context.Context, messageID string) (bool, error) {
	start := time.Now()
	n, err := c.client.Exists(ctx, seenPrefix+messageID).Result()
	metrics.ObserveNetworkRequest("redis", "exists", "seen", start, err)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkSeen отмечает сообщение обработанным.
func (c *RedisSeen) MarkSeen(ctx context.Context, messageID string) error {
	start := time.Now()
	err := c.client.SetNX(ctx, seenPrefix+messageID, "1", c.ttl).Err()
	metrics.ObserveNetworkRequest("redis", "setnx", "seen", start, err)
	return err
}

// Once выполняет функцию, если ключ ещё не задан; при ошибке ключ снимается.
func (c *RedisSeen) Once(ctx context.Context, key string, ttl time.Duration, fn func() error) error {
	ok, err := c.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := fn(); err != nil {
		_ = c.client.Del(ctx, key).Err()
		return err
	}
	return nil
}
