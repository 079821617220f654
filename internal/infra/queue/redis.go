package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ride-match-bot/internal/domain"
	"ride-match-bot/internal/infra/metrics"
)

// RedisBackfillQueue реализует очередь задач на базе Redis lists.
type RedisBackfillQueue struct {
	client *redis.Client
	key    string
}

// NewRedisBackfillQueue создаёт очередь по указанному ключу.
func NewRedisBackfillQueue(client *redis.Client, key string) *RedisBackfillQueue {
	return &RedisBackfillQueue{client: client, key: key}
}

// Enqueue публикует задачу в очередь.
func (q *RedisBackfillQueue) Enqueue(ctx context.Context, job domain.BackfillJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу из очереди. Неуспешный ack возвращает задачу в хвост.
func (q *RedisBackfillQueue) Receive(ctx context.Context) (domain.BackfillJob, domain.AckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.BackfillJob{}, nil, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.BackfillJob{}, nil, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.BackfillJob{}, nil, err
		}
		if len(res) != 2 {
			return domain.BackfillJob{}, nil, errors.New("redis queue: unexpected response")
		}
		var job domain.BackfillJob
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			// битое сообщение не возвращаем в очередь
			continue
		}
		payload := res[1]
		return job, func(success bool) error {
			if success {
				return nil
			}
			return q.client.LPush(context.Background(), q.key, payload).Err()
		}, nil
	}
}
