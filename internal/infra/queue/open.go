package queue

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"ride-match-bot/internal/domain"
)

// Open выбирает очередь догрузки: RabbitMQ, если задан url, затем Redis,
// иначе очередь в памяти. Возвращаемая функция освобождает соединение.
func Open(rabbitURL string, rdb *redis.Client, name string) (domain.BackfillQueue, func() error, error) {
	switch {
	case rabbitURL != "":
		q, err := NewRabbitBackfillQueue(rabbitURL, name)
		if err != nil {
			return nil, nil, fmt.Errorf("queue: rabbitmq: %w", err)
		}
		return q, q.Close, nil
	case rdb != nil:
		return NewRedisBackfillQueue(rdb, name), func() error { return nil }, nil
	default:
		return NewMemoryBackfillQueue(0), func() error { return nil }, nil
	}
}

// IsLocal сообщает, что очередь живёт только в текущем процессе.
func IsLocal(q domain.BackfillQueue) bool {
	_, ok := q.(*MemoryBackfillQueue)
	return ok
}
