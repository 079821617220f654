package queue

import (
	"context"
	"errors"

	"ride-match-bot/internal/domain"
)

// ErrQueueFull возвращается, когда буфер очереди в памяти заполнен.
var ErrQueueFull = errors.New("queue is full")

// MemoryBackfillQueue реализует очередь в памяти для одиночного процесса и тестов.
type MemoryBackfillQueue struct {
	jobs chan domain.BackfillJob
}

// NewMemoryBackfillQueue создаёт очередь с указанной ёмкостью.
func NewMemoryBackfillQueue(capacity int) *MemoryBackfillQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryBackfillQueue{jobs: make(chan domain.BackfillJob, capacity)}
}

// Enqueue кладёт задачу без блокировки.
func (q *MemoryBackfillQueue) Enqueue(ctx context.Context, job domain.BackfillJob) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Receive блокирующе читает задачу; неуспешный ack возвращает её в очередь.
func (q *MemoryBackfillQueue) Receive(ctx context.Context) (domain.BackfillJob, domain.AckFunc, error) {
	select {
	case <-ctx.Done():
		return domain.BackfillJob{}, nil, ctx.Err()
	case job := <-q.jobs:
		return job, func(success bool) error {
			if success {
				return nil
			}
			return q.Enqueue(context.Background(), job)
		}, nil
	}
}

// Len возвращает число ожидающих задач.
func (q *MemoryBackfillQueue) Len() int {
	return len(q.jobs)
}
