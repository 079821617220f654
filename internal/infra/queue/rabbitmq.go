package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"ride-match-bot/internal/domain"
	"ride-match-bot/internal/infra/metrics"
)

// RabbitBackfillQueue реализует очередь задач через AMQP.
type RabbitBackfillQueue struct {
	conn  *amqp.Connection
	queue string

	pubMu sync.Mutex
	pub   *amqp.Channel

	subOnce sync.Once
	sub     *amqp.Channel
	subErr  error
	deliver <-chan amqp.Delivery
}

// NewRabbitBackfillQueue подключается к брокеру и объявляет долговечную очередь.
func NewRabbitBackfillQueue(url, queue string) (*RabbitBackfillQueue, error) {
	if url == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &RabbitBackfillQueue{conn: conn, queue: queue, pub: ch}, nil
}

// Enqueue публикует задачу в очередь.
func (q *RabbitBackfillQueue) Enqueue(ctx context.Context, job domain.BackfillJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	start := time.Now()
	err = q.pub.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Timestamp:    time.Now(),
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

func (q *RabbitBackfillQueue) consume() error {
	q.subOnce.Do(func() {
		ch, err := q.conn.Channel()
		if err != nil {
			q.subErr = fmt.Errorf("open channel: %w", err)
			return
		}
		if err := ch.Qos(1, 0, false); err != nil {
			q.subErr = fmt.Errorf("set qos: %w", err)
			return
		}
		msgs, err := ch.Consume(q.queue, "", false, false, false, false, nil)
		if err != nil {
			q.subErr = fmt.Errorf("consume: %w", err)
			return
		}
		q.sub = ch
		q.deliver = msgs
	})
	return q.subErr
}

// Receive блокирующе читает задачу. Битые сообщения отбрасываются без повторной доставки.
func (q *RabbitBackfillQueue) Receive(ctx context.Context) (domain.BackfillJob, domain.AckFunc, error) {
	if err := q.consume(); err != nil {
		return domain.BackfillJob{}, nil, err
	}
	for {
		select {
		case <-ctx.Done():
			return domain.BackfillJob{}, nil, ctx.Err()
		case d, ok := <-q.deliver:
			if !ok {
				return domain.BackfillJob{}, nil, errors.New("rabbitmq: delivery channel closed")
			}
			var job domain.BackfillJob
			if err := json.Unmarshal(d.Body, &job); err != nil {
				_ = d.Nack(false, false)
				continue
			}
			return job, func(success bool) error {
				if success {
					return d.Ack(false)
				}
				return d.Nack(false, true)
			}, nil
		}
	}
}

// Close закрывает каналы и соединение.
func (q *RabbitBackfillQueue) Close() error {
	if q.sub != nil {
		_ = q.sub.Close()
	}
	_ = q.pub.Close()
	return q.conn.Close()
}
