package domain

import (
	"context"
	"time"
)

// BackfillJob описывает задачу переписать устаревший идентификатор в исторических строках.
type BackfillJob struct {
	ID          string    `json:"job_id"`
	EphemeralID string    `json:"ephemeral_id"`
	StableID    string    `json:"stable_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// BackfillQueue описывает очередь задач догрузки идентичностей.
type BackfillQueue interface {
	Enqueue(ctx context.Context, job BackfillJob) error
	Receive(ctx context.Context) (BackfillJob, AckFunc, error)
}

// AckFunc подтверждает успешную обработку или запрашивает повтор доставки задачи.
type AckFunc func(success bool) error
