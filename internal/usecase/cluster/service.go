package cluster

import (
	"context"
	"fmt"
	"time"

	"ride-match-bot/internal/domain"
	"ride-match-bot/internal/infra/metrics"
	"ride-match-bot/internal/usecase/location"
)

// Service строит кластеры по свежему снимку открытых заявок.
type Service struct {
	requests   domain.RequestRepo
	normalizer *location.Normalizer
	window     time.Duration
	now        func() time.Time
}

// NewService создаёт сервис; window ограничивает возраст заявок в снимке, 0 означает без ограничения.
func NewService(requests domain.RequestRepo, normalizer *location.Normalizer, window time.Duration) *Service {
	return &Service{requests: requests, normalizer: normalizer, window: window, now: time.Now}
}

// Clusters читает снимок и группирует его.
func (s *Service) Clusters(ctx context.Context, strict bool) ([]domain.Cluster, error) {
	q := domain.SnapshotQuery{}
	if s.window > 0 {
		q.Since = s.now().Add(-s.window)
	}
	snapshot, err := s.requests.ListOpenSnapshot(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	clusters := BuildClusters(snapshot, strict, s.normalizer)
	metrics.ClustersBuilt.Observe(float64(len(clusters)))
	return clusters, nil
}
