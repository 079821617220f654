package mtproto

import (
	"context"
	"errors"
	"fmt"

	"github.com/gotd/td/session"

	"ride-match-bot/internal/domain"
)

// SessionDB хранит сессию gotd в репозитории под именем name.
type SessionDB struct {
	repo domain.SessionRepo
	name string
}

var _ session.Storage = (*SessionDB)(nil)

// NewSessionDB создаёт хранилище сессии.
func NewSessionDB(repo domain.SessionRepo, name string) *SessionDB {
	return &SessionDB{repo: repo, name: name}
}

// LoadSession загружает сессию и переводит её из известных сторонних форматов.
func (s *SessionDB) LoadSession(ctx context.Context) ([]byte, error) {
	data, err := s.repo.LoadMTProtoSession(ctx, s.name)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, session.ErrNotFound
		}
		return nil, fmt.Errorf("mtproto: load session: %w", err)
	}
	normalized, converted, err := NormalizeSession(data)
	if err != nil {
		return nil, err
	}
	if converted {
		if err := s.repo.StoreMTProtoSession(ctx, s.name, normalized); err != nil {
			return nil, fmt.Errorf("mtproto: store converted session: %w", err)
		}
	}
	return normalized, nil
}

// StoreSession сохраняет сессию.
func (s *SessionDB) StoreSession(ctx context.Context, data []byte) error {
	return s.repo.StoreMTProtoSession(ctx, s.name, data)
}
