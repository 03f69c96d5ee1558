package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jomidokhol/nur-ai/internal/models"
	redisclient "github.com/jomidokhol/nur-ai/internal/redis"
)

// RedisStore keeps each record under a namespaced redis key.
type RedisStore struct {
	client *redisclient.Client
	keys   Keys
}

func NewRedisStore(client *redisclient.Client, keys Keys) *RedisStore {
	return &RedisStore{client: client, keys: keys}
}

func (s *RedisStore) Save(ctx context.Context, sessions []models.Session) error {
	raw, err := encodeSessions(sessions)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.keys.Sessions, raw, 0); err != nil {
		return fmt.Errorf("save sessions: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context) ([]models.Session, error) {
	raw, err := s.get(ctx, s.keys.Sessions)
	if err != nil {
		return nil, err
	}
	return decodeSessions(raw)
}

func (s *RedisStore) SaveTheme(ctx context.Context, theme models.Theme) error {
	if err := s.client.Set(ctx, s.keys.Theme, string(theme), 0); err != nil {
		return fmt.Errorf("save theme: %w", err)
	}
	return nil
}

func (s *RedisStore) LoadTheme(ctx context.Context) (models.Theme, error) {
	raw, err := s.get(ctx, s.keys.Theme)
	if err != nil {
		return "", err
	}
	return decodeTheme(raw)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) get(ctx context.Context, key string) (string, error) {
	raw, err := s.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, redisclient.ErrCacheMiss) {
			return "", ErrNoSnapshot
		}
		return "", fmt.Errorf("load %s: %w", key, err)
	}
	return raw, nil
}
