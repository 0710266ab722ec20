// Package store persists state repositories between runs. A repository is
// loaded once before a run and saved once after it, never mid-run.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xkilldash9x/statepilot/api/schemas"
	"github.com/xkilldash9x/statepilot/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotFound is returned by Load when no repository exists under the name.
var ErrNotFound = errors.New("repository not found")

// Repository loads and saves named state repositories.
type Repository interface {
	Load(ctx context.Context, name string) ([]schemas.State, error)
	Save(ctx context.Context, name string, states []schemas.State) error
	Close() error
}

// Open builds the backend selected by cfg. For the file backend the name
// passed to Load and Save is a path; for the others it is a key.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Repository, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", config.StoreFile:
		return NewFileStore(cfg.Path, logger), nil

	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		s, err := NewPostgresStore(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		s.closer = func() error {
			pool.Close()
			return nil
		}
		return s, nil

	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s, err := NewRedisStore(ctx, client, cfg.Redis.KeyPrefix, logger)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return s, nil

	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Backend)
	}
}

// marshalStates always yields a JSON array, never null.
func marshalStates(states []schemas.State) ([]byte, error) {
	if states == nil {
		states = []schemas.State{}
	}
	data, err := json.Marshal(states)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal states: %w", err)
	}
	return data, nil
}

func unmarshalStates(data []byte) ([]schemas.State, error) {
	var states []schemas.State
	if err := json.Unmarshal(data, &states); err != nil {
		return nil, fmt.Errorf("failed to decode states: %w", err)
	}
	if states == nil {
		states = []schemas.State{}
	}
	return states, nil
}
