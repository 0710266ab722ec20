// internal/store/redis.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xkilldash9x/statepilot/api/schemas"
)

const defaultKeyPrefix = "statepilot:"

// RedisStore keeps each repository as a JSON string under
// <prefix>repository:<name> and tracks known names in a sorted set scored by
// the save time.
type RedisStore struct {
	client *redis.Client
	prefix string
	log    *zap.Logger
}

var _ Repository = (*RedisStore)(nil)

// NewRedisStore pings the server before returning.
func NewRedisStore(ctx context.Context, client *redis.Client, prefix string, logger *zap.Logger) (*RedisStore, error) {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		log:    logger.Named("store"),
	}, nil
}

func (s *RedisStore) key(name string) string {
	return s.prefix + "repository:" + name
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "repositories"
}

func (s *RedisStore) Load(ctx context.Context, name string) ([]schemas.State, error) {
	val, err := s.client.Get(ctx, s.key(name)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to load repository %q: %w", name, err)
	}
	return unmarshalStates(val)
}

func (s *RedisStore) Save(ctx context.Context, name string, states []schemas.State) error {
	data, err := marshalStates(states)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(name), data, 0)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{
			Score:  float64(time.Now().Unix()),
			Member: name,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save repository %q: %w", name, err)
	}
	s.log.Info("Repository saved.", zap.String("name", name), zap.Int("states", len(states)))
	return nil
}

// Names lists saved repositories, most recently saved first.
func (s *RedisStore) Names(ctx context.Context) ([]string, error) {
	names, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	return names, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
