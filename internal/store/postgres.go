// internal/store/postgres.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/statepilot/api/schemas"
)

// DBPool abstracts pgxpool.Pool so the store can run against pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	sqlCreateSchema = `
        CREATE TABLE IF NOT EXISTS state_repositories (
            name        TEXT PRIMARY KEY,
            states      JSONB NOT NULL,
            state_count INTEGER NOT NULL,
            updated_at  TIMESTAMPTZ NOT NULL
        );
        CREATE TABLE IF NOT EXISTS state_repository_revisions (
            id          BIGSERIAL PRIMARY KEY,
            name        TEXT NOT NULL,
            states      JSONB NOT NULL,
            state_count INTEGER NOT NULL,
            saved_at    TIMESTAMPTZ NOT NULL
        );
    `
	sqlSelectStates = `SELECT states FROM state_repositories WHERE name = $1;`
	sqlUpsertStates = `
        INSERT INTO state_repositories (name, states, state_count, updated_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (name) DO UPDATE SET
            states = EXCLUDED.states,
            state_count = EXCLUDED.state_count,
            updated_at = EXCLUDED.updated_at;
    `
	sqlInsertRevision = `
        INSERT INTO state_repository_revisions (name, states, state_count, saved_at)
        VALUES ($1, $2, $3, $4);
    `
)

// PostgresStore keeps the current repository in state_repositories and an
// append-only copy of every save in state_repository_revisions.
type PostgresStore struct {
	pool   DBPool
	log    *zap.Logger
	closer func() error
}

var _ Repository = (*PostgresStore)(nil)

// NewPostgresStore verifies the connection before returning.
func NewPostgresStore(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the tables when they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, sqlCreateSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, name string) ([]schemas.State, error) {
	rows, err := s.pool.Query(ctx, sqlSelectStates, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query repository %q: %w", name, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("error during row iteration: %w", err)
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	var data []byte
	if err := rows.Scan(&data); err != nil {
		return nil, fmt.Errorf("failed to scan repository row: %w", err)
	}
	return unmarshalStates(data)
}

// Save replaces the current repository and records a revision in one
// transaction.
func (s *PostgresStore) Save(ctx context.Context, name string, states []schemas.State) error {
	data, err := marshalStates(states)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, sqlUpsertStates, name, string(data), len(states), now); err != nil {
		return fmt.Errorf("failed to upsert repository %q: %w", name, err)
	}
	if _, err := tx.Exec(ctx, sqlInsertRevision, name, string(data), len(states), now); err != nil {
		return fmt.Errorf("failed to record revision for %q: %w", name, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info("Repository saved.", zap.String("name", name), zap.Int("states", len(states)))
	return nil
}

func (s *PostgresStore) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
