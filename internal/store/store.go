package store

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dgnsrekt/unitsync/internal/config"
	"github.com/dgnsrekt/unitsync/internal/unit"
)

var ErrUnknownKind = errors.New("unknown store kind")

// Store persists the latest state of every live unit keyed by id.
type Store interface {
	// Clear removes every persisted unit. It is idempotent.
	Clear(ctx context.Context) error
	// BulkUpsert inserts or replaces units by id.
	BulkUpsert(ctx context.Context, units []unit.Unit) error
	// BulkDelete removes units by id. Unknown ids are ignored.
	BulkDelete(ctx context.Context, ids []uint64) error
	Close() error
}

// New connects the store selected by cfg.Kind.
func New(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Kind {
	case config.StorePostgres:
		return NewPostgres(ctx, cfg.Postgres.DSN, cfg.Postgres.Table, logger)
	case config.StoreRedis:
		return NewRedis(ctx, RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
		}, logger)
	case config.StoreMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
}
