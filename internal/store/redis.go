package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dgnsrekt/unitsync/internal/unit"
)

// redisChunk caps the number of fields sent in a single HSET/HDEL.
const redisChunk = 512

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// Redis keeps all units in one hash: field is the decimal id, value is the
// JSON encoded unit.
type Redis struct {
	client *redis.Client
	key    string
	logger *zap.Logger
}

// Compile-time interface verification
var _ Store = (*Redis)(nil)

func NewRedis(ctx context.Context, opts RedisOptions, logger *zap.Logger) (*Redis, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if opts.Key == "" {
		opts.Key = "units"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	logger.Info("connected to redis",
		zap.String("addr", opts.Addr),
		zap.Int("db", opts.DB),
		zap.String("key", opts.Key),
	)
	return &Redis{client: client, key: opts.Key, logger: logger}, nil
}

func (r *Redis) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("deleting %s: %w", r.key, err)
	}
	return nil
}

func (r *Redis) BulkUpsert(ctx context.Context, units []unit.Unit) error {
	if len(units) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for start := 0; start < len(units); start += redisChunk {
		end := min(start+redisChunk, len(units))
		values := make([]any, 0, 2*(end-start))
		for _, u := range units[start:end] {
			payload, err := unit.EncodeJSON(u)
			if err != nil {
				return fmt.Errorf("encoding unit %d: %w", u.ID, err)
			}
			values = append(values, strconv.FormatUint(u.ID, 10), payload)
		}
		pipe.HSet(ctx, r.key, values...)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("executing upsert pipeline: %w", err)
	}
	return nil
}

func (r *Redis) BulkDelete(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for start := 0; start < len(ids); start += redisChunk {
		end := min(start+redisChunk, len(ids))
		fields := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			fields = append(fields, strconv.FormatUint(id, 10))
		}
		pipe.HDel(ctx, r.key, fields...)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("executing delete pipeline: %w", err)
	}
	return nil
}

// get loads a single unit; the bool is false when id is not stored.
func (r *Redis) get(ctx context.Context, id uint64) (unit.Unit, bool, error) {
	payload, err := r.client.HGet(ctx, r.key, strconv.FormatUint(id, 10)).Bytes()
	if errors.Is(err, redis.Nil) {
		return unit.Unit{}, false, nil
	}
	if err != nil {
		return unit.Unit{}, false, err
	}

	units, err := unit.DecodeJSON(payload)
	if err != nil {
		return unit.Unit{}, false, fmt.Errorf("decoding unit %d: %w", id, err)
	}
	if len(units) != 1 {
		return unit.Unit{}, false, fmt.Errorf("decoding unit %d: %w", id, unit.ErrMalformed)
	}
	return units[0], true, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
