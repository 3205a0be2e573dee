package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/dgnsrekt/unitsync/internal/unit"
)

const stagingTable = "unit_staging"

var unitColumns = []string{"id", "kind", "owner", "x", "y", "health", "frame"}

// Postgres keeps one row per unit. Ids are stored as BIGINT using the two's
// complement bit pattern of the uint64 id.
type Postgres struct {
	pool   *pgxpool.Pool
	table  string
	logger *zap.Logger
}

// Compile-time interface verification
var _ Store = (*Postgres)(nil)

func NewPostgres(ctx context.Context, dsn, table string, logger *zap.Logger) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	p := &Postgres{
		pool:   pool,
		table:  tableIdentifier(table).Sanitize(),
		logger: logger,
	}
	if err := p.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("connected to postgres",
		zap.String("host", poolCfg.ConnConfig.Host),
		zap.String("database", poolCfg.ConnConfig.Database),
		zap.String("table", p.table),
	)
	return p, nil
}

// tableIdentifier splits an optionally schema-qualified table name.
func tableIdentifier(table string) pgx.Identifier {
	if table == "" {
		table = "units"
	}
	return pgx.Identifier(strings.Split(table, "."))
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
id bigint PRIMARY KEY,
kind text NOT NULL DEFAULT '',
owner integer NOT NULL DEFAULT 0,
x double precision NOT NULL DEFAULT 0,
y double precision NOT NULL DEFAULT 0,
health integer NOT NULL DEFAULT 0,
frame bigint NOT NULL DEFAULT 0,
updated_at timestamptz NOT NULL DEFAULT now()
);
`, p.table))
	if err != nil {
		return fmt.Errorf("creating units table: %w", err)
	}
	return nil
}

func (p *Postgres) Clear(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s", p.table)); err != nil {
		return fmt.Errorf("truncating %s: %w", p.table, err)
	}
	return nil
}

// BulkUpsert copies units into a transaction-scoped staging table and merges
// them into the main table in one statement.
func (p *Postgres) BulkUpsert(ctx context.Context, units []unit.Unit) error {
	if len(units) == 0 {
		return nil
	}

	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, fmt.Sprintf(
			"CREATE TEMPORARY TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
			stagingTable, p.table,
		))
		if err != nil {
			return fmt.Errorf("creating staging table: %w", err)
		}

		n, err := tx.CopyFrom(ctx,
			pgx.Identifier{stagingTable},
			unitColumns,
			pgx.CopyFromSlice(len(units), func(i int) ([]any, error) {
				u := units[i]
				return []any{int64(u.ID), u.Kind, u.Owner, u.X, u.Y, u.Health, int64(u.Frame)}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("copying units: %w", err)
		}
		if n != int64(len(units)) {
			return fmt.Errorf("copied %d of %d units", n, len(units))
		}

		if _, err := tx.Exec(ctx, upsertStatement(p.table)); err != nil {
			return fmt.Errorf("merging units: %w", err)
		}
		return nil
	})
}

func upsertStatement(table string) string {
	cols := strings.Join(unitColumns, ", ")
	updates := make([]string, 0, len(unitColumns))
	for _, c := range unitColumns[1:] {
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}
	updates = append(updates, "updated_at = now()")

	return fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (id) DO UPDATE SET %s",
		table, cols, cols, stagingTable, strings.Join(updates, ", "),
	)
}

func (p *Postgres) BulkDelete(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}

	keys := make([]int64, len(ids))
	for i, id := range ids {
		keys[i] = int64(id)
	}
	if _, err := p.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ANY($1)", p.table), keys); err != nil {
		return fmt.Errorf("deleting units: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
