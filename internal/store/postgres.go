package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-reconciler/internal/model"
)

// Pool is the subset of pgxpool.Pool the Postgres adapter uses; pgxmock
// satisfies it in tests.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// Postgres implements Store over a Postgres database (including
// Supabase-hosted ones reached through their direct connection string).
type Postgres struct {
	pool   Pool
	schema Schema
}

// NewPostgres connects to connString and verifies the connection.
func NewPostgres(ctx context.Context, connString string, schema Schema, poolCfg *PoolConfig) (*Postgres, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}

	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// A reconciliation run needs few connections: reads run in parallel once,
	// writes are sequential.
	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &Postgres{pool: pool, schema: schema}, nil
}

// NewPostgresWithPool wraps an existing pool.
func NewPostgresWithPool(pool Pool, schema Schema) *Postgres {
	return &Postgres{pool: pool, schema: schema}
}

func (s *Postgres) Schema() Schema { return s.schema }

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

func (s *Postgres) ListLeads(ctx context.Context, f Filter) ([]model.Lead, error) {
	t := s.schema.Leads
	if err := f.validate(t.hasColumn); err != nil {
		return nil, err
	}

	q, args := postgresDialect.listLeads(t, f)
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list leads from %s", t.Table)
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		vals, dest := scanTargets(len(t.columns()))
		if err := rows.Scan(dest...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		leads = append(leads, leadFromRow(t, vals))
	}
	return leads, eris.Wrap(rows.Err(), "postgres: iterate leads")
}

func (s *Postgres) ListCategories(ctx context.Context, kind model.CategoryKind, f Filter) ([]model.CategoryRecord, error) {
	t, err := s.schema.Category(kind)
	if err != nil {
		return nil, err
	}
	if t.Table == "" {
		return nil, nil
	}
	if err := f.validate(t.hasColumn); err != nil {
		return nil, err
	}

	q, args := postgresDialect.listCategories(t, f)
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list %s", t.Table)
	}
	defer rows.Close()

	var out []model.CategoryRecord
	for rows.Next() {
		vals, dest := scanTargets(len(t.columns()))
		if err := rows.Scan(dest...); err != nil {
			return nil, eris.Wrapf(err, "postgres: scan %s", t.Table)
		}
		out = append(out, categoryFromRow(t, kind, vals))
	}
	return out, eris.Wrapf(rows.Err(), "postgres: iterate %s", t.Table)
}

func (s *Postgres) GetLead(ctx context.Context, id string) (model.Lookup[model.Lead], error) {
	t := s.schema.Leads
	vals, dest := scanTargets(len(t.columns()))

	err := s.pool.QueryRow(ctx, postgresDialect.getLead(t), id).Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.NotFound[model.Lead](), nil
	}
	if err != nil {
		return model.NotFound[model.Lead](), eris.Wrapf(err, "postgres: get lead %s", id)
	}
	return model.Found(leadFromRow(t, vals)), nil
}

func (s *Postgres) UpdateLead(ctx context.Context, id string, changes model.ChangeSet) error {
	t := s.schema.Leads
	if err := validateChanges(t, id, changes); err != nil {
		return err
	}

	q, args := postgresDialect.updateLead(t, id, changes)
	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update lead %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: lead not found: %s", id)
	}
	return nil
}
