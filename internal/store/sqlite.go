package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/lead-reconciler/internal/model"
)

// SQLite implements Store over a SQLite file. It serves local snapshots and
// fixture databases. Substring matching folds ASCII case only.
type SQLite struct {
	db     *sql.DB
	schema Schema
}

// NewSQLite opens the database at dsn and configures WAL mode.
func NewSQLite(dsn string, schema Schema) (*SQLite, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLite{db: db, schema: schema}, nil
}

// CreateTables creates the schema's tables when missing, every column TEXT.
// Used to bootstrap fixture databases.
func (s *SQLite) CreateTables(ctx context.Context) error {
	ddl := []string{createTableSQL(s.schema.Leads.Table, s.schema.Leads.ID, withOrder(s.schema.Leads.columns(), s.schema.Leads.OrderBy))}
	for _, c := range []CategoryTable{s.schema.Enterprises, s.schema.LeadSources} {
		if c.Table == "" {
			continue
		}
		ddl = append(ddl, createTableSQL(c.Table, c.ID, withOrder(c.columns(), c.OrderBy)))
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return eris.Wrap(err, "sqlite: create tables")
		}
	}
	return nil
}

func withOrder(cols []string, orderBy string) []string {
	if orderBy == "" {
		return cols
	}
	for _, c := range cols {
		if c == orderBy {
			return cols
		}
	}
	return append(cols, orderBy)
}

func createTableSQL(table, id string, cols []string) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = quoteSQLite(c) + " TEXT"
		if c == id {
			defs[i] += " PRIMARY KEY"
		}
	}
	return "CREATE TABLE IF NOT EXISTS " + quoteSQLite(table) + " (" + strings.Join(defs, ", ") + ")"
}

func (s *SQLite) Schema() Schema { return s.schema }

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) ListLeads(ctx context.Context, f Filter) ([]model.Lead, error) {
	t := s.schema.Leads
	if err := f.validate(t.hasColumn); err != nil {
		return nil, err
	}

	q, args := sqliteDialect.listLeads(t, f)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list leads from %s", t.Table)
	}
	defer rows.Close() //nolint:errcheck

	var leads []model.Lead
	for rows.Next() {
		vals, dest := scanTargets(len(t.columns()))
		if err := rows.Scan(dest...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		leads = append(leads, leadFromRow(t, vals))
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: iterate leads")
}

func (s *SQLite) ListCategories(ctx context.Context, kind model.CategoryKind, f Filter) ([]model.CategoryRecord, error) {
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

	q, args := sqliteDialect.listCategories(t, f)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list %s", t.Table)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CategoryRecord
	for rows.Next() {
		vals, dest := scanTargets(len(t.columns()))
		if err := rows.Scan(dest...); err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan %s", t.Table)
		}
		out = append(out, categoryFromRow(t, kind, vals))
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: iterate %s", t.Table)
}

func (s *SQLite) GetLead(ctx context.Context, id string) (model.Lookup[model.Lead], error) {
	t := s.schema.Leads
	vals, dest := scanTargets(len(t.columns()))

	err := s.db.QueryRowContext(ctx, sqliteDialect.getLead(t), id).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return model.NotFound[model.Lead](), nil
	}
	if err != nil {
		return model.NotFound[model.Lead](), eris.Wrapf(err, "sqlite: get lead %s", id)
	}
	return model.Found(leadFromRow(t, vals)), nil
}

func (s *SQLite) UpdateLead(ctx context.Context, id string, changes model.ChangeSet) error {
	t := s.schema.Leads
	if err := validateChanges(t, id, changes); err != nil {
		return err
	}

	q, args := sqliteDialect.updateLead(t, id, changes)
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update lead %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("sqlite: lead not found: %s", id)
	}
	return nil
}
