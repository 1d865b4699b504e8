package prompt

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// SQLStore is the sqlite-backed Store implementation.
type SQLStore struct {
	db *sqlx.DB
}

func NewSQLStore(dsn string) (*SQLStore, error) {
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return &SQLStore{db: db}, nil
}

func runMigrations(db *sqlx.DB) error {
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return err
	}

	d, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", d, "sqlite3", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

type promptRow struct {
	ID      string         `db:"id"`
	OrgID   string         `db:"org_id"`
	Deleted bool           `db:"deleted"`
	Name    sql.NullString `db:"name"`
}

type versionRow struct {
	ID          string         `db:"id"`
	PromptID    string         `db:"prompt_id"`
	Environment sql.NullString `db:"environment"`
	Model       sql.NullString `db:"model"`
	Body        []byte         `db:"body"`
	Production  bool           `db:"is_production"`
}

func (s *SQLStore) GetVersionByID(ctx context.Context, orgID, promptID, versionID string) (*Version, error) {
	if err := s.checkPrompt(ctx, orgID, promptID); err != nil {
		return nil, err
	}

	var row versionRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, prompt_id, environment, model, body, is_production
		   FROM prompt_versions WHERE prompt_id = ? AND id = ?`,
		promptID, versionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("version %s: %w", versionID, ErrVersionNotFound)
	}
	if err != nil {
		return nil, err
	}
	return row.toVersion()
}

func (s *SQLStore) GetVersionByEnvironment(ctx context.Context, orgID, promptID, environment string) (*Version, error) {
	if err := s.checkPrompt(ctx, orgID, promptID); err != nil {
		return nil, err
	}

	var row versionRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, prompt_id, environment, model, body, is_production
		   FROM prompt_versions WHERE prompt_id = ? AND environment = ?
		  ORDER BY created_at DESC LIMIT 1`,
		promptID, environment)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("environment %s: %w", environment, ErrVersionNotFound)
	}
	if err != nil {
		return nil, err
	}
	return row.toVersion()
}

func (s *SQLStore) GetProductionVersion(ctx context.Context, orgID, promptID string) (*Version, error) {
	if err := s.checkPrompt(ctx, orgID, promptID); err != nil {
		return nil, err
	}

	var row versionRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, prompt_id, environment, model, body, is_production
		   FROM prompt_versions WHERE prompt_id = ? AND is_production = 1
		  ORDER BY created_at DESC LIMIT 1`,
		promptID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("prompt %s: %w", promptID, ErrVersionNotFound)
	}
	if err != nil {
		return nil, err
	}
	return row.toVersion()
}

// checkPrompt distinguishes not-found, deleted, and unauthorized before any
// version lookup runs.
func (s *SQLStore) checkPrompt(ctx context.Context, orgID, promptID string) error {
	var row promptRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, org_id, deleted, name FROM prompts WHERE id = ?`, promptID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("prompt %s: %w", promptID, ErrPromptNotFound)
	}
	if err != nil {
		return err
	}
	if row.Deleted {
		return fmt.Errorf("prompt %s: %w", promptID, ErrPromptDeleted)
	}
	if row.OrgID != orgID {
		return fmt.Errorf("prompt %s: %w", promptID, ErrUnauthorized)
	}
	return nil
}

func (r versionRow) toVersion() (*Version, error) {
	v := &Version{
		ID:          r.ID,
		PromptID:    r.PromptID,
		Environment: r.Environment.String,
		Model:       r.Model.String,
		Production:  r.Production,
	}
	if len(r.Body) > 0 {
		if err := json.Unmarshal(r.Body, &v.Body); err != nil {
			return nil, fmt.Errorf("version %s: %w", r.ID, ErrMalformed)
		}
	}
	return v, nil
}

// SeedVersion inserts a prompt and one version; used by cmd/seed and tests.
func (s *SQLStore) SeedVersion(ctx context.Context, orgID string, v Version) error {
	body, err := json.Marshal(v.Body)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO prompts (id, org_id, deleted) VALUES (?, ?, 0)
		 ON CONFLICT(id) DO NOTHING`, v.PromptID, orgID)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO prompt_versions (id, prompt_id, environment, model, body, is_production)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		v.ID, v.PromptID, sqlNullable(v.Environment), sqlNullable(v.Model), body, v.Production)
	return err
}

// MarkDeleted soft-deletes a prompt; lookups report ErrPromptDeleted after.
func (s *SQLStore) MarkDeleted(ctx context.Context, promptID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE prompts SET deleted = 1 WHERE id = ?`, promptID)
	return err
}

func sqlNullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
