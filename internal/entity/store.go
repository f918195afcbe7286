// Package entity resolves entity configuration and filters the tool
// set each entity is allowed to see: document-backed CRUD over a
// Postgres table, system-entity lookup, tool-name migration, and
// secret encryption.
package entity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/cortexd/runtime/internal/apperrors"
	"github.com/cortexd/runtime/pkg/models"
)

// Store is the document-backed entity table: one JSONB column holding
// the full entity, with a handful of generated columns for the
// lookups the resolver actually needs to index on.
type Store struct {
	db *sql.DB
}

// Config configures the entity store's Postgres connection.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	RunMigrations   bool
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS entities (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	is_system  BOOLEAN NOT NULL DEFAULT false,
	is_default BOOLEAN NOT NULL DEFAULT false,
	body       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entities_system_name ON entities (is_system, lower(name));
CREATE UNIQUE INDEX IF NOT EXISTS idx_entities_default ON entities (is_default) WHERE is_default;
`

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return apperrors.Wrap(apperrors.Configuration, "entity.migrate", err)
	}
	return nil
}

// New opens the Postgres connection and verifies reachability.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, apperrors.New(apperrors.Configuration, "entity.New", "dsn is required")
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Configuration, "entity.New", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, apperrors.Wrap(apperrors.Remote, "entity.New", fmt.Errorf("ping: %w", err))
	}
	store := &Store{db: db}
	if cfg.RunMigrations {
		if err := store.migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return store, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create inserts a new entity, assigning an ID if absent.
func (s *Store) Create(ctx context.Context, e *models.Entity) error {
	if e == nil {
		return apperrors.New(apperrors.Validation, "entity.Create", "entity is nil")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	body, err := json.Marshal(e)
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "entity.Create", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (id, name, is_system, is_default, body, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, e.Name, e.IsSystem, e.IsDefault, body, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.New(apperrors.Validation, "entity.Create", "entity id already exists")
		}
		return apperrors.Wrap(apperrors.Internal, "entity.Create", err)
	}
	return nil
}

// Get loads an entity by ID.
func (s *Store) Get(ctx context.Context, id string) (*models.Entity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT body FROM entities WHERE id = $1`, id)
	return scanEntity(row)
}

// GetSystemByName resolves a system entity by case-insensitive name,
// per the spec's "system entities always match by (name CI,
// isSystem=true)" invariant.
func (s *Store) GetSystemByName(ctx context.Context, name string) (*models.Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT body FROM entities WHERE is_system = true AND lower(name) = lower($1)
	`, name)
	return scanEntity(row)
}

// GetDefault returns the entity flagged as the default, used when a
// caller omits an entity ID entirely.
func (s *Store) GetDefault(ctx context.Context) (*models.Entity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT body FROM entities WHERE is_default = true LIMIT 1`)
	return scanEntity(row)
}

// Update replaces an entity's stored body in full.
func (s *Store) Update(ctx context.Context, e *models.Entity) error {
	if e == nil || e.ID == "" {
		return apperrors.New(apperrors.NotFound, "entity.Update", "entity id is required")
	}
	e.UpdatedAt = time.Now()
	body, err := json.Marshal(e)
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "entity.Update", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE entities
		SET name = $1, is_system = $2, is_default = $3, body = $4, updated_at = $5
		WHERE id = $6
	`, e.Name, e.IsSystem, e.IsDefault, body, e.UpdatedAt, e.ID)
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "entity.Update", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return apperrors.New(apperrors.NotFound, "entity.Update", fmt.Sprintf("entity %q not found", e.ID))
	}
	return nil
}

// Delete removes an entity outright. Per the spec, entities are never
// deleted silently by continuity memory's forget-me cascade — only an
// explicit admin delete reaches this.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE id = $1`, id)
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "entity.Delete", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return apperrors.New(apperrors.NotFound, "entity.Delete", fmt.Sprintf("entity %q not found", id))
	}
	return nil
}

// ListForUser returns every entity visible to userID: all system
// entities plus any non-system entity that lists userID in
// AssocUserIDs.
func (s *Store) ListForUser(ctx context.Context, userID string) ([]*models.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT body FROM entities
		WHERE is_system = true OR body->'assoc_user_ids' ? $1
		ORDER BY name ASC
	`, userID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "entity.ListForUser", err)
	}
	defer rows.Close()

	var out []*models.Entity
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, apperrors.Wrap(apperrors.Internal, "entity.ListForUser", err)
		}
		var e models.Entity
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, apperrors.Wrap(apperrors.Internal, "entity.ListForUser", err)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "entity.ListForUser", err)
	}
	return out, nil
}

// ListAll returns every entity in the store, system and non-system
// alike, used by administrative tooling (e.g. the migrate-entities
// CLI command) rather than any per-user request path.
func (s *Store) ListAll(ctx context.Context) ([]*models.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM entities ORDER BY name ASC`)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "entity.ListAll", err)
	}
	defer rows.Close()

	var out []*models.Entity
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, apperrors.Wrap(apperrors.Internal, "entity.ListAll", err)
		}
		var e models.Entity
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, apperrors.Wrap(apperrors.Internal, "entity.ListAll", err)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "entity.ListAll", err)
	}
	return out, nil
}

func scanEntity(row *sql.Row) (*models.Entity, error) {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.New(apperrors.NotFound, "entity.scanEntity", "entity not found")
		}
		return nil, apperrors.Wrap(apperrors.Internal, "entity.scanEntity", err)
	}
	var e models.Entity
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "entity.scanEntity", err)
	}
	return &e, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "duplicate")
}
