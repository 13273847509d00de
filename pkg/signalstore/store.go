// Package signalstore implements internal/signal.Store against Postgres:
// signal definitions and their reconciled instances, mirroring the
// metadata.signal_definitions / metadata.signal_instances tables the
// metadata registry owns.
package signalstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nucleus-metadata/ingest-core/internal/signal"
)

// Store persists signal definitions and instances.
type Store struct {
	db *sql.DB
}

// NewFromEnv opens a store using METADATA_DATABASE_URL, falling back to
// DATABASE_URL, so the signal tables can share a Postgres instance with the
// rest of the metadata registry.
func NewFromEnv() (*Store, error) {
	dsn := os.Getenv("METADATA_DATABASE_URL")
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return nil, errors.New("METADATA_DATABASE_URL or DATABASE_URL is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// UpsertDefinition implements signal.Store.
func (s *Store) UpsertDefinition(ctx context.Context, def *signal.Definition) (string, error) {
	if def.Slug == "" {
		return "", fmt.Errorf("slug is required")
	}
	if def.ID == "" {
		def.ID = uuid.New().String()
	}
	if def.Status == "" {
		def.Status = "ACTIVE"
	}
	if def.ImplMode == "" {
		def.ImplMode = "CODE"
	}
	if def.Severity == "" {
		def.Severity = "INFO"
	}
	if def.Tags == nil {
		def.Tags = []string{}
	}
	spec := def.DefinitionSpec
	if spec == nil {
		spec = map[string]any{}
	}
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return "", err
	}

	const stmt = `
INSERT INTO metadata.signal_definitions
  (id, slug, title, description, status, impl_mode, source_family, entity_kind, severity, tags, definition_spec, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now(),now())
ON CONFLICT (slug) DO UPDATE SET
  title=EXCLUDED.title,
  description=EXCLUDED.description,
  status=EXCLUDED.status,
  source_family=EXCLUDED.source_family,
  entity_kind=EXCLUDED.entity_kind,
  severity=EXCLUDED.severity,
  tags=EXCLUDED.tags,
  definition_spec=EXCLUDED.definition_spec,
  updated_at=now()
RETURNING id;`
	var id string
	if err := s.db.QueryRowContext(ctx, stmt,
		def.ID, def.Slug, def.Title, def.Description, def.Status, def.ImplMode, def.SourceFamily, def.EntityKind, def.Severity, pq.Array(def.Tags), specJSON,
	).Scan(&id); err != nil {
		return "", err
	}
	return id, nil
}

// ListDefinitions implements signal.Store.
func (s *Store) ListDefinitions(ctx context.Context, sourceFamily string) ([]*signal.Definition, error) {
	where := "true"
	args := []any{}
	if sourceFamily != "" {
		where = "source_family = $1"
		args = append(args, sourceFamily)
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, slug, title, description, status, impl_mode, source_family, entity_kind, severity, tags, definition_spec
		 FROM metadata.signal_definitions WHERE %s`, where), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []*signal.Definition
	for rows.Next() {
		d := &signal.Definition{}
		var tags []string
		var specBytes []byte
		if err := rows.Scan(&d.ID, &d.Slug, &d.Title, &d.Description, &d.Status, &d.ImplMode, &d.SourceFamily, &d.EntityKind, &d.Severity, pq.Array(&tags), &specBytes); err != nil {
			return nil, err
		}
		d.Tags = tags
		if len(specBytes) > 0 {
			_ = json.Unmarshal(specBytes, &d.DefinitionSpec)
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

// UpsertInstance implements signal.Store, keyed by (definition_id, entity_ref).
func (s *Store) UpsertInstance(ctx context.Context, inst *signal.Instance) error {
	if inst.DefinitionID == "" || inst.EntityRef == "" {
		return fmt.Errorf("definitionId and entityRef are required")
	}
	if inst.ID == "" {
		inst.ID = uuid.New().String()
	}
	if inst.Status == "" {
		inst.Status = "OPEN"
	}
	if inst.Severity == "" {
		inst.Severity = "INFO"
	}
	detailsJSON, err := json.Marshal(inst.Details)
	if err != nil {
		return err
	}
	const stmt = `
INSERT INTO metadata.signal_instances
  (id, definition_id, status, entity_ref, entity_kind, severity, summary, details, source_run_id, first_seen_at, last_seen_at, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now(),now(),now(),now())
ON CONFLICT (definition_id, entity_ref) DO UPDATE SET
  status=EXCLUDED.status,
  severity=EXCLUDED.severity,
  summary=EXCLUDED.summary,
  details=EXCLUDED.details,
  source_run_id=EXCLUDED.source_run_id,
  last_seen_at=now(),
  updated_at=now();`
	_, err = s.db.ExecContext(ctx, stmt,
		inst.ID, inst.DefinitionID, inst.Status, inst.EntityRef, inst.EntityKind, inst.Severity, inst.Summary, detailsJSON, inst.SourceRunID,
	)
	return err
}

// ListInstances implements signal.Store.
func (s *Store) ListInstances(ctx context.Context, definitionID string) ([]*signal.Instance, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, definition_id, entity_ref, entity_kind, severity, status
FROM metadata.signal_instances
WHERE definition_id=$1`, definitionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*signal.Instance
	for rows.Next() {
		inst := &signal.Instance{}
		if err := rows.Scan(&inst.ID, &inst.DefinitionID, &inst.EntityRef, &inst.EntityKind, &inst.Severity, &inst.Status); err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// UpdateInstanceStatus implements signal.Store.
func (s *Store) UpdateInstanceStatus(ctx context.Context, definitionID, entityRef, status string) error {
	if definitionID == "" || entityRef == "" {
		return fmt.Errorf("definitionId and entityRef are required")
	}
	if status == "" {
		status = "RESOLVED"
	}
	_, err := s.db.ExecContext(ctx, `
UPDATE metadata.signal_instances
SET status=$3, updated_at=now()
WHERE definition_id=$1 AND entity_ref=$2`, definitionID, entityRef, status)
	return err
}
