// Package kvstore implements internal/checkpoint.KV against Postgres. It is
// the CAS-capable backing store behind checkpoint.Store and the raw
// checkpoint.KV dependency that the cluster and insight stages use directly
// for scratch state.
package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
)

// PostgresStore implements internal/checkpoint.KV backed by a single table,
// keyed by (tenant_id, project_id, key) with an integer version column used
// for compare-and-swap.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection using KV_DATABASE_URL, falling back to
// DATABASE_URL, then METADATA_DATABASE_URL so a single Postgres instance can
// back both the checkpoint table and the metadata registry in development.
func NewPostgresStore() (*PostgresStore, error) {
	dsn := os.Getenv("KV_DATABASE_URL")
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		dsn = os.Getenv("METADATA_DATABASE_URL")
	}
	if dsn == "" {
		return nil, errors.New("KV_DATABASE_URL/DATABASE_URL not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return NewPostgresStoreWithDB(db)
}

// NewPostgresStoreWithDB reuses an already-opened *sql.DB, ensuring the
// backing table exists.
func NewPostgresStoreWithDB(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if err := ensureTable(db); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func ensureTable(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS checkpoint_kv (
  tenant_id text NOT NULL,
  project_id text NOT NULL,
  key text NOT NULL,
  value bytea NOT NULL,
  version bigint NOT NULL DEFAULT 0,
  updated_at timestamptz NOT NULL DEFAULT now(),
  PRIMARY KEY (tenant_id, project_id, key)
);
`
	_, err := db.Exec(ddl)
	return err
}

// Get implements checkpoint.KV.
func (s *PostgresStore) Get(ctx context.Context, tenantID, projectID, key string) ([]byte, int64, bool, error) {
	var value []byte
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value, version FROM checkpoint_kv WHERE tenant_id=$1 AND project_id=$2 AND key=$3`,
		tenantID, projectID, key).Scan(&value, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, false, nil
		}
		return nil, 0, false, err
	}
	return value, version, true, nil
}

// Put implements checkpoint.KV. expectedVersion of 0 means "create"; any
// other value must match the row's current version or the write is rejected.
func (s *PostgresStore) Put(ctx context.Context, tenantID, projectID, key string, value []byte, expectedVersion int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var currentVersion int64
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM checkpoint_kv WHERE tenant_id=$1 AND project_id=$2 AND key=$3`,
		tenantID, projectID, key).Scan(&currentVersion)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if expectedVersion != 0 {
			return fmt.Errorf("version mismatch: expected %d but key missing", expectedVersion)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO checkpoint_kv (tenant_id, project_id, key, value, version) VALUES ($1,$2,$3,$4,1)`,
			tenantID, projectID, key, value); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		if expectedVersion != currentVersion {
			return fmt.Errorf("version mismatch: expected %d got %d", expectedVersion, currentVersion)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE checkpoint_kv SET value=$1, version=$2, updated_at=now() WHERE tenant_id=$3 AND project_id=$4 AND key=$5`,
			value, currentVersion+1, tenantID, projectID, key); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
