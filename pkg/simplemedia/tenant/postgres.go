package tenant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-media/pkg/simplemedia"
)

const createTenantsTable = `
CREATE TABLE IF NOT EXISTS tenants (
    id          TEXT PRIMARY KEY,
    kv_endpoint TEXT NOT NULL DEFAULT '',
    key_prefix  TEXT NOT NULL DEFAULT '',
    active      BOOLEAN NOT NULL DEFAULT TRUE,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const lookupTenant = `
SELECT id, kv_endpoint, key_prefix
FROM tenants
WHERE id = $1 AND active`

// PostgresDirectory reads tenants from a "tenants" table.
type PostgresDirectory struct {
	pool *pgxpool.Pool
}

var _ Directory = (*PostgresDirectory)(nil)

func NewPostgresDirectory(pool *pgxpool.Pool) *PostgresDirectory {
	return &PostgresDirectory{pool: pool}
}

// OpenPostgres connects to databaseURL, optionally pinning search_path to
// schema, and verifies the connection.
func OpenPostgres(ctx context.Context, databaseURL, schema string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, errors.New("database_url is required")
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the tenants table when missing.
func (d *PostgresDirectory) EnsureSchema(ctx context.Context) error {
	if _, err := d.pool.Exec(ctx, createTenantsTable); err != nil {
		return fmt.Errorf("failed to create tenants table: %w", err)
	}
	return nil
}

// Upsert registers or updates a tenant and marks it active.
func (d *PostgresDirectory) Upsert(ctx context.Context, t Tenant) error {
	_, err := d.pool.Exec(ctx, `
INSERT INTO tenants (id, kv_endpoint, key_prefix, active)
VALUES ($1, $2, $3, TRUE)
ON CONFLICT (id) DO UPDATE
SET kv_endpoint = EXCLUDED.kv_endpoint, key_prefix = EXCLUDED.key_prefix, active = TRUE`,
		t.ID, t.KVEndpoint, t.KeyPrefix)
	if err != nil {
		return fmt.Errorf("failed to upsert tenant %s: %w", t.ID, err)
	}
	return nil
}

// Deactivate removes a tenant's entitlement without deleting its row. A
// Registry stops serving the tenant once its entitlement TTL lapses.
func (d *PostgresDirectory) Deactivate(ctx context.Context, tenantID string) error {
	_, err := d.pool.Exec(ctx, `UPDATE tenants SET active = FALSE WHERE id = $1`, tenantID)
	if err != nil {
		return fmt.Errorf("failed to deactivate tenant %s: %w", tenantID, err)
	}
	return nil
}

func (d *PostgresDirectory) Lookup(ctx context.Context, tenantID string) (*Tenant, error) {
	var t Tenant
	err := d.pool.QueryRow(ctx, lookupTenant, tenantID).Scan(&t.ID, &t.KVEndpoint, &t.KeyPrefix)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, simplemedia.ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up tenant %s: %w", tenantID, err)
	}
	return &t, nil
}

// Close releases the pool.
func (d *PostgresDirectory) Close() error {
	d.pool.Close()
	return nil
}
