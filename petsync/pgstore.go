// Copyright 2025 PetShield Contributors
// SPDX-License-Identifier: Apache-2.0

package petsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is the PostgreSQL system-of-record. One row per
// (tenant_id, entity_type, entity_id); the timestamp gate lives in the apply
// statement itself so the compare-and-swap on updated_at holds under the row
// lock taken by the upsert, with no read-then-write window.
type PGStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPGStore creates the store and initializes the schema if needed.
// The caller owns the pool lifecycle.
func NewPGStore(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (*PGStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &PGStore{pool: pool, logger: logger}
	if err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return s.initializeSchemaInTx(ctx, tx)
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize petsync schema: %w", err)
	}
	logger.Debug("petsync schema initialized")
	return s, nil
}

// initializeSchemaInTx creates the required tables within an existing transaction
func (s *PGStore) initializeSchemaInTx(ctx context.Context, tx pgx.Tx) error {
	migrations := []string{
		// Dedicated schema keeps sync state apart from business tables
		/*language=postgresql*/ `CREATE SCHEMA IF NOT EXISTS petsync`,

		// Authoritative current state of every entity, one row per composite key.
		// updated_at carries the client timestamp of the last accepted mutation
		// (unix millis) and is monotonically non-decreasing per key.
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS petsync.entity_record (
			tenant_id    TEXT   NOT NULL,
			entity_type  TEXT   NOT NULL,
			entity_id    TEXT   NOT NULL,
			fields       JSONB  NOT NULL DEFAULT '{}'::jsonb,
			updated_at   BIGINT NOT NULL,
			PRIMARY KEY (tenant_id, entity_type, entity_id)
		)`,

		/*language=postgresql*/ `CREATE INDEX IF NOT EXISTS idx_entity_record_tenant_type
			ON petsync.entity_record (tenant_id, entity_type)`,
	}

	for _, migration := range migrations {
		if _, err := tx.Exec(ctx, migration); err != nil {
			return fmt.Errorf("schema migration failed: %w", err)
		}
	}
	return nil
}

// stmtApplyUpsert merges the payload iff the stored updated_at is not newer.
// The WHERE gate on the DO UPDATE arm turns the upsert into a per-key CAS:
// a concurrent apply that committed a newer timestamp makes this one return
// no rows instead of overwriting.
const stmtApplyUpsert = /*language=postgresql*/ `
INSERT INTO petsync.entity_record (tenant_id, entity_type, entity_id, fields, updated_at)
VALUES ($1, $2, $3, $4::jsonb, $5)
ON CONFLICT (tenant_id, entity_type, entity_id) DO UPDATE
SET fields     = petsync.entity_record.fields || EXCLUDED.fields,
    updated_at = EXCLUDED.updated_at
WHERE petsync.entity_record.updated_at <= EXCLUDED.updated_at
RETURNING fields, updated_at`

// stmtApplyUpdate is the update-only variant: it never creates a row, so an
// unknown entity id falls through to the not-found conflict path.
const stmtApplyUpdate = /*language=postgresql*/ `
UPDATE petsync.entity_record
SET fields     = fields || $4::jsonb,
    updated_at = $5
WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3 AND updated_at <= $5
RETURNING fields, updated_at`

// Get implements Store.
func (s *PGStore) Get(ctx context.Context, tenant, entityType, entityID string) (*EntityRecord, error) {
	var fieldsJSON []byte
	var updatedAt int64
	err := s.pool.QueryRow(ctx, /*language=postgresql*/ `
		SELECT fields, updated_at FROM petsync.entity_record
		WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3
	`, tenant, entityType, entityID).Scan(&fieldsJSON, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity record: %w", err)
	}
	return s.buildRecord(tenant, entityType, entityID, fieldsJSON, updatedAt)
}

// Apply implements Store.
func (s *PGStore) Apply(ctx context.Context, tenant, entityType, entityID string, fields map[string]any, ts int64, insertMissing bool) (ApplyOutcome, error) {
	payload, err := json.Marshal(fields)
	if err != nil {
		return ApplyOutcome{}, fmt.Errorf("failed to marshal fields: %w", err)
	}

	stmt := stmtApplyUpdate
	if insertMissing {
		stmt = stmtApplyUpsert
	}

	var fieldsJSON []byte
	var updatedAt int64
	err = s.pool.QueryRow(ctx, stmt, tenant, entityType, entityID, payload, ts).Scan(&fieldsJSON, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Gate rejected the write: either a newer record exists, or (update path)
		// no record exists at all. Fetch the current row to tell the two apart.
		existing, getErr := s.Get(ctx, tenant, entityType, entityID)
		if getErr != nil {
			return ApplyOutcome{}, getErr
		}
		return ApplyOutcome{Applied: false, Record: existing}, nil
	}
	if err != nil {
		return ApplyOutcome{}, fmt.Errorf("failed to apply change: %w", err)
	}

	rec, err := s.buildRecord(tenant, entityType, entityID, fieldsJSON, updatedAt)
	if err != nil {
		return ApplyOutcome{}, err
	}
	return ApplyOutcome{Applied: true, Record: rec}, nil
}

func (s *PGStore) buildRecord(tenant, entityType, entityID string, fieldsJSON []byte, updatedAt int64) (*EntityRecord, error) {
	fields := map[string]any{}
	if len(fieldsJSON) > 0 {
		if err := json.Unmarshal(fieldsJSON, &fields); err != nil {
			return nil, fmt.Errorf("failed to decode entity fields: %w", err)
		}
	}
	return &EntityRecord{
		TenantID:   tenant,
		EntityType: entityType,
		EntityID:   entityID,
		Fields:     fields,
		UpdatedAt:  updatedAt,
	}, nil
}
