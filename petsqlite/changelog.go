// Package petsqlite provides the SQLite-based offline-first client for
// go-petsync: a durable append-only change log of unsynced mutations, a
// connectivity monitor, and a sync client that reconciles the log against the
// server and applies per-entry verdicts.
//
// Copyright 2025 PetShield Contributors
// SPDX-License-Identifier: Apache-2.0

package petsqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
)

// Sync states of a change entry. Transitions are pending -> synced only;
// entries are never resurrected to pending.
const (
	StatePending = "pending"
	StateSynced  = "synced"
)

// ChangeEntry is one pending mutation in the local change log. Once created it
// is immutable except for its sync state.
type ChangeEntry struct {
	LocalID         string          `json:"localId"`
	Op              string          `json:"op"`
	EntityType      string          `json:"entityType"`
	EntityID        string          `json:"entityId,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	ClientTimestamp int64           `json:"clientTimestamp"` // Unix millis
	SyncState       string          `json:"-"`
}

// ChangeLog is the durable, append-only queue of unsynced mutations.
// Entries live in an index-addressed SQLite table rather than a rewritten
// whole document, so a crash mid-write never corrupts earlier entries.
type ChangeLog struct {
	db      *sql.DB
	logger  *slog.Logger
	writeMu sync.Mutex // Serialize writes to avoid SQLite locking issues

	now func() time.Time // injectable clock
}

// NewChangeLog initializes the change log schema on db and returns the log.
// The caller owns the db lifecycle.
func NewChangeLog(db *sql.DB, logger *slog.Logger) (*ChangeLog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := initializeDatabase(db); err != nil {
		return nil, fmt.Errorf("failed to initialize change log database: %w", err)
	}
	return &ChangeLog{
		db:     db,
		logger: logger,
		now:    time.Now,
	}, nil
}

// initializeDatabase creates the change log table (private function)
func initializeDatabase(db *sql.DB) error {
	// Enable WAL mode and foreign keys
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// seq preserves insertion order; it approximates the causal order of a
	// single client's edits and is the order entries go over the wire.
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS _change_log (
		seq         INTEGER PRIMARY KEY AUTOINCREMENT,
		local_id    TEXT NOT NULL UNIQUE,
		op          TEXT NOT NULL CHECK (op IN ('create','update')),
		entity_type TEXT NOT NULL,
		entity_id   TEXT,
		payload     TEXT NOT NULL,
		client_ts   INTEGER NOT NULL,
		sync_state  TEXT NOT NULL DEFAULT 'pending' CHECK (sync_state IN ('pending','synced'))
	)`)
	if err != nil {
		return fmt.Errorf("failed to create change log table: %w", err)
	}
	return nil
}

// NewEntityID returns a fresh client-side entity id for a create. Pre-assigning
// the id locally lets offline updates reference the entity before the create
// has ever reached the server.
func NewEntityID() string {
	return uuid.New().String()
}

// Record appends a mutation to the log. It has no network dependency and does
// not return until the entry is durably persisted. A persistence failure is
// reported to the caller and the mutation is considered not recorded.
func (l *ChangeLog) Record(ctx context.Context, op, entityType, entityID string, payload map[string]any) (*ChangeEntry, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode payload: %v", ErrLocalPersistence, err)
	}

	entry := &ChangeEntry{
		LocalID:         ulid.Make().String(),
		Op:              op,
		EntityType:      entityType,
		EntityID:        entityID,
		Payload:         body,
		ClientTimestamp: l.now().UnixMilli(),
		SyncState:       StatePending,
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO _change_log (local_id, op, entity_type, entity_id, payload, client_ts, sync_state)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entry.LocalID, entry.Op, entry.EntityType, entry.EntityID, string(entry.Payload), entry.ClientTimestamp, entry.SyncState)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLocalPersistence, err)
	}

	return entry, nil
}

// PendingEntries returns all entries with sync state pending, in insertion
// order.
func (l *ChangeLog) PendingEntries(ctx context.Context) ([]ChangeEntry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT local_id, op, entity_type, COALESCE(entity_id, ''), payload, client_ts, sync_state
		FROM _change_log
		WHERE sync_state = ?
		ORDER BY seq
	`, StatePending)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending entries: %w", err)
	}
	defer rows.Close()

	var entries []ChangeEntry
	for rows.Next() {
		var e ChangeEntry
		var payload string
		if err := rows.Scan(&e.LocalID, &e.Op, &e.EntityType, &e.EntityID, &payload, &e.ClientTimestamp, &e.SyncState); err != nil {
			return nil, fmt.Errorf("failed to scan change entry: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating change entries: %w", err)
	}
	return entries, nil
}

// PendingCount reports how many entries are still pending.
func (l *ChangeLog) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM _change_log WHERE sync_state = ?`, StatePending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending entries: %w", err)
	}
	return n, nil
}

// MarkSynced transitions the named entry to synced. Idempotent: a missing or
// already-synced entry is a no-op, not an error.
func (l *ChangeLog) MarkSynced(ctx context.Context, localID string) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_, err := l.db.ExecContext(ctx, `
		UPDATE _change_log SET sync_state = ? WHERE local_id = ? AND sync_state = ?
	`, StateSynced, localID, StatePending)
	if err != nil {
		return fmt.Errorf("failed to mark entry synced: %w", err)
	}
	return nil
}

// PruneSynced removes all synced entries from durable storage. Pending entries
// are never touched; safe to call at any time.
func (l *ChangeLog) PruneSynced(ctx context.Context) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_, err := l.db.ExecContext(ctx, `DELETE FROM _change_log WHERE sync_state = ?`, StateSynced)
	if err != nil {
		return fmt.Errorf("failed to prune synced entries: %w", err)
	}
	return nil
}
