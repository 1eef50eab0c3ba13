// Copyright 2025 PetShield Contributors
// SPDX-License-Identifier: Apache-2.0

package petsync

import (
	"context"
	"sync"
)

// ApplyOutcome reports the result of a per-key compare-and-swap apply.
type ApplyOutcome struct {
	Applied bool
	// Record is the post-apply record when Applied, the pre-existing record on a
	// timestamp conflict, or nil when no record exists and insertMissing was false.
	Record *EntityRecord
}

// Store is the system-of-record: authoritative entity state per
// (tenant, entity type, entity id) with a last-modification timestamp.
//
// Apply must be atomic per key: the read-compare-write of updated_at behaves as
// a compare-and-swap so two concurrent reconciliations cannot both accept a
// stale mutation for the same key.
type Store interface {
	// Get returns the current record, or (nil, nil) when absent.
	Get(ctx context.Context, tenant, entityType, entityID string) (*EntityRecord, error)

	// Apply merges fields into the record and sets updated_at = ts, iff the
	// stored updated_at is <= ts. When no record exists, insertMissing decides
	// whether a new record is created (create path) or the apply is skipped
	// (update path; Record is nil in the outcome).
	Apply(ctx context.Context, tenant, entityType, entityID string, fields map[string]any, ts int64, insertMissing bool) (ApplyOutcome, error)
}

// MemStore is an in-memory system-of-record for the explicit demo/offline
// simulation mode and for tests. Unlike the transparently-substituted local
// backend it replaces, it is only ever selected by configuration, never as a
// silent fallback on transport failure.
type MemStore struct {
	mu      sync.Mutex
	records map[string]*EntityRecord
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string]*EntityRecord)}
}

func recordKey(tenant, entityType, entityID string) string {
	return tenant + "\x00" + entityType + "\x00" + entityID
}

// Get implements Store.
func (m *MemStore) Get(_ context.Context, tenant, entityType, entityID string) (*EntityRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[recordKey(tenant, entityType, entityID)]
	if !ok {
		return nil, nil
	}
	return rec.Clone(), nil
}

// Apply implements Store. The mutex makes the read-compare-write atomic per key.
func (m *MemStore) Apply(_ context.Context, tenant, entityType, entityID string, fields map[string]any, ts int64, insertMissing bool) (ApplyOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := recordKey(tenant, entityType, entityID)
	rec, ok := m.records[key]
	if !ok {
		if !insertMissing {
			return ApplyOutcome{Applied: false, Record: nil}, nil
		}
		rec = &EntityRecord{
			TenantID:   tenant,
			EntityType: entityType,
			EntityID:   entityID,
			Fields:     make(map[string]any, len(fields)),
			UpdatedAt:  ts,
		}
		for k, v := range fields {
			rec.Fields[k] = v
		}
		m.records[key] = rec
		return ApplyOutcome{Applied: true, Record: rec.Clone()}, nil
	}

	if rec.UpdatedAt > ts {
		return ApplyOutcome{Applied: false, Record: rec.Clone()}, nil
	}

	for k, v := range fields {
		rec.Fields[k] = v
	}
	rec.UpdatedAt = ts
	return ApplyOutcome{Applied: true, Record: rec.Clone()}, nil
}

// Len reports the number of stored records (test helper).
func (m *MemStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
