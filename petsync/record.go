// Copyright 2025 PetShield Contributors
// SPDX-License-Identifier: Apache-2.0

package petsync

import (
	"encoding/json"
)

// EntityRecord is the authoritative current state of one entity in the
// system-of-record store, addressed by (tenant, entity type, entity id).
type EntityRecord struct {
	TenantID   string         `json:"-" db:"tenant_id"`
	EntityType string         `json:"-" db:"entity_type"`
	EntityID   string         `json:"entityId" db:"entity_id"`
	Fields     map[string]any `json:"fields" db:"fields"`
	UpdatedAt  int64          `json:"updatedAt" db:"updated_at"` // Unix millis of last accepted mutation
}

// Clone returns a deep-enough copy for handing records across the store boundary.
// Field values are JSON scalars, arrays and objects; only the top-level map is
// owned by the store, so a shallow field copy is sufficient for merge semantics.
func (r *EntityRecord) Clone() *EntityRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Fields = make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		out.Fields[k] = v
	}
	return &out
}

// Verdict is the per-entry outcome of reconciliation, in submitted order.
type Verdict struct {
	LocalID    string
	Status     string // StAccepted or StConflicted
	AssignedID string // Entity id the mutation was stored under (accepted only)
	Existing   *EntityRecord
	Incoming   json.RawMessage
	Reason     string
	Message    string
}

// ExistingJSON renders the conflicting server record for the wire, or JSON null
// when no record exists (the not-found conflict case).
func (v *Verdict) ExistingJSON() json.RawMessage {
	if v.Existing == nil {
		return json.RawMessage("null")
	}
	b, err := json.Marshal(v.Existing)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}

// verdictAccepted creates a verdict for an applied change
func verdictAccepted(localID, assignedID string) Verdict {
	return Verdict{
		LocalID:    localID,
		Status:     StAccepted,
		AssignedID: assignedID,
	}
}

// verdictConflict creates a verdict for a change rejected by the timestamp gate
func verdictConflict(localID string, existing *EntityRecord, incoming json.RawMessage) Verdict {
	return Verdict{
		LocalID:  localID,
		Status:   StConflicted,
		Existing: existing,
		Incoming: incoming,
		Reason:   ReasonStaleTimestamp,
	}
}

// verdictNotFound creates a verdict for an update that references an unknown
// entity id. Reported as a conflict with an empty existing record, never as a
// fatal error for the batch.
func verdictNotFound(localID string, incoming json.RawMessage) Verdict {
	return Verdict{
		LocalID:  localID,
		Status:   StConflicted,
		Incoming: incoming,
		Reason:   ReasonNotFound,
		Message:  "no record exists for the referenced entity id",
	}
}

// verdictInvalid creates a verdict for a malformed entry (bad op or payload).
// Per-entry, so sibling entries in the same batch are unaffected.
func verdictInvalid(localID, reason string, incoming json.RawMessage, err error) Verdict {
	return Verdict{
		LocalID:  localID,
		Status:   StConflicted,
		Incoming: incoming,
		Reason:   reason,
		Message:  err.Error(),
	}
}
