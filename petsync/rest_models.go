// Copyright 2025 PetShield Contributors
// SPDX-License-Identifier: Apache-2.0

package petsync

import (
	"encoding/json"
)

// REST/JSON models for HTTP API requests and responses
// These models are used for serialization/deserialization of HTTP requests and responses

// ReconcileRequest represents a batch reconciliation request from a client.
// The tenant is derived from the JWT tid claim, not from the request body.
type ReconcileRequest struct {
	Changes []Change `json:"changes"` // Batch of changes, in client insertion order
}

// Change represents a single pending mutation in a reconciliation request
type Change struct {
	LocalID         string          `json:"localId"`            // Client-local change identifier (never reused)
	Op              string          `json:"op"`                 // create, update
	EntityType      string          `json:"entityType"`         // Logical collection (e.g. "owner", "animal")
	EntityID        string          `json:"entityId,omitempty"` // Entity id; empty on create means "assign one"
	Payload         json.RawMessage `json:"payload,omitempty"`  // Entity fields (may be partial for update)
	ClientTimestamp int64           `json:"clientTimestamp"`    // Unix millis; the mutation's logical version
}

// ReconcileResponse represents the server's per-entry verdicts
type ReconcileResponse struct {
	Synced    []SyncedChange   `json:"synced"`    // Accepted entries, in submitted order
	Conflicts []ConflictChange `json:"conflicts"` // Conflicted entries, in submitted order
}

// SyncedChange acknowledges an accepted entry
type SyncedChange struct {
	LocalID    string `json:"localId"`
	AssignedID string `json:"assignedId"` // Entity id the mutation was stored under
}

// ConflictChange reports a rejected entry together with both sides of the conflict
type ConflictChange struct {
	LocalID  string          `json:"localId"`
	Existing json.RawMessage `json:"existing"` // Current server record; null when no record exists
	Incoming json.RawMessage `json:"incoming"` // The locally attempted payload
	Reason   string          `json:"reason,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// SchemaVersionResponse represents the current schema version
type SchemaVersionResponse struct {
	Version int `json:"schema_version"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StatusResponse represents service status response
type StatusResponse struct {
	Status      string   `json:"status"`       // healthy, degraded, unhealthy
	AppName     string   `json:"app_name"`     // Application name
	EntityTypes []string `json:"entity_types"` // Entity types registered for sync
}

// ToResponse converts ordered verdicts into the wire response, preserving the
// submitted order within each list.
func ToResponse(verdicts []Verdict) *ReconcileResponse {
	resp := &ReconcileResponse{
		Synced:    []SyncedChange{},
		Conflicts: []ConflictChange{},
	}
	for _, v := range verdicts {
		switch v.Status {
		case StAccepted:
			resp.Synced = append(resp.Synced, SyncedChange{
				LocalID:    v.LocalID,
				AssignedID: v.AssignedID,
			})
		case StConflicted:
			resp.Conflicts = append(resp.Conflicts, ConflictChange{
				LocalID:  v.LocalID,
				Existing: v.ExistingJSON(),
				Incoming: v.Incoming,
				Reason:   v.Reason,
				Message:  v.Message,
			})
		}
	}
	return resp
}
