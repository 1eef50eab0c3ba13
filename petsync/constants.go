// Copyright 2025 PetShield Contributors
// SPDX-License-Identifier: Apache-2.0

package petsync

// Operation constants for change operations.
// Deletion is not part of the sync protocol; records are only created and updated.
const (
	OpCreate = "create"
	OpUpdate = "update"
)

// Verdict status constants
const (
	StAccepted   = "accepted"
	StConflicted = "conflicted"
)

// Conflict reason constants
const (
	ReasonStaleTimestamp = "stale_timestamp"
	ReasonNotFound       = "not_found"
	ReasonBadPayload     = "bad_payload"
	ReasonUnknownOp      = "unknown_op"
)
