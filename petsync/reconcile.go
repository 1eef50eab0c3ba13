// Copyright 2025 PetShield Contributors
// SPDX-License-Identifier: Apache-2.0

package petsync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ErrBatchTooLarge rejects a whole request so clients never drop pending changes.
var ErrBatchTooLarge = fmt.Errorf("batch too large")

// Reconcile processes a batch of mutations for one tenant and returns one
// verdict per entry, in the submitted order.
//
// Entries are processed strictly sequentially so that two entries touching the
// same entity id are applied in submitted order: a later entry in the batch
// observes the effect of an earlier one. Ordering across tenants or across
// distinct entity ids carries no guarantee.
func (s *SyncService) Reconcile(ctx context.Context, tenant string, changes []Change) ([]Verdict, error) {
	if tenant == "" {
		return nil, fmt.Errorf("tenant must not be empty")
	}
	if s.config.MaxBatchSize > 0 && len(changes) > s.config.MaxBatchSize {
		return nil, fmt.Errorf("%w: changes=%d limit=%d", ErrBatchTooLarge, len(changes), s.config.MaxBatchSize)
	}

	start := s.stageStart()
	s.logger.Info("Processing reconciliation batch", "tenant", tenant, "count", len(changes))

	verdicts := make([]Verdict, 0, len(changes))
	for i := range changes {
		v, err := s.reconcileOne(ctx, tenant, &changes[i])
		if err != nil {
			// Store failures abort the whole attempt; the client treats the
			// batch as not-happened and keeps its queue unchanged.
			s.observeStage(ctx, MetricsStageReconcile, start, len(changes), true)
			return nil, fmt.Errorf("failed to reconcile change %s: %w", changes[i].LocalID, err)
		}
		verdicts = append(verdicts, v)
	}

	s.observeStage(ctx, MetricsStageReconcile, start, len(changes), false)
	return verdicts, nil
}

// reconcileOne decides a single entry against the system-of-record.
func (s *SyncService) reconcileOne(ctx context.Context, tenant string, ch *Change) (Verdict, error) {
	if err := s.validateChange(ch); err != nil {
		s.logger.Warn("Rejecting malformed change",
			"tenant", tenant, "local_id", ch.LocalID, "op", ch.Op,
			"entity_type", ch.EntityType, "error", err)
		reason := ReasonBadPayload
		if ch.Op != OpCreate && ch.Op != OpUpdate {
			reason = ReasonUnknownOp
		}
		return verdictInvalid(ch.LocalID, reason, ch.Payload, err), nil
	}

	fields, err := decodeFields(ch.Payload)
	if err != nil {
		return verdictInvalid(ch.LocalID, ReasonBadPayload, ch.Payload, err), nil
	}

	switch ch.Op {
	case OpCreate:
		entityID := ch.EntityID
		if entityID == "" {
			// No pre-assigned id: assign a fresh one as part of acceptance.
			entityID = uuid.New().String()
		}
		outcome, err := s.store.Apply(ctx, tenant, ch.EntityType, entityID, fields, ch.ClientTimestamp, true)
		if err != nil {
			return Verdict{}, err
		}
		if !outcome.Applied {
			// A record with the same id already exists and is newer. First
			// writer wins for creation; the duplicate is surfaced as a conflict.
			return verdictConflict(ch.LocalID, outcome.Record, ch.Payload), nil
		}
		return verdictAccepted(ch.LocalID, entityID), nil

	case OpUpdate:
		outcome, err := s.store.Apply(ctx, tenant, ch.EntityType, ch.EntityID, fields, ch.ClientTimestamp, false)
		if err != nil {
			return Verdict{}, err
		}
		if !outcome.Applied {
			if outcome.Record == nil {
				return verdictNotFound(ch.LocalID, ch.Payload), nil
			}
			return verdictConflict(ch.LocalID, outcome.Record, ch.Payload), nil
		}
		return verdictAccepted(ch.LocalID, ch.EntityID), nil
	}

	// validateChange guarantees we never reach this
	return Verdict{}, fmt.Errorf("unhandled op %q", ch.Op)
}

// validateChange enforces per-entry invariants before touching the store.
func (s *SyncService) validateChange(ch *Change) error {
	if ch.LocalID == "" {
		return fmt.Errorf("localId must not be empty")
	}
	if ch.Op != OpCreate && ch.Op != OpUpdate {
		return fmt.Errorf("unsupported op %q", ch.Op)
	}
	if ch.EntityType == "" {
		return fmt.Errorf("entityType must not be empty")
	}
	if !s.isEntityTypeRegistered(ch.EntityType) {
		return fmt.Errorf("entity type %q is not registered for sync", ch.EntityType)
	}
	if ch.Op == OpUpdate && ch.EntityID == "" {
		return fmt.Errorf("update requires an entityId")
	}
	if len(ch.Payload) == 0 {
		return fmt.Errorf("payload must not be empty")
	}
	if s.config.MaxPayloadBytes > 0 && len(ch.Payload) > s.config.MaxPayloadBytes {
		return fmt.Errorf("payload exceeds %d bytes", s.config.MaxPayloadBytes)
	}
	return nil
}

// decodeFields parses a payload into the field map merged into entity records.
func decodeFields(payload json.RawMessage) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", err)
	}
	if fields == nil {
		return nil, fmt.Errorf("payload must be a JSON object, got null")
	}
	return fields, nil
}
