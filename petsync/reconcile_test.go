// Copyright 2025 PetShield Contributors
// SPDX-License-Identifier: Apache-2.0

package petsync

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*SyncService, *MemStore) {
	t.Helper()
	store := NewMemStore()
	svc, err := NewSyncService(store, &ServiceConfig{
		AppName:       "petsync-test",
		SchemaVersion: 1,
	}, slog.Default())
	require.NoError(t, err)
	return svc, store
}

func rawPayload(t *testing.T, fields map[string]any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(fields)
	require.NoError(t, err)
	return b
}

func TestReconcileCreateAlwaysAccepted(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	// Timestamp value is irrelevant when no record exists yet.
	verdicts, err := svc.Reconcile(ctx, "clinic-1", []Change{{
		LocalID:         "L1",
		Op:              OpCreate,
		EntityType:      "owner",
		Payload:         rawPayload(t, map[string]any{"fullName": "Jane"}),
		ClientTimestamp: 1,
	}})
	require.NoError(t, err)
	require.Len(t, verdicts, 1)
	require.Equal(t, StAccepted, verdicts[0].Status)
	require.NotEmpty(t, verdicts[0].AssignedID)

	rec, err := store.Get(ctx, "clinic-1", "owner", verdicts[0].AssignedID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "Jane", rec.Fields["fullName"])
	require.Equal(t, int64(1), rec.UpdatedAt)
}

func TestReconcileCreateKeepsPreAssignedID(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	verdicts, err := svc.Reconcile(ctx, "clinic-1", []Change{{
		LocalID:         "L1",
		Op:              OpCreate,
		EntityType:      "animal",
		EntityID:        "a-42",
		Payload:         rawPayload(t, map[string]any{"name": "Rex"}),
		ClientTimestamp: 100,
	}})
	require.NoError(t, err)
	require.Equal(t, "a-42", verdicts[0].AssignedID)

	rec, err := store.Get(ctx, "clinic-1", "animal", "a-42")
	require.NoError(t, err)
	require.NotNil(t, rec)
}

func TestReconcileStaleUpdateConflictsWithoutMutation(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	_, err := svc.Reconcile(ctx, "clinic-1", []Change{{
		LocalID: "L1", Op: OpCreate, EntityType: "owner", EntityID: "o-1",
		Payload:         rawPayload(t, map[string]any{"fullName": "Jane", "phone": "111"}),
		ClientTimestamp: 200,
	}})
	require.NoError(t, err)

	verdicts, err := svc.Reconcile(ctx, "clinic-1", []Change{{
		LocalID: "L2", Op: OpUpdate, EntityType: "owner", EntityID: "o-1",
		Payload:         rawPayload(t, map[string]any{"phone": "999"}),
		ClientTimestamp: 150, // strictly older than the stored updatedAt
	}})
	require.NoError(t, err)
	require.Equal(t, StConflicted, verdicts[0].Status)
	require.Equal(t, ReasonStaleTimestamp, verdicts[0].Reason)
	require.NotNil(t, verdicts[0].Existing)
	require.Equal(t, "111", verdicts[0].Existing.Fields["phone"])

	// Stored record is untouched.
	rec, err := store.Get(ctx, "clinic-1", "owner", "o-1")
	require.NoError(t, err)
	require.Equal(t, "111", rec.Fields["phone"])
	require.Equal(t, int64(200), rec.UpdatedAt)
}

func TestReconcileEqualTimestampAccepted(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Reconcile(ctx, "clinic-1", []Change{{
		LocalID: "L1", Op: OpCreate, EntityType: "owner", EntityID: "o-1",
		Payload:         rawPayload(t, map[string]any{"fullName": "Jane"}),
		ClientTimestamp: 100,
	}})
	require.NoError(t, err)

	verdicts, err := svc.Reconcile(ctx, "clinic-1", []Change{{
		LocalID: "L2", Op: OpUpdate, EntityType: "owner", EntityID: "o-1",
		Payload:         rawPayload(t, map[string]any{"phone": "555"}),
		ClientTimestamp: 100,
	}})
	require.NoError(t, err)
	require.Equal(t, StAccepted, verdicts[0].Status)
}

func TestReconcileIntraBatchLaterSeesEarlier(t *testing.T) {
	// Offline scenario: create then update for the same locally-assigned id in
	// one batch. Both accepted; the update merges over the create's effect.
	svc, store := newTestService(t)
	ctx := context.Background()

	entityID := "o-local-1"
	verdicts, err := svc.Reconcile(ctx, "clinic-1", []Change{
		{
			LocalID: "L1", Op: OpCreate, EntityType: "owner", EntityID: entityID,
			Payload:         rawPayload(t, map[string]any{"fullName": "Jane"}),
			ClientTimestamp: 100,
		},
		{
			LocalID: "L2", Op: OpUpdate, EntityType: "owner", EntityID: entityID,
			Payload:         rawPayload(t, map[string]any{"phone": "555"}),
			ClientTimestamp: 200,
		},
	})
	require.NoError(t, err)
	require.Len(t, verdicts, 2)
	require.Equal(t, StAccepted, verdicts[0].Status)
	require.Equal(t, StAccepted, verdicts[1].Status)

	rec, err := store.Get(ctx, "clinic-1", "owner", entityID)
	require.NoError(t, err)
	require.Equal(t, "Jane", rec.Fields["fullName"])
	require.Equal(t, "555", rec.Fields["phone"])
	require.Equal(t, int64(200), rec.UpdatedAt)
}

func TestReconcileConcurrentClientsLastWriteWins(t *testing.T) {
	// Client X updates at t=150 (accepted), client Y syncs an older edit at
	// t=120 afterwards: Y conflicts and X's version stays.
	svc, store := newTestService(t)
	ctx := context.Background()

	_, err := svc.Reconcile(ctx, "clinic-1", []Change{{
		LocalID: "seed", Op: OpCreate, EntityType: "owner", EntityID: "o-1",
		Payload:         rawPayload(t, map[string]any{"fullName": "Jane", "phone": "111"}),
		ClientTimestamp: 100,
	}})
	require.NoError(t, err)

	xVerdicts, err := svc.Reconcile(ctx, "clinic-1", []Change{{
		LocalID: "X1", Op: OpUpdate, EntityType: "owner", EntityID: "o-1",
		Payload:         rawPayload(t, map[string]any{"phone": "150-phone"}),
		ClientTimestamp: 150,
	}})
	require.NoError(t, err)
	require.Equal(t, StAccepted, xVerdicts[0].Status)

	yVerdicts, err := svc.Reconcile(ctx, "clinic-1", []Change{{
		LocalID: "Y1", Op: OpUpdate, EntityType: "owner", EntityID: "o-1",
		Payload:         rawPayload(t, map[string]any{"phone": "120-phone"}),
		ClientTimestamp: 120,
	}})
	require.NoError(t, err)
	require.Equal(t, StConflicted, yVerdicts[0].Status)
	require.Equal(t, "150-phone", yVerdicts[0].Existing.Fields["phone"])

	rec, err := store.Get(ctx, "clinic-1", "owner", "o-1")
	require.NoError(t, err)
	require.Equal(t, "150-phone", rec.Fields["phone"])
	require.Equal(t, int64(150), rec.UpdatedAt)
}

func TestReconcileUpdateUnknownIDIsNotFoundConflict(t *testing.T) {
	svc, _ := newTestService(t)

	verdicts, err := svc.Reconcile(context.Background(), "clinic-1", []Change{{
		LocalID: "L1", Op: OpUpdate, EntityType: "owner", EntityID: "missing",
		Payload:         rawPayload(t, map[string]any{"phone": "555"}),
		ClientTimestamp: 100,
	}})
	require.NoError(t, err)
	require.Equal(t, StConflicted, verdicts[0].Status)
	require.Equal(t, ReasonNotFound, verdicts[0].Reason)
	require.Nil(t, verdicts[0].Existing)
}

func TestReconcileMalformedEntryDoesNotAbortSiblings(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	verdicts, err := svc.Reconcile(ctx, "clinic-1", []Change{
		{
			LocalID: "bad", Op: "delete", EntityType: "owner", EntityID: "o-1",
			Payload:         rawPayload(t, map[string]any{}),
			ClientTimestamp: 1,
		},
		{
			LocalID: "good", Op: OpCreate, EntityType: "owner", EntityID: "o-2",
			Payload:         rawPayload(t, map[string]any{"fullName": "Ada"}),
			ClientTimestamp: 2,
		},
	})
	require.NoError(t, err)
	require.Len(t, verdicts, 2)
	require.Equal(t, StConflicted, verdicts[0].Status)
	require.Equal(t, ReasonUnknownOp, verdicts[0].Reason)
	require.Equal(t, StAccepted, verdicts[1].Status)

	rec, err := store.Get(ctx, "clinic-1", "owner", "o-2")
	require.NoError(t, err)
	require.NotNil(t, rec)
}

func TestReconcileTenantsAreIsolated(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	_, err := svc.Reconcile(ctx, "clinic-1", []Change{{
		LocalID: "L1", Op: OpCreate, EntityType: "owner", EntityID: "o-1",
		Payload:         rawPayload(t, map[string]any{"fullName": "Jane"}),
		ClientTimestamp: 100,
	}})
	require.NoError(t, err)

	// Same entity id under a different tenant resolves to a distinct key.
	verdicts, err := svc.Reconcile(ctx, "clinic-2", []Change{{
		LocalID: "L2", Op: OpUpdate, EntityType: "owner", EntityID: "o-1",
		Payload:         rawPayload(t, map[string]any{"phone": "555"}),
		ClientTimestamp: 50,
	}})
	require.NoError(t, err)
	require.Equal(t, ReasonNotFound, verdicts[0].Reason)

	rec, err := store.Get(ctx, "clinic-2", "owner", "o-1")
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestReconcileBatchTooLarge(t *testing.T) {
	store := NewMemStore()
	svc, err := NewSyncService(store, &ServiceConfig{MaxBatchSize: 1}, slog.Default())
	require.NoError(t, err)

	_, err = svc.Reconcile(context.Background(), "clinic-1", []Change{
		{LocalID: "L1", Op: OpCreate, EntityType: "owner", Payload: rawPayload(t, map[string]any{"a": 1}), ClientTimestamp: 1},
		{LocalID: "L2", Op: OpCreate, EntityType: "owner", Payload: rawPayload(t, map[string]any{"b": 2}), ClientTimestamp: 2},
	})
	require.ErrorIs(t, err, ErrBatchTooLarge)
	require.Equal(t, 0, store.Len())
}

func TestReconcileUnregisteredEntityType(t *testing.T) {
	store := NewMemStore()
	svc, err := NewSyncService(store, &ServiceConfig{
		RegisteredEntityTypes: []string{"owner", "animal"},
	}, slog.Default())
	require.NoError(t, err)

	verdicts, err := svc.Reconcile(context.Background(), "clinic-1", []Change{{
		LocalID: "L1", Op: OpCreate, EntityType: "invoice",
		Payload:         rawPayload(t, map[string]any{"total": 10}),
		ClientTimestamp: 1,
	}})
	require.NoError(t, err)
	require.Equal(t, StConflicted, verdicts[0].Status)
	require.Equal(t, ReasonBadPayload, verdicts[0].Reason)
	require.Equal(t, 0, store.Len())
}

func TestToResponsePreservesOrderWithinLists(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	verdicts, err := svc.Reconcile(ctx, "clinic-1", []Change{
		{LocalID: "A", Op: OpCreate, EntityType: "owner", EntityID: "o-1", Payload: rawPayload(t, map[string]any{"n": 1}), ClientTimestamp: 10},
		{LocalID: "B", Op: OpUpdate, EntityType: "owner", EntityID: "nope", Payload: rawPayload(t, map[string]any{"n": 2}), ClientTimestamp: 10},
		{LocalID: "C", Op: OpCreate, EntityType: "owner", EntityID: "o-2", Payload: rawPayload(t, map[string]any{"n": 3}), ClientTimestamp: 10},
		{LocalID: "D", Op: OpUpdate, EntityType: "owner", EntityID: "o-1", Payload: rawPayload(t, map[string]any{"n": 4}), ClientTimestamp: 5},
	})
	require.NoError(t, err)

	resp := ToResponse(verdicts)
	require.Len(t, resp.Synced, 2)
	require.Equal(t, "A", resp.Synced[0].LocalID)
	require.Equal(t, "C", resp.Synced[1].LocalID)
	require.Len(t, resp.Conflicts, 2)
	require.Equal(t, "B", resp.Conflicts[0].LocalID)
	require.Equal(t, "D", resp.Conflicts[1].LocalID)
	require.JSONEq(t, "null", string(resp.Conflicts[0].Existing))
}
