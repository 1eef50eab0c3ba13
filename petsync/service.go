// Copyright 2025 PetShield Contributors
// SPDX-License-Identifier: Apache-2.0

package petsync

import (
	"fmt"
	"log/slog"
	"strings"
)

// SyncService provides the server-side reconciliation step: it decides, per
// incoming mutation, whether the mutation may be applied to the system-of-record
// or must be rejected as a conflict.
// This is the main SDK component that developers integrate into their applications.
type SyncService struct {
	store       Store
	logger      *slog.Logger
	config      *ServiceConfig
	entityTypes map[string]bool // Set of entity types allowed in sync operations; empty = allow all
}

// ServiceConfig holds configuration for the sync service
type ServiceConfig struct {
	AppName               string   // Application name for logging and status responses
	SchemaVersion         int      // Current wire schema version to return
	RegisteredEntityTypes []string // Entity types allowed for sync (empty = all)

	MaxBatchSize    int // Maximum number of changes allowed in a single request (0 = unlimited)
	MaxPayloadBytes int // Maximum JSON payload size per change in bytes (0 = unlimited)

	StageMetrics StageMetricsRecorder // Optional per-stage timing hook
}

// NewSyncService creates a new sync service over the given system-of-record store.
func NewSyncService(store Store, config *ServiceConfig, logger *slog.Logger) (*SyncService, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if config == nil {
		config = &ServiceConfig{
			SchemaVersion: 1,
			AppName:       "go-petsync-app",
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	service := &SyncService{
		store:       store,
		logger:      logger,
		config:      config,
		entityTypes: make(map[string]bool),
	}
	for _, et := range config.RegisteredEntityTypes {
		service.entityTypes[strings.ToLower(et)] = true
	}
	return service, nil
}

// SchemaVersion returns the current wire schema version
func (s *SyncService) SchemaVersion() int {
	if s.config.SchemaVersion == 0 {
		return 1
	}
	return s.config.SchemaVersion
}

// AppName returns the configured application name
func (s *SyncService) AppName() string {
	return s.config.AppName
}

// RegisteredEntityTypes returns the entity types allowed for sync.
func (s *SyncService) RegisteredEntityTypes() []string {
	return append([]string(nil), s.config.RegisteredEntityTypes...)
}

// isEntityTypeRegistered checks whether an entity type participates in sync.
// An empty registration set allows every type.
func (s *SyncService) isEntityTypeRegistered(entityType string) bool {
	if len(s.entityTypes) == 0 {
		return true
	}
	return s.entityTypes[strings.ToLower(entityType)]
}
