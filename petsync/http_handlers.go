// Copyright 2025 PetShield Contributors
// SPDX-License-Identifier: Apache-2.0

package petsync

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// HTTPSyncHandlers provides HTTP handlers for the reconciliation API
type HTTPSyncHandlers struct {
	service       *SyncService
	authenticator ClientAuthenticator
	logger        *slog.Logger
}

// NewHTTPSyncHandlers creates a new instance of sync handlers
func NewHTTPSyncHandlers(service *SyncService, authenticator ClientAuthenticator, logger *slog.Logger) *HTTPSyncHandlers {
	return &HTTPSyncHandlers{
		service:       service,
		authenticator: authenticator,
		logger:        logger,
	}
}

// HandleReconcile processes batch reconciliation requests with conflict detection
func (h *HTTPSyncHandlers) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST method is allowed")
		return
	}

	tenantID, err := h.authenticator.GetTenantID(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return
	}

	deviceID, err := h.authenticator.GetDeviceID(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return
	}

	var req ReconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse reconcile request")
		return
	}

	verdicts, err := h.service.Reconcile(r.Context(), tenantID, req.Changes)
	if err != nil {
		if errors.Is(err, ErrBatchTooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "batch_too_large", err.Error())
			return
		}
		h.logger.Error("Failed to process reconcile", "error", err, "tenant", tenantID, "device_id", deviceID)
		h.writeError(w, http.StatusInternalServerError, "reconcile_failed", "Failed to process reconcile")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err = json.NewEncoder(w).Encode(ToResponse(verdicts)); err != nil {
		h.logger.Error("Failed to encode reconcile response", "error", err, "tenant", tenantID)
	}
}

// HandleSchemaVersion returns the current wire schema version
func (h *HTTPSyncHandlers) HandleSchemaVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET method is allowed")
		return
	}
	response := SchemaVersionResponse{
		Version: h.service.SchemaVersion(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// HandleStatus returns a liveness/status document
func (h *HTTPSyncHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET method is allowed")
		return
	}
	response := StatusResponse{
		Status:      "healthy",
		AppName:     h.service.AppName(),
		EntityTypes: h.service.RegisteredEntityTypes(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// writeError writes a standardized error response
func (h *HTTPSyncHandlers) writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResponse := ErrorResponse{
		Error:   errorCode,
		Message: message,
	}
	json.NewEncoder(w).Encode(errorResponse)

	h.logger.Debug("HTTP error response",
		"status_code", statusCode,
		"error_code", errorCode,
		"message", message)
}
