// Copyright 2025 PetShield Contributors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jkidune/go-petsync/petsync"
)

// newRouter wires the sync handlers into a chi router.
func newRouter(service *petsync.SyncService, jwtAuth *petsync.JWTAuth, logger *slog.Logger) *chi.Mux {
	h := petsync.NewHTTPSyncHandlers(service, jwtAuth, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/sync/schema-version", h.HandleSchemaVersion)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(jwtAuth.Middleware)
		r.Post("/sync/reconcile", h.HandleReconcile)
		r.Get("/sync/status", h.HandleStatus)
	})

	return r
}

// requestLogger logs one line per request with latency and status.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
