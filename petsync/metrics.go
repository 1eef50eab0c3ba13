// Copyright 2025 PetShield Contributors
// SPDX-License-Identifier: Apache-2.0

package petsync

import (
	"context"
	"time"
)

const (
	MetricsStageReconcile = "reconcile"
)

// StageTiming describes one timed reconciliation stage.
type StageTiming struct {
	Stage    string
	Duration time.Duration
	Count    int
	Error    bool
}

// StageMetricsRecorder receives stage timings from the sync service.
// Implementations must be safe for concurrent use.
type StageMetricsRecorder interface {
	ObserveStage(ctx context.Context, timing StageTiming)
}

// StageMetricsRecorderFunc adapts a function to StageMetricsRecorder.
type StageMetricsRecorderFunc func(ctx context.Context, timing StageTiming)

func (f StageMetricsRecorderFunc) ObserveStage(ctx context.Context, timing StageTiming) {
	f(ctx, timing)
}

func (s *SyncService) stageStart() time.Time {
	if s == nil || s.config == nil || s.config.StageMetrics == nil {
		return time.Time{}
	}
	return time.Now()
}

func (s *SyncService) observeStage(ctx context.Context, stage string, start time.Time, count int, hadError bool) {
	if start.IsZero() || s.config.StageMetrics == nil {
		return
	}
	s.config.StageMetrics.ObserveStage(ctx, StageTiming{
		Stage:    stage,
		Duration: time.Since(start),
		Count:    count,
		Error:    hadError,
	})
}
