// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package reviewq

import (
	"context"
	"time"
)

// Operations and stages reported through StageMetricsRecorder
const (
	MetricsOpSubmit = "submit"
	MetricsOpList   = "list"
	MetricsOpReview = "review"

	MetricsStageTotal    = "total"
	MetricsStageValidate = "validate"
	MetricsStageStore    = "store"
)

// StageTiming is one measured step of a review queue operation.
type StageTiming struct {
	Op     string
	Stage  string
	Took   time.Duration
	Items  int // change requests touched
	Failed bool
}

// StageMetricsRecorder receives stage timings from the review service.
type StageMetricsRecorder interface {
	ObserveStage(ctx context.Context, timing StageTiming)
}

type StageMetricsRecorderFunc func(ctx context.Context, timing StageTiming)

func (f StageMetricsRecorderFunc) ObserveStage(ctx context.Context, timing StageTiming) {
	f(ctx, timing)
}

// stageSpan measures one stage; the zero span (timings disabled) is a no-op.
type stageSpan struct {
	s         *ReviewService
	op, stage string
	start     time.Time
}

func (s *ReviewService) span(op, stage string) stageSpan {
	if s.config.StageMetrics == nil && !s.config.LogStageTimings {
		return stageSpan{}
	}
	return stageSpan{s: s, op: op, stage: stage, start: time.Now()}
}

func (sp stageSpan) end(ctx context.Context, items int, failed bool) {
	if sp.s == nil {
		return
	}
	t := StageTiming{Op: sp.op, Stage: sp.stage, Took: time.Since(sp.start), Items: items, Failed: failed}
	if rec := sp.s.config.StageMetrics; rec != nil {
		rec.ObserveStage(ctx, t)
	}
	if sp.s.config.LogStageTimings {
		sp.s.logger.Debug("Review stage", "op", t.Op, "stage", t.Stage, "took", t.Took, "items", t.Items, "failed", t.Failed)
	}
}
