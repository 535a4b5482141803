// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package reviewlite

import (
	"context"
	"time"
)

const (
	OpSubmit    = "submit"
	OpList      = "list"
	OpReview    = "review"
	OpSave      = "save"
	OpReconcile = "reconcile"

	OutcomeOK             = "ok"
	OutcomeFailed         = "failed"
	OutcomeSaved          = "saved"
	OutcomeSavedLocally   = "saved_locally"
	OutcomeFallbackFailed = "fallback_failed"
	OutcomeReplayed       = "replayed"
	OutcomeAlreadyApplied = "already_applied"
	OutcomeSkipped        = "skipped"
)

// Event is one client-side outcome.
type Event struct {
	Op       string
	Entity   string // target table or fallback entity type
	Outcome  string
	Duration time.Duration
}

type EventRecorder interface {
	RecordEvent(ctx context.Context, ev Event)
}

type EventRecorderFunc func(ctx context.Context, ev Event)

func (f EventRecorderFunc) RecordEvent(ctx context.Context, ev Event) {
	f(ctx, ev)
}
