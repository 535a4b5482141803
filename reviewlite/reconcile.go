// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package reviewlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/wI2L/jsondiff"

	"github.com/Darsh1153/trialbyte-v3-sub002/reviewq"
)

// ReconcileItem is the outcome for one fallback record.
type ReconcileItem struct {
	Kind    EntityKind
	ID      string
	Outcome string // OutcomeReplayed, OutcomeAlreadyApplied or OutcomeFailed
	NewID   string
	Err     error
}

// ReconcileReport summarizes one reconcile pass.
type ReconcileReport struct {
	Pending        int
	Skipped        bool  // backend unreachable, nothing attempted
	SkipReason     error // why the pass was skipped
	Replayed       int
	AlreadyApplied int
	Failed         int
	Items          []ReconcileItem
}

// ReconcileOnce makes a single pass over the fallback records. Records whose
// change the backend already shows are dropped without a request; the rest
// are replayed once and dropped on success. Failed replays stay with their
// attempt counter bumped.
func (c *Client) ReconcileOnce(ctx context.Context, sess Session) (*ReconcileReport, error) {
	if err := sess.check(); err != nil {
		return nil, err
	}
	start := c.now()
	recs, err := c.Fallbacks(ctx)
	if err != nil {
		return nil, err
	}
	report := &ReconcileReport{Pending: len(recs)}
	if len(recs) == 0 {
		return report, nil
	}

	var (
		trials *reviewq.TrialListResponse
		drugs  *reviewq.DrugListResponse
	)
	for _, rec := range recs {
		switch {
		case rec.Kind() == KindTrial && trials == nil:
			trials, err = c.ListTrials(ctx, sess)
		case rec.Kind() == KindDrug && drugs == nil:
			drugs, err = c.ListDrugs(ctx, sess)
		}
		if err != nil {
			report.Skipped = true
			report.SkipReason = err
			c.logger.Info("Backend unreachable, reconcile skipped", "pending", len(recs), "error", err)
			c.recordEvent(ctx, OpReconcile, "", OutcomeSkipped, start)
			return report, nil
		}
	}

	for i := range recs {
		item := c.reconcileRecord(ctx, sess, &recs[i], trials, drugs)
		switch item.Outcome {
		case OutcomeReplayed:
			report.Replayed++
		case OutcomeAlreadyApplied:
			report.AlreadyApplied++
		default:
			report.Failed++
		}
		report.Items = append(report.Items, item)
		c.recordEvent(ctx, OpReconcile, recs[i].EntityType, item.Outcome, start)
	}
	c.logger.Info("Reconcile pass complete",
		"pending", report.Pending,
		"replayed", report.Replayed,
		"already_applied", report.AlreadyApplied,
		"failed", report.Failed)
	return report, nil
}

func (c *Client) reconcileRecord(ctx context.Context, sess Session, rec *FallbackRecord, trials *reviewq.TrialListResponse, drugs *reviewq.DrugListResponse) ReconcileItem {
	item := ReconcileItem{Kind: rec.Kind(), ID: rec.RecordID}
	mode := rec.Mode
	if rec.Kind() == KindDrug && mode == "" {
		mode = c.config.DrugUpdateMode
	}

	// The original save may have landed after the client gave up on it.
	var current json.RawMessage
	var found bool
	switch {
	case rec.Kind() == KindTrial:
		current, found = FindTrial(trials, rec.RecordID)
	case mode == DrugUpdateNewVersion:
		current, item.NewID, found = findDrugVersion(drugs, rec.RecordID)
		if found && c.mappedBefore(ctx, rec, item.NewID) {
			// The version predates this edit, so it cannot be the edit landing.
			current, item.NewID, found = nil, "", false
		}
	default:
		current, found = FindDrug(drugs, rec.RecordID)
	}
	if found {
		applied, err := alreadyApplied(current, rec.Payload)
		if err != nil {
			c.logger.Debug("Could not compare server state", "kind", item.Kind, "id", item.ID, "error", err)
		}
		if applied {
			if item.NewID != "" {
				c.putDrugMapping(ctx, rec.RecordID, item.NewID)
			}
			c.dropIfUnchanged(ctx, rec)
			item.Outcome = OutcomeAlreadyApplied
			return item
		}
	}

	m := &mutation{kind: rec.Kind(), id: rec.RecordID, snapshot: rec.Snapshot, changes: rec.Payload, mode: mode}
	mctx, cancel := context.WithTimeout(ctx, c.config.MutationTimeout)
	_, newID, err := c.apply(mctx, sess, m)
	cancel()
	if err != nil {
		item.Outcome = OutcomeFailed
		item.Err = err
		rec.Attempts++
		rec.Cause = err.Error()
		rec.Status = StatusPendingAPIUpdate
		if perr := c.putFallback(context.WithoutCancel(ctx), rec); perr != nil {
			c.logger.Warn("Failed to update fallback record", "kind", item.Kind, "id", item.ID, "error", perr)
		}
		return item
	}
	if newID != "" {
		item.NewID = newID
		c.putDrugMapping(ctx, rec.RecordID, newID)
	}
	c.dropIfUnchanged(ctx, rec)
	item.Outcome = OutcomeReplayed
	return item
}

// dropIfUnchanged deletes rec unless a newer save replaced it meanwhile.
func (c *Client) dropIfUnchanged(ctx context.Context, rec *FallbackRecord) {
	latest, ok, err := c.Fallback(ctx, rec.Kind(), rec.RecordID)
	if err != nil {
		c.logger.Warn("Failed to reload fallback record", "id", rec.RecordID, "error", err)
		return
	}
	if !ok || !latest.SavedAt.Equal(rec.SavedAt) {
		return
	}
	if err := c.DropFallback(ctx, rec.Kind(), rec.RecordID); err != nil {
		c.logger.Warn("Failed to drop fallback record", "id", rec.RecordID, "error", err)
	}
}

// alreadyApplied reports whether merging payload into current changes nothing.
func alreadyApplied(current, payload json.RawMessage) (bool, error) {
	merged, err := jsonpatch.MergePatch(current, payload)
	if err != nil {
		return false, fmt.Errorf("failed to merge payload: %w", err)
	}
	patch, err := jsondiff.CompareJSON(current, merged)
	if err != nil {
		return false, fmt.Errorf("failed to diff: %w", err)
	}
	return len(patch) == 0, nil
}

// mappedBefore reports whether versionID was already the known new version
// of rec's drug when rec was saved.
func (c *Client) mappedBefore(ctx context.Context, rec *FallbackRecord, versionID string) bool {
	m, ok, err := c.DrugMapping(ctx, rec.RecordID)
	if err != nil {
		c.logger.Debug("Could not read drug mapping", "id", rec.RecordID, "error", err)
		return false
	}
	return ok && m.NewID == versionID && !m.CreatedAt.After(rec.SavedAt)
}

// Start runs ReconcileOnce in the background until Stop is called or ctx ends.
// Failed or skipped passes back off exponentially up to BackoffMax.
func (c *Client) Start(ctx context.Context, sess Session) error {
	if !c.config.AutoReconcile {
		return ErrReconcilerDisabled
	}
	if err := sess.check(); err != nil {
		return err
	}
	c.loopMu.Lock()
	defer c.loopMu.Unlock()
	if c.loopCancel != nil {
		return ErrReconcilerRunning
	}
	lctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.loopCancel, c.loopDone = cancel, done
	go func() {
		defer close(done)
		c.reconcilerLoop(lctx, sess)
		cancel()
		// Stop already cleared the fields unless ctx ended the loop
		c.loopMu.Lock()
		if c.loopDone == done {
			c.loopCancel, c.loopDone = nil, nil
		}
		c.loopMu.Unlock()
	}()
	return nil
}

// Stop cancels the background reconciler and waits for it to exit.
func (c *Client) Stop() {
	c.loopMu.Lock()
	cancel, done := c.loopCancel, c.loopDone
	c.loopCancel, c.loopDone = nil, nil
	c.loopMu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// reconcilerLoop runs reconcile passes with backoff
func (c *Client) reconcilerLoop(ctx context.Context, sess Session) {
	backoff := c.config.BackoffMin
	for {
		report, err := c.ReconcileOnce(ctx, sess)
		if ctx.Err() != nil {
			return
		}
		wait := backoff
		if err != nil || report.Skipped || report.Failed > 0 {
			if err != nil {
				c.logger.Warn("Reconcile pass failed", "error", err)
			}
			backoff = backoff * 2
			if backoff > c.config.BackoffMax {
				backoff = c.config.BackoffMax
			}
		} else {
			backoff = c.config.BackoffMin
			wait = backoff
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
