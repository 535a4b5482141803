// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package reviewlite

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/Darsh1153/trialbyte-v3-sub002/reviewq"
)

// SaveResult is the outcome of a direct edit. Saving locally is a success
// from the caller's point of view; Cause says why the backend was bypassed.
type SaveResult struct {
	Outcome  string         // OutcomeSaved or OutcomeSavedLocally
	Status   FallbackStatus // set when saved locally
	Cause    error          // set when saved locally
	NewID    string         // id of the record created by a new-version drug save
	Response json.RawMessage
}

// SavedLocally reports whether the change only lives in the local store.
func (r *SaveResult) SavedLocally() bool { return r.Outcome == OutcomeSavedLocally }

type mutation struct {
	kind     EntityKind
	id       string
	snapshot json.RawMessage
	changes  json.RawMessage
	mode     DrugUpdateMode
}

// SaveTrial applies changes to the overview of trial id. snapshot is the
// trial as the caller last saw it and is kept with any fallback record.
func (c *Client) SaveTrial(ctx context.Context, sess Session, id string, snapshot json.RawMessage, changes map[string]any) (*SaveResult, error) {
	return c.save(ctx, sess, KindTrial, id, snapshot, changes)
}

// SaveDrug applies changes to drug id using the configured DrugUpdateMode.
func (c *Client) SaveDrug(ctx context.Context, sess Session, id string, snapshot json.RawMessage, changes map[string]any) (*SaveResult, error) {
	return c.save(ctx, sess, KindDrug, id, snapshot, changes)
}

func (c *Client) save(ctx context.Context, sess Session, kind EntityKind, id string, snapshot json.RawMessage, changes map[string]any) (*SaveResult, error) {
	if err := sess.check(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("%s id must be provided", kind)
	}
	encoded, err := json.Marshal(changes)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s changes: %w", kind, err)
	}
	m := &mutation{kind: kind, id: id, snapshot: snapshot, changes: encoded}
	if kind == KindDrug {
		m.mode = c.config.DrugUpdateMode
	}
	start := c.now()

	if err := c.probe(ctx, sess, kind); err != nil {
		c.logger.Debug("Backend probe failed", "kind", kind, "id", id, "error", err)
		return c.saveLocally(ctx, sess, m, StatusBackendUnavailable, err, start)
	}

	mctx, cancel := context.WithTimeout(ctx, c.config.MutationTimeout)
	resp, newID, err := c.apply(mctx, sess, m)
	cancel()
	if err != nil {
		return c.saveLocally(ctx, sess, m, StatusPendingAPIUpdate, err, start)
	}

	if newID != "" {
		c.putDrugMapping(context.WithoutCancel(ctx), id, newID)
	}
	c.recordEvent(ctx, OpSave, fallbackEntityType(kind), OutcomeSaved, start)
	c.logger.Debug("Saved change", "kind", kind, "id", id, "new_id", newID)
	return &SaveResult{Outcome: OutcomeSaved, NewID: newID, Response: resp}, nil
}

// saveLocally writes the single fallback record for a failed save. The write
// ignores cancellation of ctx so an abandoned request still lands locally.
func (c *Client) saveLocally(ctx context.Context, sess Session, m *mutation, status FallbackStatus, cause error, start time.Time) (*SaveResult, error) {
	rec := &FallbackRecord{
		EntityType: fallbackEntityType(m.kind),
		RecordID:   m.id,
		Payload:    m.changes,
		Snapshot:   m.snapshot,
		Status:     status,
		Cause:      cause.Error(),
		Mode:       m.mode,
		SavedAt:    c.now().UTC(),
		UserID:     sess.UserID,
	}
	if err := c.putFallback(context.WithoutCancel(ctx), rec); err != nil {
		c.logger.Error("Failed to save change locally", "kind", m.kind, "id", m.id, "cause", cause, "error", err)
		c.recordEvent(ctx, OpSave, rec.EntityType, OutcomeFallbackFailed, start)
		return nil, &FallbackError{Cause: cause, WriteErr: err}
	}
	c.logger.Warn("Backend save failed, change saved locally", "kind", m.kind, "id", m.id, "status", status, "error", cause)
	c.recordEvent(ctx, OpSave, rec.EntityType, OutcomeSavedLocally, start)
	return &SaveResult{Outcome: OutcomeSavedLocally, Status: status, Cause: cause}, nil
}

func (c *Client) probe(ctx context.Context, sess Session, kind EntityKind) error {
	if c.config.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ProbeTimeout)
		defer cancel()
	}
	return c.call(ctx, sess, http.MethodGet, kind.listPath(), nil, nil, nil)
}

// apply sends the mutation once. For new-version drug saves it also returns
// the id of the created record.
func (c *Client) apply(ctx context.Context, sess Session, m *mutation) (json.RawMessage, string, error) {
	var (
		method = http.MethodPatch
		path   string
		body   map[string]any
		err    error
	)
	switch {
	case m.kind == KindTrial:
		path = reviewq.PathTrialOverview + "/" + url.PathEscape(m.id)
		body, err = decodeObject(m.changes)
	case m.mode == DrugUpdatePatch:
		path = reviewq.PathDrugOverview + "/" + url.PathEscape(m.id)
		body, err = decodeObject(m.changes)
	default:
		method = http.MethodPost
		path = reviewq.PathDrugOverview
		body, err = newVersionBody(m.snapshot, m.changes, m.id)
	}
	if err != nil {
		return nil, "", err
	}
	body["user_id"] = sess.UserID

	var resp json.RawMessage
	if err := c.call(ctx, sess, method, path, body, &resp, nil); err != nil {
		return nil, "", err
	}
	if method != http.MethodPost {
		return resp, "", nil
	}
	newID := extractID(resp)
	if newID == "" {
		c.logger.Warn("New drug version response carried no id", "original_id", m.id)
	}
	return resp, newID, nil
}

// newVersionBody merges changes onto the snapshot (RFC 7386) and links the
// result to the original drug.
func newVersionBody(snapshot, changes json.RawMessage, originalID string) (map[string]any, error) {
	base := snapshot
	if len(base) == 0 {
		base = json.RawMessage(`{}`)
	}
	merged, err := jsonpatch.MergePatch(base, changes)
	if err != nil {
		return nil, fmt.Errorf("failed to merge drug changes: %w", err)
	}
	body, err := decodeObject(merged)
	if err != nil {
		return nil, err
	}
	delete(body, "id")
	delete(body, "drug_id")
	body["original_drug_id"] = originalID
	body["is_updated_version"] = true
	return body, nil
}

func decodeObject(raw json.RawMessage) (map[string]any, error) {
	obj := map[string]any{}
	if len(raw) == 0 || string(raw) == "null" {
		return obj, nil
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("expected a JSON object: %w", err)
	}
	return obj, nil
}

// extractID finds the id of a created record, either at the top level or in a
// "drug", "data" or "overview" wrapper.
func extractID(raw json.RawMessage) string {
	var obj map[string]json.RawMessage
	if json.Unmarshal(raw, &obj) != nil {
		return ""
	}
	if id := entityID(obj, "drug_id"); id != "" {
		return id
	}
	for _, wrapper := range []string{"drug", "data", "overview"} {
		inner, ok := obj[wrapper]
		if !ok {
			continue
		}
		if id := extractID(inner); id != "" {
			return id
		}
	}
	return ""
}
