// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package reviewlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Darsh1153/trialbyte-v3-sub002/localstore"
)

// localstore entity types owned by this package
const (
	EntityTrialUpdate = "trial_update"
	EntityDrugUpdate  = "drug_update"
	EntityDrugMapping = "drug_mapping"
	EntityPref        = "pref"
)

// FallbackStatus tags why a change was kept locally.
type FallbackStatus string

const (
	StatusPendingAPIUpdate   FallbackStatus = "pending_api_update"  // backend reachable, mutation failed
	StatusBackendUnavailable FallbackStatus = "backend_unavailable" // probe failed
)

// FallbackRecord stands in for a direct edit the backend never confirmed.
type FallbackRecord struct {
	EntityType string          `json:"entity_type"`
	RecordID   string          `json:"record_id"`
	Payload    json.RawMessage `json:"payload"`            // changed fields only
	Snapshot   json.RawMessage `json:"snapshot,omitempty"` // entity before the edit
	Status     FallbackStatus  `json:"status"`
	Cause      string          `json:"cause,omitempty"`
	Mode       DrugUpdateMode  `json:"mode,omitempty"` // drugs only
	SavedAt    time.Time       `json:"saved_at"`
	UserID     string          `json:"user_id"`
	Attempts   int             `json:"attempts"`
}

// Kind returns the catalog entity the record belongs to.
func (r *FallbackRecord) Kind() EntityKind {
	if r.EntityType == EntityDrugUpdate {
		return KindDrug
	}
	return KindTrial
}

// DrugVersionMapping links a drug to the record created as its new version.
type DrugVersionMapping struct {
	OriginalID string    `json:"original_id"`
	NewID      string    `json:"new_id"`
	CreatedAt  time.Time `json:"created_at"`
}

func registerEntityTypes(store *localstore.Store) {
	for _, t := range []string{EntityTrialUpdate, EntityDrugUpdate, EntityDrugMapping, EntityPref} {
		store.Register(t, 1)
	}
}

func fallbackEntityType(kind EntityKind) string {
	if kind == KindDrug {
		return EntityDrugUpdate
	}
	return EntityTrialUpdate
}

// Fallback loads the pending record for (kind, id).
func (c *Client) Fallback(ctx context.Context, kind EntityKind, id string) (*FallbackRecord, bool, error) {
	var rec FallbackRecord
	ok, err := c.Store.Get(ctx, fallbackEntityType(kind), id, &rec)
	if err != nil || !ok {
		return nil, false, err
	}
	return &rec, true, nil
}

// Fallbacks lists every pending record, trials first.
func (c *Client) Fallbacks(ctx context.Context) ([]FallbackRecord, error) {
	var out []FallbackRecord
	for _, t := range []string{EntityTrialUpdate, EntityDrugUpdate} {
		entries, err := c.Store.List(ctx, t)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			var rec FallbackRecord
			if err := e.Decode(&rec); err != nil {
				return nil, fmt.Errorf("failed to decode %s:%s: %w", t, e.ID, err)
			}
			out = append(out, rec)
		}
	}
	return out, nil
}

// DropFallback discards the pending record for (kind, id).
func (c *Client) DropFallback(ctx context.Context, kind EntityKind, id string) error {
	return c.Store.Delete(ctx, fallbackEntityType(kind), id)
}

func (c *Client) putFallback(ctx context.Context, rec *FallbackRecord) error {
	return c.Store.Put(ctx, rec.EntityType, rec.RecordID, rec)
}

// DrugMapping returns the new-version id recorded for originalID.
func (c *Client) DrugMapping(ctx context.Context, originalID string) (*DrugVersionMapping, bool, error) {
	var m DrugVersionMapping
	ok, err := c.Store.Get(ctx, EntityDrugMapping, originalID, &m)
	if err != nil || !ok {
		return nil, false, err
	}
	return &m, true, nil
}

func (c *Client) putDrugMapping(ctx context.Context, originalID, newID string) {
	m := DrugVersionMapping{OriginalID: originalID, NewID: newID, CreatedAt: c.now().UTC()}
	if err := c.Store.Put(ctx, EntityDrugMapping, originalID, m); err != nil {
		c.logger.Warn("Failed to store drug version mapping", "original_id", originalID, "new_id", newID, "error", err)
	}
}
