// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package reviewlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Darsh1153/trialbyte-v3-sub002/localstore"
)

// Browser-era storage keys understood by ImportLegacy.
const (
	legacyDrugUpdatePrefix   = "drugUpdate_"
	legacyTrialUpdatePrefix  = "therapeuticTrial_"
	legacyPendingDrugs       = "pendingDrugUpdates"
	legacyPendingTrials      = "pendingTherapeuticUpdates"
	legacyDrugUpdateMappings = "drugUpdateMappings"
)

var legacyPrefKeys = map[string]bool{
	"favoriteTrials":      true,
	"trialColumnSettings": true,
	"unifiedSavedQueries": true,
	"queryExecutionLogs":  true,
}

var errNoPayload = errors.New("no update payload")

// ImportReport describes what ImportLegacy wrote.
type ImportReport struct {
	Counts  map[string]int    // entity type -> records written
	Skipped []string          // keys with no known meaning
	Invalid map[string]string // key -> reason it could not be imported
}

func (r *ImportReport) invalid(key string, err error) {
	r.Invalid[key] = err.Error()
}

// ImportLegacy copies an export of the old browser storage (key -> stored
// string) into store. Keys are processed in sorted order so a later key wins
// when two of them describe the same record. A key that fails to parse is
// reported and does not stop the import; a store write failure does.
func ImportLegacy(ctx context.Context, store *localstore.Store, entries map[string]string) (*ImportReport, error) {
	registerEntityTypes(store)
	report := &ImportReport{Counts: make(map[string]int), Invalid: make(map[string]string)}
	now := time.Now().UTC()

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	put := func(entityType, id string, v any) error {
		if err := store.Put(ctx, entityType, id, v); err != nil {
			return fmt.Errorf("failed to import %s:%s: %w", entityType, id, err)
		}
		report.Counts[entityType]++
		return nil
	}

	for _, key := range keys {
		value := entries[key]
		switch {
		case strings.HasPrefix(key, legacyDrugUpdatePrefix), strings.HasPrefix(key, legacyTrialUpdatePrefix):
			entityType, id := EntityTrialUpdate, strings.TrimPrefix(key, legacyTrialUpdatePrefix)
			if strings.HasPrefix(key, legacyDrugUpdatePrefix) {
				entityType, id = EntityDrugUpdate, strings.TrimPrefix(key, legacyDrugUpdatePrefix)
			}
			rec, err := parseLegacyRecord(json.RawMessage(value), entityType, id, now)
			if err != nil {
				report.invalid(key, err)
				continue
			}
			if err := put(rec.EntityType, rec.RecordID, rec); err != nil {
				return report, err
			}

		case key == legacyPendingDrugs, key == legacyPendingTrials:
			entityType := EntityTrialUpdate
			if key == legacyPendingDrugs {
				entityType = EntityDrugUpdate
			}
			recs, err := parseLegacyCollection(json.RawMessage(value), entityType, now)
			if err != nil {
				report.invalid(key, err)
				continue
			}
			for _, rec := range recs {
				if err := put(rec.EntityType, rec.RecordID, rec); err != nil {
					return report, err
				}
			}

		case key == legacyDrugUpdateMappings:
			mappings, err := parseLegacyMappings(json.RawMessage(value), now)
			if err != nil {
				report.invalid(key, err)
				continue
			}
			for _, m := range mappings {
				if err := put(EntityDrugMapping, m.OriginalID, m); err != nil {
					return report, err
				}
			}

		case legacyPrefKeys[key]:
			var raw json.RawMessage
			if json.Valid([]byte(value)) {
				raw = json.RawMessage(value)
			} else {
				// stored as a bare string
				raw, _ = json.Marshal(value)
			}
			if err := put(EntityPref, key, raw); err != nil {
				return report, err
			}

		default:
			report.Skipped = append(report.Skipped, key)
		}
	}
	return report, nil
}

func parseLegacyCollection(raw json.RawMessage, entityType string, now time.Time) ([]*FallbackRecord, error) {
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		out := make([]*FallbackRecord, 0, len(list))
		for i, item := range list {
			rec, err := parseLegacyRecord(item, entityType, "", now)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			out = append(out, rec)
		}
		return out, nil
	}

	var byID map[string]json.RawMessage
	if err := json.Unmarshal(raw, &byID); err != nil {
		return nil, fmt.Errorf("expected an array or object: %w", err)
	}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*FallbackRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := parseLegacyRecord(byID[id], entityType, id, now)
		if err != nil {
			return nil, fmt.Errorf("item %q: %w", id, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func parseLegacyRecord(raw json.RawMessage, entityType, id string, now time.Time) (*FallbackRecord, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("expected an object: %w", err)
	}
	if id == "" {
		id = firstString(obj, "id", "recordId", "record_id", "drugId", "drug_id", "trialId", "trial_id")
	}
	if id == "" {
		return nil, errors.New("missing record id")
	}

	payload := firstObject(obj, "updateData", "updates", "data", "payload")
	if payload == nil {
		return nil, errNoPayload
	}
	rec := &FallbackRecord{
		EntityType: entityType,
		RecordID:   id,
		Payload:    payload,
		Snapshot:   firstObject(obj, "originalData", "original", "snapshot"),
		Status:     StatusPendingAPIUpdate,
		UserID:     firstString(obj, "userId", "user_id"),
		SavedAt:    now,
	}
	if s := FallbackStatus(firstString(obj, "status")); s == StatusBackendUnavailable {
		rec.Status = s
	}
	if entityType == EntityDrugUpdate {
		rec.Mode = DrugUpdateNewVersion
	}
	if ts, ok := legacyTime(obj, "timestamp", "savedAt", "updatedAt"); ok {
		rec.SavedAt = ts
	}
	return rec, nil
}

func parseLegacyMappings(raw json.RawMessage, now time.Time) ([]DrugVersionMapping, error) {
	var list []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		out := make([]DrugVersionMapping, 0, len(list))
		for i, obj := range list {
			m := DrugVersionMapping{
				OriginalID: firstString(obj, "originalId", "original_id", "oldId"),
				NewID:      firstString(obj, "newId", "new_id"),
				CreatedAt:  now,
			}
			if m.OriginalID == "" || m.NewID == "" {
				return nil, fmt.Errorf("item %d: missing original or new id", i)
			}
			if ts, ok := legacyTime(obj, "createdAt", "timestamp"); ok {
				m.CreatedAt = ts
			}
			out = append(out, m)
		}
		return out, nil
	}

	var byID map[string]json.RawMessage
	if err := json.Unmarshal(raw, &byID); err != nil {
		return nil, fmt.Errorf("expected an array or object: %w", err)
	}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]DrugVersionMapping, 0, len(ids))
	for _, oldID := range ids {
		m := DrugVersionMapping{OriginalID: oldID, CreatedAt: now}
		var newID string
		if json.Unmarshal(byID[oldID], &newID) == nil {
			m.NewID = newID
		} else {
			var obj map[string]json.RawMessage
			if json.Unmarshal(byID[oldID], &obj) == nil {
				m.NewID = firstString(obj, "newId", "new_id", "id")
				if ts, ok := legacyTime(obj, "createdAt", "timestamp"); ok {
					m.CreatedAt = ts
				}
			}
		}
		if m.NewID == "" {
			return nil, fmt.Errorf("item %q: missing new id", oldID)
		}
		out = append(out, m)
	}
	return out, nil
}

func firstString(obj map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		if v := stringField(obj, k); v != "" {
			return v
		}
	}
	return ""
}

func firstObject(obj map[string]json.RawMessage, keys ...string) json.RawMessage {
	for _, k := range keys {
		raw, ok := obj[k]
		if !ok {
			continue
		}
		var m map[string]json.RawMessage
		if json.Unmarshal(raw, &m) == nil && m != nil {
			return raw
		}
	}
	return nil
}

// legacyTime accepts RFC 3339 strings or epoch milliseconds.
func legacyTime(obj map[string]json.RawMessage, keys ...string) (time.Time, bool) {
	for _, k := range keys {
		raw, ok := obj[k]
		if !ok {
			continue
		}
		var s string
		if json.Unmarshal(raw, &s) == nil {
			if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
				return ts.UTC(), true
			}
			continue
		}
		var ms int64
		if json.Unmarshal(raw, &ms) == nil && ms > 0 {
			return time.UnixMilli(ms).UTC(), true
		}
	}
	return time.Time{}, false
}
