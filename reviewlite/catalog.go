// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package reviewlite

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/Darsh1153/trialbyte-v3-sub002/reviewq"
)

// EntityKind names the two directly editable catalog entities.
type EntityKind string

const (
	KindTrial EntityKind = "trial"
	KindDrug  EntityKind = "drug"
)

func (k EntityKind) listPath() string {
	if k == KindDrug {
		return reviewq.PathDrugs
	}
	return reviewq.PathTrials
}

// ListTrials fetches every trial with its nested data.
func (c *Client) ListTrials(ctx context.Context, sess Session) (*reviewq.TrialListResponse, error) {
	var resp reviewq.TrialListResponse
	if err := c.call(ctx, sess, http.MethodGet, reviewq.PathTrials, nil, &resp, nil); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListDrugs fetches every drug with its nested data.
func (c *Client) ListDrugs(ctx context.Context, sess Session) (*reviewq.DrugListResponse, error) {
	var resp reviewq.DrugListResponse
	if err := c.call(ctx, sess, http.MethodGet, reviewq.PathDrugs, nil, &resp, nil); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FindTrial returns the overview of trial id from a listing.
func FindTrial(list *reviewq.TrialListResponse, id string) (json.RawMessage, bool) {
	if list == nil {
		return nil, false
	}
	return findEntity(list.Trials, id, "trial_id")
}

// FindDrug returns the overview of drug id from a listing.
func FindDrug(list *reviewq.DrugListResponse, id string) (json.RawMessage, bool) {
	if list == nil {
		return nil, false
	}
	return findEntity(list.Drugs, id, "drug_id")
}

// findEntity matches on "id" or idKey, at the top level or inside "overview".
// The overview is returned when present since that is what the editors patch.
func findEntity(items []json.RawMessage, id, idKey string) (json.RawMessage, bool) {
	for _, raw := range items {
		var obj map[string]json.RawMessage
		if json.Unmarshal(raw, &obj) != nil {
			continue
		}
		overview, hasOverview := obj["overview"]
		if matchesID(obj, id, idKey) {
			if hasOverview {
				return overview, true
			}
			return raw, true
		}
		if hasOverview {
			var inner map[string]json.RawMessage
			if json.Unmarshal(overview, &inner) == nil && matchesID(inner, id, idKey) {
				return overview, true
			}
		}
	}
	return nil, false
}

// findDrugVersion finds the newest drug posted as a new version of
// originalID, which is the last match in listing order.
func findDrugVersion(list *reviewq.DrugListResponse, originalID string) (latest json.RawMessage, latestID string, found bool) {
	if list == nil {
		return nil, "", false
	}
	for _, raw := range list.Drugs {
		entity := raw
		var obj map[string]json.RawMessage
		if json.Unmarshal(raw, &obj) != nil {
			continue
		}
		if ov, ok := obj["overview"]; ok {
			entity = ov
			obj = nil
			if json.Unmarshal(ov, &obj) != nil {
				continue
			}
		}
		if stringField(obj, "original_drug_id") == originalID {
			latest, latestID, found = entity, entityID(obj, "drug_id"), true
		}
	}
	return latest, latestID, found
}

func matchesID(obj map[string]json.RawMessage, id, idKey string) bool {
	return id != "" && entityID(obj, idKey) == id
}

func entityID(obj map[string]json.RawMessage, idKey string) string {
	if v := stringField(obj, "id"); v != "" {
		return v
	}
	return stringField(obj, idKey)
}

// stringField reads a string or number field as text.
func stringField(obj map[string]json.RawMessage, key string) string {
	raw, ok := obj[key]
	if !ok {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String()
	}
	return ""
}
