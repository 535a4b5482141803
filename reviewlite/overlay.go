// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package reviewlite

import (
	"context"
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// Overlay merges the pending local change for (kind, id) onto serverState so
// the entity can be shown as if the save had succeeded. It reports false and
// returns serverState unchanged when nothing is pending.
func (c *Client) Overlay(ctx context.Context, kind EntityKind, id string, serverState json.RawMessage) (json.RawMessage, bool, error) {
	rec, ok, err := c.Fallback(ctx, kind, id)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return serverState, false, nil
	}
	base := serverState
	if len(base) == 0 {
		base = rec.Snapshot
	}
	if len(base) == 0 {
		base = json.RawMessage(`{}`)
	}
	merged, err := jsonpatch.MergePatch(base, rec.Payload)
	if err != nil {
		return nil, false, fmt.Errorf("failed to overlay %s %s: %w", kind, id, err)
	}
	return merged, true, nil
}
