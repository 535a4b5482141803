// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package reviewlite

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Darsh1153/trialbyte-v3-sub002/reviewq"
)

// Ack is the backend's confirmation of a submitted change request.
type Ack struct {
	Request reviewq.ChangeRequest
}

// SubmitChange sends one change request for review. proposedData is encoded
// once, before the request is built, so later changes to the caller's value
// do not affect what was sent. There is no retry and nothing is written to
// the local store on failure.
func (c *Client) SubmitChange(ctx context.Context, sess Session, targetTable, targetRecordID string, changeType reviewq.ChangeType, proposedData any) (ack *Ack, err error) {
	if err := sess.check(); err != nil {
		return nil, err
	}
	start := c.now()
	defer func() { c.recordEvent(ctx, OpSubmit, targetTable, outcomeOf(err), start) }()

	snapshot, err := json.Marshal(proposedData)
	if err != nil {
		return nil, fmt.Errorf("failed to encode proposed data: %w", err)
	}
	req := reviewq.SubmitChangeRequest{
		TargetTable:    targetTable,
		TargetRecordID: targetRecordID,
		ProposedData:   snapshot,
		ChangeType:     changeType,
		SubmittedBy:    sess.UserID,
	}
	if fieldErrs := req.Ok(); fieldErrs != nil {
		return nil, &ValidationError{Fields: fieldErrs}
	}
	body, err := json.Marshal(&req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal change request: %w", err)
	}

	var cr reviewq.ChangeRequest
	if err := c.call(ctx, sess, http.MethodPost, reviewq.PathSubmitChange, body, &cr, nil); err != nil {
		c.logger.Debug("Change submission failed", "table", targetTable, "id", targetRecordID, "error", err)
		return nil, err
	}
	c.logger.Debug("Change submitted", "table", targetTable, "id", targetRecordID, "request_id", cr.ID)
	return &Ack{Request: cr}, nil
}

func outcomeOf(err error) string {
	if err != nil {
		return OutcomeFailed
	}
	return OutcomeOK
}

func (c *Client) recordEvent(ctx context.Context, op, entity, outcome string, start time.Time) {
	if c.Events == nil {
		return
	}
	c.Events.RecordEvent(ctx, Event{
		Op:       op,
		Entity:   entity,
		Outcome:  outcome,
		Duration: c.now().Sub(start),
	})
}
