// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package reviewq

import (
	"encoding/json"
	"time"
)

// REST/JSON models shared by the review queue server and its clients

// SubmitChangeRequest is the body of POST /api/v1/pending-changes/submitChange.
// Field order matches the order clients send.
type SubmitChangeRequest struct {
	TargetTable    string          `json:"target_table" validate:"required,max=128"`
	TargetRecordID string          `json:"target_record_id" validate:"required_unless=ChangeType CREATE,max=128"`
	ProposedData   json.RawMessage `json:"proposed_data"`
	ChangeType     ChangeType      `json:"change_type" validate:"required,oneof=CREATE UPDATE DELETE"`
	SubmittedBy    string          `json:"submitted_by" validate:"required"`
}

// ChangeRequest is a submitted change as stored by the review queue
type ChangeRequest struct {
	ID             string          `json:"id"`
	TargetTable    string          `json:"target_table"`
	TargetRecordID string          `json:"target_record_id"`
	ChangeType     ChangeType      `json:"change_type"`
	ProposedData   json.RawMessage `json:"proposed_data,omitempty"`
	SubmittedBy    string          `json:"submitted_by"`
	Status         string          `json:"status"` // pending, approved, rejected
	ReviewedBy     string          `json:"reviewed_by,omitempty"`
	Reason         *string         `json:"reason,omitempty"` // Reject reason, nil when none was given
	CreatedAt      time.Time       `json:"created_at"`
	ReviewedAt     *time.Time      `json:"reviewed_at,omitempty"`
}

// IsPending reports whether the request still awaits a review decision
func (c *ChangeRequest) IsPending() bool {
	return c.Status == StPending
}

// ChangeListResponse is the body of GET /api/v1/pending-changes
type ChangeListResponse struct {
	Items    []ChangeRequest `json:"items"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}

// RejectRequest is the body of POST /api/v1/pending-changes/{id}/reject.
// A nil Reason is omitted from the JSON entirely.
type RejectRequest struct {
	Reason *string `json:"reason,omitempty"`
}

// SigninRequest is the body of POST /api/v1/auth/dummy-signin
type SigninRequest struct {
	User string `json:"user" validate:"required"`
	Role string `json:"role" validate:"omitempty,oneof=admin manager user"`
}

// SigninResponse carries the issued token
type SigninResponse struct {
	Token string `json:"token"`
	User  string `json:"user"`
	Role  string `json:"role"`
}

// TrialListResponse is the body of GET /api/v1/therapeutic/all-trials-with-data.
// Trials are kept raw; the review client never interprets their nested shape.
type TrialListResponse struct {
	Message     string            `json:"message"`
	TotalTrials int               `json:"total_trials"`
	Trials      []json.RawMessage `json:"trials"`
}

// DrugListResponse is the body of GET /api/v1/drugs/all-drugs-with-data
type DrugListResponse struct {
	Message    string            `json:"message"`
	TotalDrugs int               `json:"total_drugs"`
	Drugs      []json.RawMessage `json:"drugs"`
}

// ActivityEntry is one row of the activity log
type ActivityEntry struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Action    string          `json:"action"`
	TableName string          `json:"table_name"`
	RecordID  string          `json:"record_id,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// ActivityLogResponse is the body of GET /api/v1/activity-logs
type ActivityLogResponse struct {
	Logs []ActivityEntry `json:"logs"`
}

// Common response models

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status  string `json:"status"`
	AppName string `json:"app_name"`
}
