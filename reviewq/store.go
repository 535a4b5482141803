// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package reviewq

import (
	"context"
	"errors"
	"math"
	"time"
)

var (
	ErrNotFound  = errors.New("change request not found")
	ErrConflict  = errors.New("change request is no longer pending")
	ErrForbidden = errors.New("action not permitted for role")
)

// ListQuery selects one page of change requests. Page is 1-based.
type ListQuery struct {
	Status   string
	Page     int
	PageSize int
}

// offset saturates at math.MaxInt instead of wrapping for huge pages.
func (q ListQuery) offset() int {
	if q.Page < 1 || q.PageSize < 1 {
		return 0
	}
	if q.Page-1 > math.MaxInt/q.PageSize {
		return math.MaxInt
	}
	return (q.Page - 1) * q.PageSize
}

// ReviewDecision is an approve or reject applied to one request.
type ReviewDecision struct {
	RequestID      string
	Action         string // ActionApprove or ActionReject
	Reviewer       string
	Reason         *string
	IdempotencyKey string // optional; a repeated key returns the stored outcome
	At             time.Time
}

func (d ReviewDecision) status() string {
	if d.Action == ActionApprove {
		return StApproved
	}
	return StRejected
}

// Store persists change requests.
//
// Review must transition only pending requests. When IdempotencyKey was seen
// before for the same request and action, Review returns the current record
// without changing it; any other review of a non-pending request is ErrConflict.
type Store interface {
	Insert(ctx context.Context, cr *ChangeRequest) error
	Get(ctx context.Context, id string) (*ChangeRequest, error)
	List(ctx context.Context, q ListQuery) ([]ChangeRequest, int, error)
	Review(ctx context.Context, d ReviewDecision) (*ChangeRequest, error)
}
