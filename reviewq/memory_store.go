// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package reviewq

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type idemEntry struct {
	requestID string
	action    string
}

// MemoryStore is an in-process Store for tests and demos.
type MemoryStore struct {
	mu    sync.Mutex
	byID  map[string]*ChangeRequest
	order []string
	idem  map[string]idemEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID: make(map[string]*ChangeRequest),
		idem: make(map[string]idemEntry),
	}
}

func cloneRequest(cr *ChangeRequest) *ChangeRequest {
	cp := *cr
	cp.ProposedData = append([]byte(nil), cr.ProposedData...)
	if cr.Reason != nil {
		r := *cr.Reason
		cp.Reason = &r
	}
	if cr.ReviewedAt != nil {
		t := *cr.ReviewedAt
		cp.ReviewedAt = &t
	}
	return &cp
}

func (m *MemoryStore) Insert(_ context.Context, cr *ChangeRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[cr.ID]; exists {
		return fmt.Errorf("duplicate change request id %s", cr.ID)
	}
	m.byID[cr.ID] = cloneRequest(cr)
	m.order = append(m.order, cr.ID)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*ChangeRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cr, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRequest(cr), nil
}

func (m *MemoryStore) List(_ context.Context, q ListQuery) ([]ChangeRequest, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*ChangeRequest
	for _, id := range m.order {
		cr := m.byID[id]
		if q.Status == "" || cr.Status == q.Status {
			matched = append(matched, cr)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	start := q.offset()
	if start > total {
		start = total
	}
	end := total
	if q.PageSize < total-start {
		end = start + q.PageSize
	}
	items := make([]ChangeRequest, 0, end-start)
	for _, cr := range matched[start:end] {
		items = append(items, *cloneRequest(cr))
	}
	return items, total, nil
}

func (m *MemoryStore) Review(_ context.Context, d ReviewDecision) (*ChangeRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cr, ok := m.byID[d.RequestID]
	if !ok {
		return nil, ErrNotFound
	}
	if d.IdempotencyKey != "" {
		if prev, seen := m.idem[d.IdempotencyKey]; seen {
			if prev.requestID == d.RequestID && prev.action == d.Action {
				return cloneRequest(cr), nil
			}
			return nil, fmt.Errorf("%w: idempotency key reused for a different action", ErrConflict)
		}
	}
	if !cr.IsPending() {
		return nil, fmt.Errorf("%w: %s is %s", ErrConflict, cr.ID, cr.Status)
	}

	at := d.At.UTC()
	cr.Status = d.status()
	cr.ReviewedBy = d.Reviewer
	cr.ReviewedAt = &at
	if d.Reason != nil {
		r := *d.Reason
		cr.Reason = &r
	}
	if d.IdempotencyKey != "" {
		m.idem[d.IdempotencyKey] = idemEntry{requestID: d.RequestID, action: d.Action}
	}
	return cloneRequest(cr), nil
}
