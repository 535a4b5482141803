// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package reviewlite

import (
	"context"
	"net/http"

	"github.com/Darsh1153/trialbyte-v3-sub002/reviewq"
)

// ActivityFilter narrows the activity log. Empty fields match everything.
type ActivityFilter struct {
	UserID   string
	Action   string
	Table    string
	Page     int // 1-based, defaults to 1
	PageSize int // defaults to reviewq.DefaultPageSize
}

func (f ActivityFilter) match(e reviewq.ActivityEntry) bool {
	return (f.UserID == "" || e.UserID == f.UserID) &&
		(f.Action == "" || e.Action == f.Action) &&
		(f.Table == "" || e.TableName == f.Table)
}

// Page is one slice of a client-side paginated result.
type Page[T any] struct {
	Items      []T `json:"items"`
	Total      int `json:"total"`
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalPages int `json:"total_pages"`
}

// Paginate slices items into the requested 1-based page. Pages past the end
// are empty rather than an error.
func Paginate[T any](items []T, page, pageSize int) Page[T] {
	if pageSize <= 0 {
		pageSize = reviewq.DefaultPageSize
	}
	if page < 1 {
		page = 1
	}
	total := len(items)
	p := Page[T]{
		Items:      []T{},
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: total / pageSize,
	}
	if total%pageSize != 0 {
		p.TotalPages++
	}
	if page > p.TotalPages {
		return p
	}
	start := (page - 1) * pageSize
	end := min(start+pageSize, total)
	p.Items = items[start:end]
	return p
}

// ListActivity fetches the whole activity log and filters and pages it locally.
func (c *Client) ListActivity(ctx context.Context, sess Session, filter ActivityFilter) (*Page[reviewq.ActivityEntry], error) {
	var resp reviewq.ActivityLogResponse
	if err := c.call(ctx, sess, http.MethodGet, reviewq.PathActivityLogs, nil, &resp, nil); err != nil {
		return nil, err
	}
	c.logger.Warn("Fetched full activity log for client-side pagination", "entries", len(resp.Logs))

	matched := make([]reviewq.ActivityEntry, 0, len(resp.Logs))
	for _, e := range resp.Logs {
		if filter.match(e) {
			matched = append(matched, e)
		}
	}
	p := Paginate(matched, filter.Page, filter.PageSize)
	return &p, nil
}
