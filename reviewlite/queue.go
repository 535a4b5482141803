// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package reviewlite

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/Darsh1153/trialbyte-v3-sub002/reviewq"
)

// ListOptions selects what the review queue view shows. Zero values are not
// sent, leaving the choice to the server.
type ListOptions struct {
	Status   string
	Page     int
	PageSize int
}

func (o ListOptions) query() string {
	v := url.Values{}
	if o.Status != "" {
		v.Set("status", o.Status)
	}
	if o.Page > 0 {
		v.Set("page", strconv.Itoa(o.Page))
	}
	if o.PageSize > 0 {
		v.Set("pageSize", strconv.Itoa(o.PageSize))
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

// ChangeList is one page of the review queue.
type ChangeList = reviewq.ChangeListResponse

// ReviewQueue is a fire-and-refresh view over the pending-changes endpoints.
// It never updates its list locally; every action is followed by one re-fetch.
type ReviewQueue struct {
	c    *Client
	sess Session
	opts ListOptions

	mu   sync.Mutex
	last *ChangeList
}

// ReviewQueue returns a view for sess using opts.
func (c *Client) ReviewQueue(sess Session, opts ListOptions) *ReviewQueue {
	return &ReviewQueue{c: c, sess: sess, opts: opts}
}

// Options returns the list options of the view.
func (q *ReviewQueue) Options() ListOptions { return q.opts }

// Last returns the most recently fetched page, or nil.
func (q *ReviewQueue) Last() *ChangeList {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.last
}

// List fetches the current page.
func (q *ReviewQueue) List(ctx context.Context) (*ChangeList, error) {
	return q.Refresh(ctx)
}

// Refresh re-fetches the current page and caches it.
func (q *ReviewQueue) Refresh(ctx context.Context) (list *ChangeList, err error) {
	start := q.c.now()
	defer func() { q.c.recordEvent(ctx, OpList, "pending_changes", outcomeOf(err), start) }()

	var resp reviewq.ChangeListResponse
	if err := q.c.call(ctx, q.sess, http.MethodGet, reviewq.PathPendingChanges+q.opts.query(), nil, &resp, nil); err != nil {
		return nil, err
	}
	if resp.Items == nil {
		resp.Items = []reviewq.ChangeRequest{}
	}
	q.mu.Lock()
	q.last = &resp
	q.mu.Unlock()
	return &resp, nil
}

// ActionResult is the outcome of an approve or reject.
type ActionResult struct {
	Request *reviewq.ChangeRequest // state returned by the action
	List    *ChangeList            // the single re-fetch issued after the action
}

// Approve approves request id and re-fetches the list once.
func (q *ReviewQueue) Approve(ctx context.Context, id string) (*ActionResult, error) {
	return q.act(ctx, reviewq.ActionApprove, id, nil)
}

// Reject rejects request id. A nil reason is left out of the body entirely.
func (q *ReviewQueue) Reject(ctx context.Context, id string, reason *string) (*ActionResult, error) {
	return q.act(ctx, reviewq.ActionReject, id, reason)
}

// act collapses concurrent identical actions into one request carrying one
// idempotency key; joined callers share its result.
func (q *ReviewQueue) act(ctx context.Context, action, id string, reason *string) (res *ActionResult, err error) {
	if err := q.sess.check(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("change request id must be provided")
	}
	start := q.c.now()
	defer func() { q.c.recordEvent(ctx, OpReview, action, outcomeOf(err), start) }()

	flightKey := q.sess.UserID + "|" + action + "|" + id
	if reason != nil {
		flightKey += "|" + *reason
	}
	ch := q.c.reviewFlight.DoChan(flightKey, func() (any, error) {
		// Joined callers must not inherit the first caller's cancellation.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.c.config.MutationTimeout)
		defer cancel()

		var body any
		if action == reviewq.ActionReject {
			body = reviewq.RejectRequest{Reason: reason}
		}
		headers := map[string]string{reviewq.HeaderIdempotencyKey: q.c.newKey()}
		path := reviewq.PathPendingChanges + "/" + url.PathEscape(id) + "/" + action

		var cr reviewq.ChangeRequest
		if err := q.c.call(fctx, q.sess, http.MethodPost, path, body, &cr, headers); err != nil {
			return nil, err
		}
		list, err := q.Refresh(fctx)
		if err != nil {
			return &ActionResult{Request: &cr}, fmt.Errorf("%s succeeded but refreshing the queue failed: %w", action, err)
		}
		return &ActionResult{Request: &cr, List: list}, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Shared {
			q.c.logger.Debug("Joined in-flight review action", "action", action, "id", id)
		}
		res, _ = r.Val.(*ActionResult)
		return res, r.Err
	}
}
