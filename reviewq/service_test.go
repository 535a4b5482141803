package reviewq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, store Store) *ReviewService {
	t.Helper()
	var n int
	var mu sync.Mutex
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, err := NewReviewService(store, nil, nil)
	require.NoError(t, err)
	svc.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
	svc.newID = func() string {
		mu.Lock()
		defer mu.Unlock()
		return fmt.Sprintf("cr-%03d", n+1)
	}
	return svc
}

func drugUpdate(user string) *SubmitChangeRequest {
	return &SubmitChangeRequest{
		TargetTable:    TableDrugOverview,
		TargetRecordID: "D1",
		ProposedData:   json.RawMessage(`{"drug_name":"X"}`),
		ChangeType:     ChangeUpdate,
		SubmittedBy:    user,
	}
}

func TestReviewService_SubmitValidation(t *testing.T) {
	svc := newTestService(t, NewMemoryStore())
	ctx := context.Background()

	req := drugUpdate("U1")
	req.TargetRecordID = ""
	_, err := svc.Submit(ctx, "U1", req)
	var fe FieldErrors
	require.ErrorAs(t, err, &fe)
	require.Equal(t, "required_unless", fe["target_record_id"])

	// CREATE may omit the target id
	req.ChangeType = ChangeCreate
	cr, err := svc.Submit(ctx, "U1", req)
	require.NoError(t, err)
	require.Equal(t, StPending, cr.Status)

	req = drugUpdate("U1")
	req.ChangeType = "PATCH"
	_, err = svc.Submit(ctx, "U1", req)
	require.ErrorAs(t, err, &fe)
	require.Equal(t, "oneof", fe["change_type"])

	req = drugUpdate("U1")
	req.ProposedData = json.RawMessage(`{not json`)
	_, err = svc.Submit(ctx, "U1", req)
	require.ErrorAs(t, err, &fe)
	require.Equal(t, "json", fe["proposed_data"])
}

func TestReviewService_SubmitRequiresMatchingUser(t *testing.T) {
	svc := newTestService(t, NewMemoryStore())
	_, err := svc.Submit(context.Background(), "U2", drugUpdate("U1"))
	require.ErrorIs(t, err, ErrForbidden)
}

func TestReviewService_ApproveFlow(t *testing.T) {
	svc := newTestService(t, NewMemoryStore())
	ctx := context.Background()

	cr, err := svc.Submit(ctx, "U1", drugUpdate("U1"))
	require.NoError(t, err)

	list, err := svc.List(ctx, ListQuery{Status: StPending})
	require.NoError(t, err)
	require.Equal(t, 1, list.Total)

	_, err = svc.Review(ctx, RoleUser, ReviewDecision{RequestID: cr.ID, Action: ActionApprove, Reviewer: "U1"})
	require.ErrorIs(t, err, ErrForbidden)

	approved, err := svc.Review(ctx, RoleAdmin, ReviewDecision{RequestID: cr.ID, Action: ActionApprove, Reviewer: "A1", IdempotencyKey: "k1"})
	require.NoError(t, err)
	require.Equal(t, StApproved, approved.Status)
	require.Equal(t, "A1", approved.ReviewedBy)
	require.NotNil(t, approved.ReviewedAt)

	// Same key replays the stored outcome
	again, err := svc.Review(ctx, RoleAdmin, ReviewDecision{RequestID: cr.ID, Action: ActionApprove, Reviewer: "A1", IdempotencyKey: "k1"})
	require.NoError(t, err)
	require.Equal(t, StApproved, again.Status)

	// A different action on a decided request conflicts
	_, err = svc.Review(ctx, RoleAdmin, ReviewDecision{RequestID: cr.ID, Action: ActionReject, Reviewer: "A1", IdempotencyKey: "k2"})
	require.ErrorIs(t, err, ErrConflict)

	list, err = svc.List(ctx, ListQuery{Status: StPending})
	require.NoError(t, err)
	require.Equal(t, 0, list.Total)
	require.Empty(t, list.Items)
}

func TestReviewService_RejectKeepsReason(t *testing.T) {
	svc := newTestService(t, NewMemoryStore())
	ctx := context.Background()

	withReason, err := svc.Submit(ctx, "U1", drugUpdate("U1"))
	require.NoError(t, err)
	without, err := svc.Submit(ctx, "U1", drugUpdate("U1"))
	require.NoError(t, err)

	reason := "duplicate entry"
	got, err := svc.Review(ctx, RoleAdmin, ReviewDecision{RequestID: withReason.ID, Action: ActionReject, Reviewer: "A1", Reason: &reason})
	require.NoError(t, err)
	require.Equal(t, StRejected, got.Status)
	require.NotNil(t, got.Reason)
	require.Equal(t, reason, *got.Reason)

	got, err = svc.Review(ctx, RoleAdmin, ReviewDecision{RequestID: without.ID, Action: ActionReject, Reviewer: "A1"})
	require.NoError(t, err)
	require.Nil(t, got.Reason)
}

func TestReviewService_ListPagination(t *testing.T) {
	svc := newTestService(t, NewMemoryStore())
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := svc.Submit(ctx, "U1", drugUpdate("U1"))
		require.NoError(t, err)
	}

	first, err := svc.List(ctx, ListQuery{Page: 1, PageSize: 2})
	require.NoError(t, err)
	require.Equal(t, 5, first.Total)
	require.Len(t, first.Items, 2)

	last, err := svc.List(ctx, ListQuery{Page: 3, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, last.Items, 1)
	require.True(t, first.Items[0].CreatedAt.Before(last.Items[0].CreatedAt))

	again, err := svc.List(ctx, ListQuery{Page: 1, PageSize: 2})
	require.NoError(t, err)
	require.Equal(t, first, again)

	capped, err := svc.List(ctx, ListQuery{PageSize: MaxPageSize + 50})
	require.NoError(t, err)
	require.Equal(t, MaxPageSize, capped.PageSize)

	beyond, err := svc.List(ctx, ListQuery{Page: math.MaxInt, PageSize: 50})
	require.NoError(t, err)
	require.Equal(t, 5, beyond.Total)
	require.Empty(t, beyond.Items)

	_, err = svc.List(ctx, ListQuery{Status: "archived"})
	var fe FieldErrors
	require.True(t, errors.As(err, &fe))
}

func TestReviewService_NotFound(t *testing.T) {
	svc := newTestService(t, NewMemoryStore())
	_, err := svc.Review(context.Background(), RoleAdmin, ReviewDecision{RequestID: "missing", Action: ActionApprove})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReviewService_StageMetrics(t *testing.T) {
	var mu sync.Mutex
	var seen []StageTiming
	cfg := DefaultServiceConfig()
	cfg.StageMetrics = StageMetricsRecorderFunc(func(_ context.Context, timing StageTiming) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, timing)
	})
	svc, err := NewReviewService(NewMemoryStore(), cfg, nil)
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), "U1", drugUpdate("U1"))
	require.NoError(t, err)

	stages := map[string]bool{}
	for _, s := range seen {
		require.Equal(t, MetricsOpSubmit, s.Op)
		stages[s.Stage] = true
	}
	require.True(t, stages[MetricsStageValidate])
	require.True(t, stages[MetricsStageStore])
	require.True(t, stages[MetricsStageTotal])
}

func TestReviewService_Closed(t *testing.T) {
	svc := newTestService(t, NewMemoryStore())
	require.NoError(t, svc.Close())
	_, err := svc.Submit(context.Background(), "U1", drugUpdate("U1"))
	require.Error(t, err)
}

func TestListQueryOffset(t *testing.T) {
	require.Zero(t, ListQuery{}.offset())
	require.Zero(t, ListQuery{Page: 1, PageSize: 20}.offset())
	require.Equal(t, 40, ListQuery{Page: 3, PageSize: 20}.offset())
	require.Equal(t, math.MaxInt, ListQuery{Page: math.MaxInt, PageSize: 50}.offset())

	items, total, err := NewMemoryStore().List(context.Background(), ListQuery{Page: math.MaxInt, PageSize: math.MaxInt})
	require.NoError(t, err)
	require.Zero(t, total)
	require.Empty(t, items)
}
