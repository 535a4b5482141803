package reviewlite

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Darsh1153/trialbyte-v3-sub002/reviewq"
)

func seedFallback(t *testing.T, c *Client, rec FallbackRecord) {
	t.Helper()
	if rec.SavedAt.IsZero() {
		rec.SavedAt = fixedNow
	}
	if rec.UserID == "" {
		rec.UserID = testSession.UserID
	}
	require.NoError(t, c.putFallback(context.Background(), &rec))
}

func listingBackend(trials, drugs []string, mutate func(r *http.Request) (*http.Response, error)) *fakeBackend {
	raw := func(items []string) []json.RawMessage {
		out := make([]json.RawMessage, 0, len(items))
		for _, s := range items {
			out = append(out, json.RawMessage(s))
		}
		return out
	}
	backend := &fakeBackend{}
	backend.handle = func(r *http.Request, body []byte) (*http.Response, error) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == reviewq.PathTrials:
			return jsonResponse(http.StatusOK, reviewq.TrialListResponse{Trials: raw(trials), TotalTrials: len(trials)}), nil
		case r.Method == http.MethodGet && r.URL.Path == reviewq.PathDrugs:
			return jsonResponse(http.StatusOK, reviewq.DrugListResponse{Drugs: raw(drugs), TotalDrugs: len(drugs)}), nil
		}
		return mutate(r)
	}
	return backend
}

func noMutation(t *testing.T) func(r *http.Request) (*http.Response, error) {
	return func(r *http.Request) (*http.Response, error) {
		t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		return jsonResponse(http.StatusInternalServerError, `{}`), nil
	}
}

func TestReconcileOnce_NothingPending(t *testing.T) {
	backend := listingBackend(nil, nil, noMutation(t))
	c, _ := newTestClient(t, backend)

	report, err := c.ReconcileOnce(context.Background(), testSession)
	require.NoError(t, err)
	require.Zero(t, report.Pending)
	require.Empty(t, backend.requests())
}

func TestReconcileOnce_SkipsWhenUnreachable(t *testing.T) {
	backend := &fakeBackend{handle: func(*http.Request, []byte) (*http.Response, error) {
		return nil, errors.New("connection refused")
	}}
	c, _ := newTestClient(t, backend)
	seedFallback(t, c, FallbackRecord{EntityType: EntityTrialUpdate, RecordID: "T1", Payload: json.RawMessage(`{"phase":"III"}`)})

	report, err := c.ReconcileOnce(context.Background(), testSession)
	require.NoError(t, err)
	require.True(t, report.Skipped)
	require.Error(t, report.SkipReason)
	require.Empty(t, report.Items)

	_, ok, err := c.Fallback(context.Background(), KindTrial, "T1")
	require.NoError(t, err)
	require.True(t, ok, "record kept")
}

func TestReconcileOnce_DropsAlreadyAppliedChange(t *testing.T) {
	// The timed-out PATCH landed after all
	backend := listingBackend(
		[]string{`{"trial_id":"T1","overview":{"id":"T1","phase":"III","therapeutic_area":"Oncology"}}`},
		nil, noMutation(t))
	c, _ := newTestClient(t, backend)
	seedFallback(t, c, FallbackRecord{EntityType: EntityTrialUpdate, RecordID: "T1", Payload: json.RawMessage(`{"phase":"III"}`)})

	report, err := c.ReconcileOnce(context.Background(), testSession)
	require.NoError(t, err)
	require.Equal(t, 1, report.AlreadyApplied)
	require.Zero(t, report.Replayed)

	_, ok, err := c.Fallback(context.Background(), KindTrial, "T1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReconcileOnce_ReplaysAndKeepsFailures(t *testing.T) {
	backend := listingBackend(
		[]string{
			`{"id":"T1","phase":"II"}`,
			`{"id":"T2","phase":"I"}`,
		}, nil,
		func(r *http.Request) (*http.Response, error) {
			if r.URL.Path == reviewq.PathTrialOverview+"/T1" {
				return jsonResponse(http.StatusOK, `{"id":"T1","phase":"III"}`), nil
			}
			return jsonResponse(http.StatusInternalServerError, reviewq.ErrorResponse{Error: reviewq.CodeInternalError, Message: "still broken"}), nil
		})
	c, _ := newTestClient(t, backend)
	events := collectEvents(c)
	seedFallback(t, c, FallbackRecord{EntityType: EntityTrialUpdate, RecordID: "T1", Payload: json.RawMessage(`{"phase":"III"}`)})
	seedFallback(t, c, FallbackRecord{EntityType: EntityTrialUpdate, RecordID: "T2", Payload: json.RawMessage(`{"phase":"II"}`), Attempts: 2})

	report, err := c.ReconcileOnce(context.Background(), testSession)
	require.NoError(t, err)
	require.Equal(t, 2, report.Pending)
	require.Equal(t, 1, report.Replayed)
	require.Equal(t, 1, report.Failed)

	_, ok, err := c.Fallback(context.Background(), KindTrial, "T1")
	require.NoError(t, err)
	require.False(t, ok)

	rec, ok, err := c.Fallback(context.Background(), KindTrial, "T2")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 3, rec.Attempts)
	require.Equal(t, "still broken", rec.Cause)
	require.Equal(t, StatusPendingAPIUpdate, rec.Status)

	require.Equal(t, 1, backend.count(http.MethodPatch, reviewq.PathTrialOverview+"/T1"))
	require.Equal(t, 1, backend.count(http.MethodPatch, reviewq.PathTrialOverview+"/T2"))
	require.Len(t, *events, 2)
}

func TestReconcileOnce_FindsExistingDrugVersion(t *testing.T) {
	backend := listingBackend(nil,
		[]string{
			`{"overview":{"id":"D1","drug_name":"Examplimab","status":"active"}}`,
			`{"overview":{"id":"D9","drug_name":"Examplimab","status":"withdrawn","original_drug_id":"D1","is_updated_version":true}}`,
		}, noMutation(t))
	c, _ := newTestClient(t, backend)
	seedFallback(t, c, FallbackRecord{
		EntityType: EntityDrugUpdate, RecordID: "D1", Mode: DrugUpdateNewVersion,
		Payload:  json.RawMessage(`{"status":"withdrawn"}`),
		Snapshot: json.RawMessage(`{"id":"D1","drug_name":"Examplimab","status":"active"}`),
	})

	report, err := c.ReconcileOnce(context.Background(), testSession)
	require.NoError(t, err)
	require.Equal(t, 1, report.AlreadyApplied)
	require.Equal(t, "D9", report.Items[0].NewID)

	m, ok, err := c.DrugMapping(context.Background(), "D1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "D9", m.NewID)
}

func TestReconcileOnce_ComparesNewestDrugVersion(t *testing.T) {
	cases := []struct {
		name      string
		drugs     []string
		mapping   *DrugVersionMapping
		replayed  int
		applied   int
		mappingID string
	}{
		{
			name: "older version matches",
			drugs: []string{
				`{"id":"D1","drug_name":"X"}`,
				`{"id":"D2","drug_name":"Y","original_drug_id":"D1"}`,
				`{"id":"D3","drug_name":"Z","original_drug_id":"D1"}`,
			},
			replayed:  1,
			mappingID: "D7",
		},
		{
			name: "newest version known before the save",
			drugs: []string{
				`{"id":"D1","drug_name":"X"}`,
				`{"id":"D2","drug_name":"Z","original_drug_id":"D1"}`,
				`{"id":"D3","drug_name":"Y","original_drug_id":"D1"}`,
			},
			mapping:   &DrugVersionMapping{OriginalID: "D1", NewID: "D3", CreatedAt: fixedNow.Add(-time.Hour)},
			replayed:  1,
			mappingID: "D7",
		},
		{
			name: "newest version mapped after the save",
			drugs: []string{
				`{"id":"D1","drug_name":"X"}`,
				`{"id":"D2","drug_name":"Z","original_drug_id":"D1"}`,
				`{"id":"D3","drug_name":"Y","original_drug_id":"D1"}`,
			},
			mapping:   &DrugVersionMapping{OriginalID: "D1", NewID: "D3", CreatedAt: fixedNow.Add(time.Hour)},
			applied:   1,
			mappingID: "D3",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			backend := listingBackend(nil, tc.drugs, func(r *http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusCreated, `{"id":"D7"}`), nil
			})
			c, _ := newTestClient(t, backend)
			if tc.mapping != nil {
				require.NoError(t, c.Store.Put(context.Background(), EntityDrugMapping, "D1", tc.mapping))
			}
			seedFallback(t, c, FallbackRecord{
				EntityType: EntityDrugUpdate, RecordID: "D1", Mode: DrugUpdateNewVersion,
				Payload:  json.RawMessage(`{"drug_name":"Y"}`),
				Snapshot: json.RawMessage(`{"id":"D1","drug_name":"X"}`),
			})

			report, err := c.ReconcileOnce(context.Background(), testSession)
			require.NoError(t, err)
			require.Equal(t, tc.replayed, report.Replayed)
			require.Equal(t, tc.applied, report.AlreadyApplied)
			require.Equal(t, tc.replayed, backend.count(http.MethodPost, reviewq.PathDrugOverview))

			_, ok, err := c.Fallback(context.Background(), KindDrug, "D1")
			require.NoError(t, err)
			require.False(t, ok)

			m, ok, err := c.DrugMapping(context.Background(), "D1")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, tc.mappingID, m.NewID)
		})
	}
}

func TestReconcileOnce_ReplaysDrugAsNewVersion(t *testing.T) {
	backend := listingBackend(nil,
		[]string{`{"id":"D1","drug_name":"Examplimab","status":"active"}`},
		func(r *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusCreated, `{"id":"D5"}`), nil
		})
	c, _ := newTestClient(t, backend)
	seedFallback(t, c, FallbackRecord{
		EntityType: EntityDrugUpdate, RecordID: "D1", Mode: DrugUpdateNewVersion,
		Payload:  json.RawMessage(`{"status":"withdrawn"}`),
		Snapshot: json.RawMessage(`{"id":"D1","drug_name":"Examplimab","status":"active"}`),
	})

	report, err := c.ReconcileOnce(context.Background(), testSession)
	require.NoError(t, err)
	require.Equal(t, 1, report.Replayed)
	require.Equal(t, 1, backend.count(http.MethodPost, reviewq.PathDrugOverview))

	m, ok, err := c.DrugMapping(context.Background(), "D1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "D5", m.NewID)
}

func TestAlreadyApplied(t *testing.T) {
	applied, err := alreadyApplied(json.RawMessage(`{"a":1,"b":{"c":2}}`), json.RawMessage(`{"b":{"c":2}}`))
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = alreadyApplied(json.RawMessage(`{"a":1}`), json.RawMessage(`{"a":2}`))
	require.NoError(t, err)
	require.False(t, applied)

	// null removes a field, so it is applied only once the field is gone
	applied, err = alreadyApplied(json.RawMessage(`{"a":1}`), json.RawMessage(`{"b":null}`))
	require.NoError(t, err)
	require.True(t, applied)
}

func TestStartRequiresOptIn(t *testing.T) {
	c, _ := newTestClient(t, listingBackend(nil, nil, noMutation(t)))
	require.ErrorIs(t, c.Start(context.Background(), testSession), ErrReconcilerDisabled)
}

func TestStartStop(t *testing.T) {
	backend := listingBackend([]string{`{"id":"T1","phase":"II"}`}, nil, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{}`), nil
	})
	c, _ := newTestClient(t, backend, func(cfg *Config) {
		cfg.AutoReconcile = true
		cfg.BackoffMin = 10 * time.Millisecond
		cfg.BackoffMax = 40 * time.Millisecond
	})
	seedFallback(t, c, FallbackRecord{EntityType: EntityTrialUpdate, RecordID: "T1", Payload: json.RawMessage(`{"phase":"III"}`)})

	require.ErrorIs(t, c.Start(context.Background(), Session{}), ErrNoSession)
	require.NoError(t, c.Start(context.Background(), testSession))
	require.ErrorIs(t, c.Start(context.Background(), testSession), ErrReconcilerRunning)

	require.Eventually(t, func() bool {
		fallbacks, err := c.Fallbacks(context.Background())
		return err == nil && len(fallbacks) == 0
	}, 2*time.Second, 10*time.Millisecond)

	c.Stop()
	c.Stop()
	// Stopped loops can be started again
	require.NoError(t, c.Start(context.Background(), testSession))
	c.Stop()
}

func TestStartAgainAfterParentContextEnds(t *testing.T) {
	backend := listingBackend(nil, nil, noMutation(t))
	c, _ := newTestClient(t, backend, func(cfg *Config) {
		cfg.AutoReconcile = true
		cfg.BackoffMin = 10 * time.Millisecond
		cfg.BackoffMax = 40 * time.Millisecond
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Start(ctx, testSession))
	cancel()

	require.Eventually(t, func() bool {
		return c.Start(context.Background(), testSession) == nil
	}, 2*time.Second, 10*time.Millisecond)
	require.ErrorIs(t, c.Start(context.Background(), testSession), ErrReconcilerRunning)
	c.Stop()
}
