package reviewlite

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Darsh1153/trialbyte-v3-sub002/reviewq"
)

func TestSubmitChange_SendsOneRequestWithSnapshot(t *testing.T) {
	proposed := map[string]any{"therapeutic_area": "Oncology", "phase": "II"}

	backend := &fakeBackend{}
	backend.handle = func(r *http.Request, body []byte) (*http.Response, error) {
		// The caller's value changing mid-flight must not leak into the request
		proposed["phase"] = "III"
		return jsonResponse(http.StatusOK, reviewq.ChangeRequest{
			ID: "cr-1", TargetTable: reviewq.TableTherapeuticTrial, TargetRecordID: "T1",
			ChangeType: reviewq.ChangeUpdate, SubmittedBy: "u-1", Status: reviewq.StPending,
		}), nil
	}
	c, _ := newTestClient(t, backend)

	ack, err := c.SubmitChange(context.Background(), testSession, reviewq.TableTherapeuticTrial, "T1", reviewq.ChangeUpdate, proposed)
	require.NoError(t, err)
	require.Equal(t, "cr-1", ack.Request.ID)
	require.True(t, ack.Request.IsPending())

	reqs := backend.requests()
	require.Len(t, reqs, 1)
	require.Equal(t, http.MethodPost, reqs[0].Method)
	require.Equal(t, reviewq.PathSubmitChange, reqs[0].Path)
	require.Equal(t, "Bearer tok", reqs[0].Header.Get("Authorization"))
	require.JSONEq(t, `{
		"target_table": "therapeutic_trial",
		"target_record_id": "T1",
		"proposed_data": {"therapeutic_area": "Oncology", "phase": "II"},
		"change_type": "UPDATE",
		"submitted_by": "u-1"
	}`, string(reqs[0].Body))

	fallbacks, err := c.Fallbacks(context.Background())
	require.NoError(t, err)
	require.Empty(t, fallbacks)
}

func TestSubmitChange_RequiresSession(t *testing.T) {
	backend := &fakeBackend{handle: func(*http.Request, []byte) (*http.Response, error) {
		t.Fatal("no request expected")
		return nil, nil
	}}
	c, _ := newTestClient(t, backend)

	_, err := c.SubmitChange(context.Background(), Session{}, reviewq.TableDrugOverview, "D1", reviewq.ChangeDelete, "duplicate")
	require.ErrorIs(t, err, ErrNoSession)
	require.Empty(t, backend.requests())
}

func TestSubmitChange_ValidatesBeforeSending(t *testing.T) {
	backend := &fakeBackend{handle: func(*http.Request, []byte) (*http.Response, error) {
		t.Fatal("no request expected")
		return nil, nil
	}}
	c, _ := newTestClient(t, backend)

	_, err := c.SubmitChange(context.Background(), testSession, reviewq.TableDrugOverview, "", reviewq.ChangeUpdate, map[string]any{"x": 1})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "target_record_id")

	_, err = c.SubmitChange(context.Background(), testSession, reviewq.TableDrugOverview, "D1", reviewq.ChangeType("MERGE"), map[string]any{"x": 1})
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "change_type")

	// CREATE needs no target id
	backend.handle = func(*http.Request, []byte) (*http.Response, error) {
		return jsonResponse(http.StatusOK, reviewq.ChangeRequest{ID: "cr-2", Status: reviewq.StPending}), nil
	}
	ack, err := c.SubmitChange(context.Background(), testSession, reviewq.TableDrugOverview, "", reviewq.ChangeCreate, map[string]any{"drug_name": "X"})
	require.NoError(t, err)
	require.Equal(t, "cr-2", ack.Request.ID)
}

func TestSubmitChange_ErrorsAreSurfacedWithoutRetry(t *testing.T) {
	cases := []struct {
		name    string
		resp    func() (*http.Response, error)
		message string
	}{
		{
			name: "structured",
			resp: func() (*http.Response, error) {
				return jsonResponse(http.StatusBadRequest, reviewq.ErrorResponse{Error: reviewq.CodeValidationFailed, Message: "target table not allowed"}), nil
			},
			message: "target table not allowed",
		},
		{
			name: "code only",
			resp: func() (*http.Response, error) {
				return jsonResponse(http.StatusForbidden, `{"error":"forbidden"}`), nil
			},
			message: "forbidden",
		},
		{
			name: "unstructured",
			resp: func() (*http.Response, error) {
				return jsonResponse(http.StatusBadGateway, "<html>bad gateway</html>"), nil
			},
			message: "Request failed (502)",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			backend := &fakeBackend{handle: func(*http.Request, []byte) (*http.Response, error) { return tc.resp() }}
			c, _ := newTestClient(t, backend)

			_, err := c.SubmitChange(context.Background(), testSession, reviewq.TableDrugOverview, "D1", reviewq.ChangeDelete, "obsolete")
			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			require.Equal(t, tc.message, apiErr.Error())
			require.Len(t, backend.requests(), 1)
		})
	}
}

func TestSubmitChange_TransportFailure(t *testing.T) {
	backend := &fakeBackend{handle: func(*http.Request, []byte) (*http.Response, error) {
		return nil, errors.New("connection refused")
	}}
	c, _ := newTestClient(t, backend)
	events := collectEvents(c)

	_, err := c.SubmitChange(context.Background(), testSession, reviewq.TableDrugOverview, "D1", reviewq.ChangeUpdate, json.RawMessage(`{"a":1}`))
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, TransportNetwork, terr.Kind)
	require.False(t, terr.Timeout())
	require.Len(t, backend.requests(), 1)

	require.Len(t, *events, 1)
	require.Equal(t, Event{Op: OpSubmit, Entity: reviewq.TableDrugOverview, Outcome: OutcomeFailed}, (*events)[0])
}
