package reviewq

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testServer struct {
	*httptest.Server
	jwt *JWTAuth
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := NewReviewService(NewMemoryStore(), nil, logger)
	require.NoError(t, err)
	jwtAuth := NewJWTAuth("handler-test-secret")

	mux := http.NewServeMux()
	NewHTTPReviewHandlers(svc, jwtAuth, logger).Register(mux)
	mux.HandleFunc("POST "+PathSignin, SigninHandler(jwtAuth, time.Hour, logger))
	mux.HandleFunc("GET /health", HealthHandler("test"))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, jwt: jwtAuth}
}

func (s *testServer) token(t *testing.T, user, role string) string {
	t.Helper()
	tok, err := s.jwt.GenerateToken(user, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, token string, body any, headers ...string) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.URL+path, rdr)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decodeError(t *testing.T, data []byte) ErrorResponse {
	t.Helper()
	var er ErrorResponse
	require.NoError(t, json.Unmarshal(data, &er))
	return er
}

func TestHandlers_SubmitListApprove(t *testing.T) {
	s := newTestServer(t)
	user := s.token(t, "U1", RoleUser)
	admin := s.token(t, "A1", RoleAdmin)

	resp, data := s.do(t, http.MethodPost, PathSubmitChange, user, drugUpdate("U1"))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var cr ChangeRequest
	require.NoError(t, json.Unmarshal(data, &cr))
	require.NotEmpty(t, cr.ID)
	require.Equal(t, StPending, cr.Status)
	require.JSONEq(t, `{"drug_name":"X"}`, string(cr.ProposedData))

	resp, data = s.do(t, http.MethodGet, PathPendingChanges+"?status=pending&page=1&pageSize=10", user, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list ChangeListResponse
	require.NoError(t, json.Unmarshal(data, &list))
	require.Equal(t, 1, list.Total)
	require.Equal(t, 10, list.PageSize)

	// Non-admins cannot review
	resp, data = s.do(t, http.MethodPost, PathPendingChanges+"/"+cr.ID+"/approve", user, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, CodeForbidden, decodeError(t, data).Error)

	resp, _ = s.do(t, http.MethodPost, PathPendingChanges+"/"+cr.ID+"/approve", admin, nil, HeaderIdempotencyKey, "key-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Duplicate click with the same key is harmless
	resp, data = s.do(t, http.MethodPost, PathPendingChanges+"/"+cr.ID+"/approve", admin, nil, HeaderIdempotencyKey, "key-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(data, &cr))
	require.Equal(t, StApproved, cr.Status)

	resp, data = s.do(t, http.MethodPost, PathPendingChanges+"/"+cr.ID+"/reject", admin, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, CodeConflict, decodeError(t, data).Error)

	resp, data = s.do(t, http.MethodGet, PathPendingChanges+"?status=pending", user, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(data, &list))
	require.Equal(t, 0, list.Total)
}

func TestHandlers_RejectBodyShapes(t *testing.T) {
	s := newTestServer(t)
	user := s.token(t, "U1", RoleUser)
	admin := s.token(t, "A1", RoleAdmin)

	submit := func() string {
		resp, data := s.do(t, http.MethodPost, PathSubmitChange, user, drugUpdate("U1"))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var cr ChangeRequest
		require.NoError(t, json.Unmarshal(data, &cr))
		return cr.ID
	}

	var cr ChangeRequest
	resp, data := s.do(t, http.MethodPost, PathPendingChanges+"/"+submit()+"/reject", admin, `{"reason":"duplicate entry"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(data, &cr))
	require.Equal(t, "duplicate entry", *cr.Reason)

	for _, body := range []any{`{}`, nil} {
		resp, data = s.do(t, http.MethodPost, PathPendingChanges+"/"+submit()+"/reject", admin, body)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
		cr = ChangeRequest{}
		require.NoError(t, json.Unmarshal(data, &cr))
		require.Nil(t, cr.Reason)
		require.Equal(t, StRejected, cr.Status)
	}

	resp, _ = s.do(t, http.MethodPost, PathPendingChanges+"/"+submit()+"/reject", admin, `{bad`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandlers_Errors(t *testing.T) {
	s := newTestServer(t)
	user := s.token(t, "U1", RoleUser)

	resp, data := s.do(t, http.MethodPost, PathSubmitChange, "", drugUpdate("U1"))
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, CodeAuthenticationFailed, decodeError(t, data).Error)

	resp, data = s.do(t, http.MethodPost, PathSubmitChange, user, `not json`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, CodeInvalidRequest, decodeError(t, data).Error)

	bad := drugUpdate("U1")
	bad.ChangeType = "MERGE"
	resp, data = s.do(t, http.MethodPost, PathSubmitChange, user, bad)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	er := decodeError(t, data)
	require.Equal(t, CodeValidationFailed, er.Error)
	require.Contains(t, er.Message, "change_type")

	resp, data = s.do(t, http.MethodPost, PathSubmitChange, user, drugUpdate("someone-else"))
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, CodeForbidden, decodeError(t, data).Error)

	resp, _ = s.do(t, http.MethodGet, PathPendingChanges+"?page=zero", user, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, data = s.do(t, http.MethodGet, PathPendingChanges+"?page=9223372036854775807", user, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var list ChangeListResponse
	require.NoError(t, json.Unmarshal(data, &list))
	require.Zero(t, list.Total)
	require.Empty(t, list.Items)

	admin := s.token(t, "A1", RoleAdmin)
	resp, data = s.do(t, http.MethodPost, PathPendingChanges+"/nope/approve", admin, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, CodeNotFound, decodeError(t, data).Error)
}

func TestHandlers_SigninAndHealth(t *testing.T) {
	s := newTestServer(t)

	resp, data := s.do(t, http.MethodPost, PathSignin, "", SigninRequest{User: "A1", Role: RoleAdmin})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sr SigninResponse
	require.NoError(t, json.Unmarshal(data, &sr))
	claims, err := s.jwt.ValidateToken(sr.Token)
	require.NoError(t, err)
	require.Equal(t, "A1", claims.Subject)
	require.Equal(t, RoleAdmin, claims.Role)

	resp, data = s.do(t, http.MethodPost, PathSignin, "", SigninRequest{User: "A1", Role: "root"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, CodeValidationFailed, decodeError(t, data).Error)

	resp, data = s.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(data), "healthy")
}
