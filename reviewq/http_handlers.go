// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package reviewq

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const maxRequestBodyBytes = 1 << 20

// Authenticator extracts the acting user and role from HTTP requests.
// Implementations should validate auth (e.g., JWT).
type Authenticator interface {
	Identify(r *http.Request) (userID, role string, err error)
}

// HTTPReviewHandlers provides HTTP handlers for the review queue API
type HTTPReviewHandlers struct {
	service       *ReviewService
	authenticator Authenticator
	logger        *slog.Logger
}

// NewHTTPReviewHandlers creates a new instance of review handlers
func NewHTTPReviewHandlers(service *ReviewService, authenticator Authenticator, logger *slog.Logger) *HTTPReviewHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPReviewHandlers{
		service:       service,
		authenticator: authenticator,
		logger:        logger,
	}
}

// Register installs the review queue routes on mux
func (h *HTTPReviewHandlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST "+PathSubmitChange, h.HandleSubmitChange)
	mux.HandleFunc("GET "+PathPendingChanges, h.HandleListChanges)
	mux.HandleFunc("POST "+PathPendingChanges+"/{id}/approve", h.HandleApprove)
	mux.HandleFunc("POST "+PathPendingChanges+"/{id}/reject", h.HandleReject)
}

// HandleSubmitChange stores a new pending change request
func (h *HTTPReviewHandlers) HandleSubmitChange(w http.ResponseWriter, r *http.Request) {
	userID, _, err := h.authenticator.Identify(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, CodeAuthenticationFailed, err.Error())
		return
	}

	var req SubmitChangeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Failed to parse change request")
		return
	}

	cr, err := h.service.Submit(r.Context(), userID, &req)
	if err != nil {
		h.writeServiceError(w, err, "Failed to submit change request", "user_id", userID)
		return
	}
	h.writeJSON(w, http.StatusOK, cr)
}

// HandleListChanges returns one page of change requests
func (h *HTTPReviewHandlers) HandleListChanges(w http.ResponseWriter, r *http.Request) {
	if _, _, err := h.authenticator.Identify(r); err != nil {
		h.writeError(w, http.StatusUnauthorized, CodeAuthenticationFailed, err.Error())
		return
	}

	q := ListQuery{Status: r.URL.Query().Get("status")}
	var ok bool
	if q.Page, ok = h.intParam(w, r, "page"); !ok {
		return
	}
	if q.PageSize, ok = h.intParam(w, r, "pageSize"); !ok {
		return
	}

	resp, err := h.service.List(r.Context(), q)
	if err != nil {
		h.writeServiceError(w, err, "Failed to list change requests")
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleApprove approves a pending change request
func (h *HTTPReviewHandlers) HandleApprove(w http.ResponseWriter, r *http.Request) {
	h.handleReview(w, r, ActionApprove, nil)
}

// HandleReject rejects a pending change request. The body may be empty or
// carry an optional reason.
func (h *HTTPReviewHandlers) HandleReject(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Failed to read request body")
		return
	}
	var req RejectRequest
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			h.writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Failed to parse reject request")
			return
		}
	}
	h.handleReview(w, r, ActionReject, req.Reason)
}

func (h *HTTPReviewHandlers) handleReview(w http.ResponseWriter, r *http.Request, action string, reason *string) {
	userID, role, err := h.authenticator.Identify(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, CodeAuthenticationFailed, err.Error())
		return
	}
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, CodeInvalidRequest, "missing change request id")
		return
	}

	cr, err := h.service.Review(r.Context(), role, ReviewDecision{
		RequestID:      id,
		Action:         action,
		Reviewer:       userID,
		Reason:         reason,
		IdempotencyKey: r.Header.Get(HeaderIdempotencyKey),
	})
	if err != nil {
		h.writeServiceError(w, err, "Failed to review change request", "id", id, "action", action)
		return
	}
	h.writeJSON(w, http.StatusOK, cr)
}

// SigninHandler issues tokens for any user name. Intended for local demos only.
func SigninHandler(jwtAuth *JWTAuth, ttl time.Duration, logger *slog.Logger) http.HandlerFunc {
	h := &HTTPReviewHandlers{logger: logger}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req SigninRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid JSON")
			return
		}
		if fieldErrs := req.Ok(); fieldErrs != nil {
			h.writeError(w, http.StatusBadRequest, CodeValidationFailed, validationMessage(fieldErrs))
			return
		}
		if req.Role == "" {
			req.Role = RoleUser
		}
		tok, err := jwtAuth.GenerateToken(req.User, req.Role, ttl)
		if err != nil {
			h.writeError(w, http.StatusInternalServerError, CodeInternalError, "failed to issue token")
			return
		}
		h.writeJSON(w, http.StatusOK, SigninResponse{Token: tok, User: req.User, Role: req.Role})
		h.logger.Info("Issued dummy token", "user", req.User, "role", req.Role)
	}
}

// HealthHandler reports liveness
func HealthHandler(appName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(HealthResponse{Status: "healthy", AppName: appName})
	}
}

func (h *HTTPReviewHandlers) intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		h.writeError(w, http.StatusBadRequest, CodeInvalidRequest, name+" must be a positive integer")
		return 0, false
	}
	return v, true
}

func (h *HTTPReviewHandlers) writeServiceError(w http.ResponseWriter, err error, logMsg string, logArgs ...any) {
	var fieldErrs FieldErrors
	switch {
	case errors.As(err, &fieldErrs):
		h.writeError(w, http.StatusBadRequest, CodeValidationFailed, validationMessage(fieldErrs))
	case errors.Is(err, ErrForbidden):
		h.writeError(w, http.StatusForbidden, CodeForbidden, err.Error())
	case errors.Is(err, ErrNotFound):
		h.writeError(w, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, ErrConflict):
		h.writeError(w, http.StatusConflict, CodeConflict, err.Error())
	default:
		h.logger.Error(logMsg, append(logArgs, "error", err)...)
		h.writeError(w, http.StatusInternalServerError, CodeInternalError, logMsg)
	}
}

func (h *HTTPReviewHandlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

// writeError writes a standardized error response
func (h *HTTPReviewHandlers) writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResponse := ErrorResponse{
		Error:   errorCode,
		Message: message,
	}
	_ = json.NewEncoder(w).Encode(errorResponse)

	h.logger.Debug("HTTP error response",
		"status_code", statusCode,
		"error_code", errorCode,
		"message", message)
}
