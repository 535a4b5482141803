// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package reviewq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ServiceConfig holds configuration for the review service
type ServiceConfig struct {
	AppName          string
	DefaultPageSize  int
	MaxPageSize      int
	MaxProposedBytes int // Maximum proposed_data size in bytes (0 = unlimited)

	StageMetrics    StageMetricsRecorder
	LogStageTimings bool
}

// DefaultServiceConfig returns the configuration used when none is given
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		AppName:          "reviewq",
		DefaultPageSize:  DefaultPageSize,
		MaxPageSize:      MaxPageSize,
		MaxProposedBytes: 256 * 1024,
	}
}

// ReviewService implements the review queue workflow on top of a Store
type ReviewService struct {
	store  Store
	logger *slog.Logger
	config *ServiceConfig
	now    func() time.Time
	newID  func() string

	mu     sync.RWMutex
	closed bool
}

// NewReviewService creates a service over store
func NewReviewService(store Store, config *ServiceConfig, logger *slog.Logger) (*ReviewService, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if config == nil {
		config = DefaultServiceConfig()
	}
	if config.DefaultPageSize <= 0 {
		config.DefaultPageSize = DefaultPageSize
	}
	if config.MaxPageSize <= 0 {
		config.MaxPageSize = MaxPageSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReviewService{
		store:  store,
		logger: logger,
		config: config,
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}, nil
}

// Close marks the service closed. It does not close the store.
func (s *ReviewService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *ReviewService) checkClosed() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("review service has been closed")
	}
	return nil
}

// Submit stores a new pending change request on behalf of userID
func (s *ReviewService) Submit(ctx context.Context, userID string, req *SubmitChangeRequest) (cr *ChangeRequest, err error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	total := s.span(MetricsOpSubmit, MetricsStageTotal)
	defer func() { total.end(ctx, 1, err != nil) }()

	validate := s.span(MetricsOpSubmit, MetricsStageValidate)
	fieldErrs := req.Ok()
	if fieldErrs == nil && s.config.MaxProposedBytes > 0 && len(req.ProposedData) > s.config.MaxProposedBytes {
		fieldErrs = FieldErrors{"proposed_data": "max"}
	}
	validate.end(ctx, 1, fieldErrs != nil)
	if fieldErrs != nil {
		return nil, fieldErrs
	}
	if req.SubmittedBy != userID {
		return nil, fmt.Errorf("%w: submitted_by must match the authenticated user", ErrForbidden)
	}

	cr = &ChangeRequest{
		ID:             s.newID(),
		TargetTable:    req.TargetTable,
		TargetRecordID: req.TargetRecordID,
		ChangeType:     req.ChangeType,
		ProposedData:   req.ProposedData,
		SubmittedBy:    req.SubmittedBy,
		Status:         StPending,
		CreatedAt:      s.now().UTC(),
	}

	insert := s.span(MetricsOpSubmit, MetricsStageStore)
	err = s.store.Insert(ctx, cr)
	insert.end(ctx, 1, err != nil)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Change request submitted", "id", cr.ID, "table", cr.TargetTable, "record_id", cr.TargetRecordID, "type", cr.ChangeType)
	return cr, nil
}

// List returns one page of change requests. Zero page or page size select the defaults.
func (s *ReviewService) List(ctx context.Context, q ListQuery) (resp *ChangeListResponse, err error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	switch q.Status {
	case "", StPending, StApproved, StRejected:
	default:
		return nil, FieldErrors{"status": "oneof"}
	}
	if q.Page < 0 || q.PageSize < 0 {
		return nil, FieldErrors{"page": "min"}
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.PageSize == 0 {
		q.PageSize = s.config.DefaultPageSize
	}
	if q.PageSize > s.config.MaxPageSize {
		q.PageSize = s.config.MaxPageSize
	}

	sp := s.span(MetricsOpList, MetricsStageTotal)
	items, total, err := s.store.List(ctx, q)
	sp.end(ctx, len(items), err != nil)
	if err != nil {
		return nil, err
	}
	return &ChangeListResponse{Items: items, Total: total, Page: q.Page, PageSize: q.PageSize}, nil
}

// Review approves or rejects a pending request. Only admins may review.
func (s *ReviewService) Review(ctx context.Context, role string, d ReviewDecision) (cr *ChangeRequest, err error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	if role != RoleAdmin {
		return nil, fmt.Errorf("%w: %s cannot %s", ErrForbidden, role, d.Action)
	}
	if d.Action != ActionApprove && d.Action != ActionReject {
		return nil, FieldErrors{"action": "oneof"}
	}
	if d.At.IsZero() {
		d.At = s.now()
	}

	sp := s.span(MetricsOpReview, MetricsStageTotal)
	cr, err = s.store.Review(ctx, d)
	sp.end(ctx, 1, err != nil)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Change request reviewed", "id", cr.ID, "action", d.Action, "reviewer", d.Reviewer)
	return cr, nil
}
