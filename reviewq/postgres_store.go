// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package reviewq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps change requests in the review schema.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore creates the review schema if needed. The caller owns pool.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &PostgresStore{pool: pool, logger: logger}
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return initializeSchemaInTx(ctx, tx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize review schema: %w", err)
	}
	logger.Debug("Review schema initialized")
	return s, nil
}

func initializeSchemaInTx(ctx context.Context, tx pgx.Tx) error {
	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS review`,
		`CREATE TABLE IF NOT EXISTS review.change_request (
			id               UUID PRIMARY KEY,
			target_table     TEXT NOT NULL,
			target_record_id TEXT NOT NULL DEFAULT '',
			change_type      TEXT NOT NULL CHECK (change_type IN ('CREATE','UPDATE','DELETE')),
			proposed_data    JSONB,
			submitted_by     TEXT NOT NULL,
			status           TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','approved','rejected')),
			reviewed_by      TEXT,
			reason           TEXT,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
			reviewed_at      TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS change_request_status_created_idx
			ON review.change_request(status, created_at, id)`,
		`CREATE TABLE IF NOT EXISTS review.review_idempotency (
			idempotency_key TEXT PRIMARY KEY,
			request_id      UUID NOT NULL REFERENCES review.change_request(id) ON DELETE CASCADE,
			action          TEXT NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

const selectChangeColumns = `id::text, target_table, target_record_id, change_type, proposed_data,
	submitted_by, status, COALESCE(reviewed_by, ''), reason, created_at, reviewed_at`

func scanChangeRequest(row pgx.Row) (*ChangeRequest, error) {
	var (
		cr         ChangeRequest
		changeType string
		data       []byte
	)
	err := row.Scan(&cr.ID, &cr.TargetTable, &cr.TargetRecordID, &changeType, &data,
		&cr.SubmittedBy, &cr.Status, &cr.ReviewedBy, &cr.Reason, &cr.CreatedAt, &cr.ReviewedAt)
	if err != nil {
		return nil, err
	}
	cr.ChangeType = ChangeType(changeType)
	if data != nil {
		cr.ProposedData = data
	}
	return &cr, nil
}

func (s *PostgresStore) Insert(ctx context.Context, cr *ChangeRequest) error {
	var data any
	if len(cr.ProposedData) > 0 {
		data = string(cr.ProposedData)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO review.change_request
			(id, target_table, target_record_id, change_type, proposed_data, submitted_by, status, created_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8)
	`, cr.ID, cr.TargetTable, cr.TargetRecordID, string(cr.ChangeType), data, cr.SubmittedBy, cr.Status, cr.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert change request: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*ChangeRequest, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	cr, err := scanChangeRequest(s.pool.QueryRow(ctx,
		`SELECT `+selectChangeColumns+` FROM review.change_request WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get change request: %w", err)
	}
	return cr, nil
}

func (s *PostgresStore) List(ctx context.Context, q ListQuery) ([]ChangeRequest, int, error) {
	var total int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM review.change_request WHERE ($1 = '' OR status = $1)
	`, q.Status).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count change requests: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+selectChangeColumns+`
		FROM review.change_request
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at, id
		LIMIT $2 OFFSET $3
	`, q.Status, q.PageSize, q.offset())
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list change requests: %w", err)
	}
	defer rows.Close()

	items := make([]ChangeRequest, 0, q.PageSize)
	for rows.Next() {
		cr, err := scanChangeRequest(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan change request: %w", err)
		}
		items = append(items, *cr)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating change requests: %w", err)
	}
	return items, total, nil
}

func (s *PostgresStore) Review(ctx context.Context, d ReviewDecision) (*ChangeRequest, error) {
	if _, err := uuid.Parse(d.RequestID); err != nil {
		return nil, ErrNotFound
	}

	var result *ChangeRequest
	err := reviewTxRetry.run(ctx, func(attempt int) error {
		result = nil
		err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadWrite}, func(tx pgx.Tx) error {
			_, _ = tx.Exec(ctx, "SET LOCAL lock_timeout = '3s'")

			cr, err := scanChangeRequest(tx.QueryRow(ctx,
				`SELECT `+selectChangeColumns+` FROM review.change_request WHERE id = $1 FOR UPDATE`, d.RequestID))
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("failed to lock change request: %w", err)
			}

			if d.IdempotencyKey != "" {
				var prevID, prevAction string
				err := tx.QueryRow(ctx, `
					SELECT request_id::text, action FROM review.review_idempotency WHERE idempotency_key = $1
				`, d.IdempotencyKey).Scan(&prevID, &prevAction)
				switch {
				case err == nil:
					if prevID == d.RequestID && prevAction == d.Action {
						result = cr
						return nil
					}
					return fmt.Errorf("%w: idempotency key reused for a different action", ErrConflict)
				case !errors.Is(err, pgx.ErrNoRows):
					return fmt.Errorf("failed to check idempotency key: %w", err)
				}
			}

			if !cr.IsPending() {
				return fmt.Errorf("%w: %s is %s", ErrConflict, cr.ID, cr.Status)
			}

			updated, err := scanChangeRequest(tx.QueryRow(ctx, `
				UPDATE review.change_request
				SET status = $2, reviewed_by = $3, reason = COALESCE($4::text, reason), reviewed_at = $5
				WHERE id = $1
				RETURNING `+selectChangeColumns,
				d.RequestID, d.status(), d.Reviewer, d.Reason, d.At.UTC()))
			if err != nil {
				return fmt.Errorf("failed to update change request: %w", err)
			}

			if d.IdempotencyKey != "" {
				if _, err := tx.Exec(ctx, `
					INSERT INTO review.review_idempotency (idempotency_key, request_id, action) VALUES ($1, $2, $3)
				`, d.IdempotencyKey, d.RequestID, d.Action); err != nil {
					return fmt.Errorf("failed to record idempotency key: %w", err)
				}
			}
			result = updated
			return nil
		})
		if err != nil && retryableTxError(err) {
			s.logger.Debug("Retrying review transaction", "id", d.RequestID, "attempt", attempt, "error", err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}
