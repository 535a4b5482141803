// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package reviewq

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// txRetry re-runs a review transaction that lost a race with another one.
type txRetry struct {
	attempts int
	backoff  time.Duration // doubled after every retryable failure
}

var reviewTxRetry = txRetry{attempts: 4, backoff: 25 * time.Millisecond}

// retryableTxError reports whether a fresh transaction may succeed where err
// failed. A duplicate idempotency key means a concurrent review stored it
// first; the next attempt reads it and answers as a replay or a conflict.
func retryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03": // serialization_failure, deadlock_detected, lock_not_available
		return true
	case "23505": // unique_violation
		return pgErr.ConstraintName == "review_idempotency_pkey"
	}
	return false
}

func (p txRetry) run(ctx context.Context, fn func(attempt int) error) error {
	wait := p.backoff
	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil || attempt >= p.attempts || !retryableTxError(err) {
			return err
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		wait *= 2
	}
}
