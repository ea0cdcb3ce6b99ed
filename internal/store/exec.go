// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/troupehq/troupe/internal/logging"
	"github.com/troupehq/troupe/internal/metrics"
	"github.com/troupehq/troupe/internal/retry"
)

// TxOperation is one step of a multi-step transaction. Rollback, when
// set, compensates side effects that outlive a SQL-level rollback
// (for example, a published notification or an in-memory index entry).
type TxOperation struct {
	Name     string
	Execute  func(ctx context.Context, tx *sql.Tx) error
	Rollback func(ctx context.Context) error
}

// ExecuteTransaction runs the operations inside one transaction.
// On failure it rolls back the SQL transaction, then invokes the
// registered rollback callbacks of every completed operation in
// reverse order before returning the original error.
func (db *DB) ExecuteTransaction(ctx context.Context, ops []TxOperation) error {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	var completed []TxOperation
	for _, op := range ops {
		if err := op.Execute(ctx, tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				logging.Warn().Err(rbErr).Str("operation", op.Name).Msg("sql rollback failed")
			}
			db.compensate(ctx, completed)
			return fmt.Errorf("operation %s: %w", op.Name, err)
		}
		completed = append(completed, op)
	}

	if err := tx.Commit(); err != nil {
		db.compensate(ctx, completed)
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// compensate invokes rollback callbacks of completed operations in
// reverse order.
func (db *DB) compensate(ctx context.Context, completed []TxOperation) {
	for i := len(completed) - 1; i >= 0; i-- {
		op := completed[i]
		if op.Rollback == nil {
			continue
		}
		if err := op.Rollback(ctx); err != nil {
			logging.Error().Err(err).Str("operation", op.Name).Msg("rollback callback failed")
		}
	}
}

// ExecuteWithBackoff runs op, retrying transient failures per the
// policy. Terminal errors return immediately.
func (db *DB) ExecuteWithBackoff(ctx context.Context, operation string, policy retry.Policy, op func(ctx context.Context) error) error {
	return retry.Do(ctx, policy, func(ctx context.Context) error {
		err := op(ctx)
		if err != nil && !IsRetryable(err) {
			return retry.Permanent(err)
		}
		return err
	}, func(attempt int, err error) {
		metrics.StoreRetries.WithLabelValues(operation, ErrorClass(err)).Inc()
		logging.Warn().Err(err).Str("operation", operation).Int("attempt", attempt).Msg("retrying store operation")
	})
}

// ExecuteBatch executes statements one at a time, retrying each with
// backoff. Unlike ExecuteTransaction there is no atomicity across
// statements; callers use it for independent writes (e.g. bulk
// upserts where per-row failure containment is preferable).
func (db *DB) ExecuteBatch(ctx context.Context, operation string, policy retry.Policy, stmts []func(ctx context.Context) error) (int, error) {
	succeeded := 0
	var firstErr error
	for _, stmt := range stmts {
		if err := db.ExecuteWithBackoff(ctx, operation, policy, stmt); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		succeeded++
	}
	return succeeded, firstErr
}
