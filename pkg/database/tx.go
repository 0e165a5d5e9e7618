package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/ledger-engine/pkg/apperrors"
)

// lockNotAvailable is the SQLSTATE Postgres raises when lock_timeout expires.
const lockNotAvailable = "55P03"

// TxRunner runs a function inside a database transaction. Repositories
// called from fn join the transaction via QuerierFrom. If fn returns an
// error the transaction rolls back and nothing it wrote is observable.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txRunner struct {
	lockTimeout time.Duration
}

// NewTxRunner creates a TxRunner that bounds row-lock waits to lockTimeout.
// A lock wait exceeding the bound surfaces as apperrors.ErrLockTimeout,
// which callers may treat as transient and retry.
func NewTxRunner(lockTimeout time.Duration) TxRunner {
	if lockTimeout <= 0 {
		lockTimeout = 3 * time.Second
	}
	return &txRunner{lockTimeout: lockTimeout}
}

var _ TxRunner = (*txRunner)(nil)

func (r *txRunner) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	// Nested calls join the in-flight transaction.
	if _, ok := GetTx(ctx); ok {
		return fn(ctx)
	}

	scope, ok := GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// SET LOCAL scopes the bound to this transaction only.
	timeout := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
	if _, err := tx.Exec(ctx, timeout); err != nil {
		return fmt.Errorf("failed to set lock timeout: %w", err)
	}

	if err := fn(SetTx(ctx, tx)); err != nil {
		if isLockTimeout(err) {
			return fmt.Errorf("%w: %v", apperrors.ErrLockTimeout, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isLockTimeout(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == lockNotAvailable
}
