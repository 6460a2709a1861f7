package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// DefaultTimeout bounds a single storage call when no timeout is configured.
const DefaultTimeout = 2 * time.Second

// ErrStorageTimeout marks a storage call that did not finish within its bound. It is transient:
// callers may retry, and it must never be reported as an authentication failure.
var ErrStorageTimeout = errors.New("storage timeout")

// Bound returns a child context limited to d (DefaultTimeout when d <= 0).
func Bound(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultTimeout
	}
	return context.WithTimeout(ctx, d)
}

// Classify wraps deadline and cancellation failures (including Postgres statement timeouts and
// query cancellations) as ErrStorageTimeout. Other errors are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorageTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %v", ErrStorageTimeout, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "57014" { // query_canceled
		return fmt.Errorf("%w: %v", ErrStorageTimeout, err)
	}
	return err
}

// IsUniqueViolation reports whether err is a Postgres unique_violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
