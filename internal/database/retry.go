package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fadeout/internal/constants"
	"fadeout/internal/retry"
)

var readBackoff = retry.BackoffConfig{
	InitialDelay: time.Duration(constants.DefaultDatabaseRetryBackoffMs) * time.Millisecond,
	MaxDelay:     time.Duration(constants.DefaultMaxBackoffMs) * time.Millisecond,
	Multiplier:   2.0,
	MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
}

// retryableDBOperation runs a read with bounded retries on transient SQLite
// errors. Lifecycle writes never go through here: a failed archive or
// soft-delete is reported once and left alone.
func retryableDBOperation(ctx context.Context, operation func() error, operationName string) error {
	err := retry.NewBackoff(readBackoff).RetryWithPredicate(ctx, operation, isRetryableDBError)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return err
	case !isRetryableDBError(err):
		return fmt.Errorf("%s failed (non-retryable): %w", operationName, err)
	default:
		return fmt.Errorf("%s failed after %d attempts: %w", operationName, readBackoff.MaxAttempts, err)
	}
}

// isRetryableDBError determines if a database error is worth retrying
func isRetryableDBError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := err.Error()

	if strings.Contains(errStr, "database is locked") || strings.Contains(errStr, "database table is locked") {
		return true
	}

	if strings.Contains(errStr, "disk I/O error") {
		return true
	}

	return false
}
