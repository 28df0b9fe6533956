package duck

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	maxRetries        = 6
	initialRetryDelay = 200 * time.Millisecond
	maxRetryDelay     = 5 * time.Second
)

// isTransientError matches HTTP and connection failures from the httpfs extension.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{
		"HTTP Error",
		"HTTP 5",
		"Connection error",
		"connection reset",
		"timed out",
		"SlowDown",
		"Could not establish connection",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// retryRemote retries fn with exponential backoff while it fails with a transient
// error. Other errors are returned immediately.
func retryRemote[T any](ctx context.Context, log *slog.Logger, operation string, fn func() (T, error)) (T, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialRetryDelay
	bo.MaxInterval = maxRetryDelay

	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := fn()
		if err == nil {
			if attempt > 1 {
				log.Info("duck: operation succeeded after retries", "operation", operation, "attempts", attempt)
			}
			return v, nil
		}
		if !isTransientError(err) {
			return v, backoff.Permanent(err)
		}
		log.Warn("duck: transient error, retrying", "operation", operation, "attempt", attempt, "max_attempts", maxRetries, "error", err)
		return v, err
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(maxRetries))
}
