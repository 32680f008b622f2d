package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
)

// APIError is a structured error for HTTP responses carrying a status
// code, so retryability can be decided on the code rather than string
// matching a message.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider error: status %d - %s", e.StatusCode, e.Message)
}

// retry runs fn with exponential backoff, retrying only on transient
// errors. Grounded on diillson-chatcli/utils/retry.go's generic
// Retry[T any] helper, reused near-verbatim for per-model completion
// calls in the fallback chain.
func retry[T any](ctx context.Context, logger *zap.Logger, maxAttempts int, initialBackoff time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var result T
	backoff := initialBackoff

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}

		if isTemporaryError(err) && attempt < maxAttempts {
			logger.Warn("transient error from model, retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", maxAttempts),
				zap.Error(err),
				zap.Duration("backoff", backoff))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return result, ctx.Err()
			}
			backoff *= 2
			continue
		}

		logger.Debug("permanent error from model, aborting", zap.Error(err))
		return result, err
	}

	return result, fmt.Errorf("exhausted %d attempts", maxAttempts)
}

// isTemporaryError matches net.Error timeouts and APIError 429/5xx,
// unwrapping through wrapped errors the same way the teacher's
// IsTemporaryError does.
func isTemporaryError(err error) bool {
	for err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return true
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return apiErr.StatusCode == 429 || (apiErr.StatusCode >= 500 && apiErr.StatusCode < 600)
		}
		err = errors.Unwrap(err)
	}
	return false
}
