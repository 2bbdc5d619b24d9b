package reliability

import (
	"context"
	"errors"
	"time"

	"github.com/8007342/ai-way/internal/ollama"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRetryableBackendError reports whether an inference backend failure is
// worth retrying. Status-bearing errors classify by code; plain transport
// errors (refused connections, resets, timeouts) count as retryable since
// the local backend may simply not be up yet. A canceled context is the
// caller's decision, never retryable.
func IsRetryableBackendError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var status *ollama.StatusError
	if errors.As(err, &status) {
		return IsRetryableHTTPStatus(status.Code)
	}
	return true
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
