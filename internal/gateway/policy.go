package gateway

import (
	"net/http"
	"time"
)

// Policy is a retry schedule.
type Policy struct {
	// MaxAttempts includes the first attempt.
	MaxAttempts int
	// BaseDelay is multiplied by the attempt number that just failed.
	BaseDelay time.Duration
	// Retryable reports whether a non-2xx status should be retried.
	Retryable func(status int) bool
}

// DefaultPolicy is three attempts with linear 2s/4s backoff on 503.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		Retryable:   OverloadOnly,
	}
}

// NoRetry performs a single attempt.
func NoRetry() Policy {
	return Policy{MaxAttempts: 1, Retryable: OverloadOnly}
}

// Delay is the wait after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(attempt) * p.BaseDelay
}

// OverloadOnly treats only 503 as transient.
func OverloadOnly(status int) bool {
	return status == http.StatusServiceUnavailable
}
