package feed

import (
	"math/rand/v2"
	"time"
)

const (
	// initialRetryDelay is the starting delay for exponential backoff
	initialRetryDelay = 2 * time.Second

	// maxRetryDelay is the maximum delay between retries, before jitter
	maxRetryDelay = 30 * time.Second

	// maxJitter is the exclusive upper bound of the random delay added to each retry
	maxJitter = 500 * time.Millisecond
)

// baseDelay returns min(30s, 2s * 2^attempt).
func baseDelay(attempt int) time.Duration {
	delay := initialRetryDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

// jitter returns a whole number of milliseconds in [0, 500).
func jitter() time.Duration {
	return time.Duration(rand.IntN(int(maxJitter/time.Millisecond))) * time.Millisecond
}

// retryDelay is the full delay before reconnect attempt number attempt.
func retryDelay(attempt int) time.Duration {
	return baseDelay(attempt) + jitter()
}
