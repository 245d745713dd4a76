package webhook

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// RetryConfig controls redelivery of failed webhooks.
type RetryConfig struct {
	Enabled    bool `yaml:"enabled"`
	MaxRetries int  `yaml:"max_retries"`
	InitialMs  int  `yaml:"initial_ms"`
	MaxMs      int  `yaml:"max_ms"`
}

// DefaultRetryConfig retries three times, starting at one second and
// doubling up to a minute.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Enabled:    true,
		MaxRetries: 3,
		InitialMs:  1000,
		MaxMs:      60000,
	}
}

// RetryingSender wraps a Sender with exponential backoff.
// It is safe for concurrent use.
type RetryingSender struct {
	sender *Sender
	config RetryConfig
}

// NewRetryingSender wraps sender.
func NewRetryingSender(sender *Sender, config RetryConfig) *RetryingSender {
	return &RetryingSender{sender: sender, config: config}
}

// Send delivers payload, retrying 5xx, 408, 429 and connection errors.
// Other 4xx responses end the attempt immediately.
func (r *RetryingSender) Send(ctx context.Context, target Target, payload []byte) DeliveryResult {
	if !r.config.Enabled {
		return r.sender.Send(ctx, target, payload)
	}

	var result DeliveryResult
	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := time.NewTimer(calculateBackoff(attempt-1, r.config.InitialMs, r.config.MaxMs))
			select {
			case <-ctx.Done():
				wait.Stop()
				return DeliveryResult{
					URL:          target.URL,
					ErrorMessage: "context cancelled during backoff",
					RetryCount:   attempt - 1,
				}
			case <-wait.C:
			}
		}
		if ctx.Err() != nil {
			return DeliveryResult{URL: target.URL, ErrorMessage: "context cancelled", RetryCount: max(attempt-1, 0)}
		}

		result = r.sender.Send(ctx, target, payload)
		result.RetryCount = attempt
		if result.Success || !isRetryable(result) {
			return result
		}
	}
	return result
}

// SendAll delivers payload to every target concurrently. Results keep the
// order of targets.
func (r *RetryingSender) SendAll(ctx context.Context, targets []Target, payload []byte) []DeliveryResult {
	results := make([]DeliveryResult, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = r.Send(ctx, target, payload)
		}()
	}
	wg.Wait()
	return results
}

// calculateBackoff returns initialMs * 2^attempt, capped at maxMs.
func calculateBackoff(attempt, initialMs, maxMs int) time.Duration {
	backoffMs := initialMs
	for range attempt {
		backoffMs *= 2
		if backoffMs >= maxMs {
			return time.Duration(maxMs) * time.Millisecond
		}
	}
	return time.Duration(backoffMs) * time.Millisecond
}

func isRetryable(result DeliveryResult) bool {
	if result.Success {
		return false
	}
	switch code := result.StatusCode; {
	case code == 0:
		return result.ErrorMessage != ""
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	default:
		return code >= 500 && code < 600
	}
}
