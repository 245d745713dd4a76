package webhook

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/otiai10/quakecast/internal/version"
)

// DeliveryHeader carries a unique id per delivery attempt.
const DeliveryHeader = "X-Quakecast-Delivery"

const defaultTimeout = 10 * time.Second

// DeliveryResult describes one delivery to one target.
type DeliveryResult struct {
	URL          string        // target URL
	StatusCode   int           // 0 if the request failed
	Success      bool          // 2xx received
	ErrorMessage string        // empty on success
	ResponseTime time.Duration // duration of the last attempt
	RetryCount   int           // retries after the first attempt
}

// Target is a webhook destination.
type Target struct {
	Name   string
	URL    string
	Secret string
}

// Sender POSTs signed JSON payloads. It is safe for concurrent use.
type Sender struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
}

// SenderOption configures a Sender.
type SenderOption func(*Sender)

// WithTimeout sets the per-request timeout (default 10s).
func WithTimeout(d time.Duration) SenderOption {
	return func(s *Sender) {
		s.timeout = d
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) SenderOption {
	return func(s *Sender) {
		s.userAgent = ua
	}
}

// NewSender creates a sender.
func NewSender(opts ...SenderOption) *Sender {
	s := &Sender{
		timeout:   defaultTimeout,
		userAgent: version.UserAgent(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.client = &http.Client{Timeout: s.timeout}
	return s
}

// Send delivers payload to target once. Success means a 2xx response.
func (s *Sender) Send(ctx context.Context, target Target, payload []byte) DeliveryResult {
	start := time.Now()
	result := DeliveryResult{URL: target.URL}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(payload))
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("failed to create request: %v", err)
		result.ResponseTime = time.Since(start)
		return result
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(target.Secret, payload))
	req.Header.Set(DeliveryHeader, uuid.NewString())
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("request failed: %v", err)
		result.ResponseTime = time.Since(start)
		return result
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	result.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
	result.ResponseTime = time.Since(start)
	if !result.Success {
		result.ErrorMessage = fmt.Sprintf("unexpected status: %d", resp.StatusCode)
	}
	return result
}
