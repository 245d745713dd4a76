package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/otiai10/quakecast/internal/quake"
)

func TestNewSender_Defaults(t *testing.T) {
	s := NewSender()
	if s.timeout != 10*time.Second || s.client.Timeout != 10*time.Second {
		t.Errorf("timeout = %v / %v, want 10s", s.timeout, s.client.Timeout)
	}
	if s.userAgent == "" {
		t.Error("user agent should default")
	}

	s = NewSender(WithTimeout(time.Second), WithUserAgent("test/1"))
	if s.client.Timeout != time.Second || s.userAgent != "test/1" {
		t.Errorf("options not applied: %v %q", s.client.Timeout, s.userAgent)
	}
}

func TestSend_Headers(t *testing.T) {
	payload := []byte(`{"type":"earthquake_alert"}`)
	var got http.Header
	var body []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	result := NewSender(WithUserAgent("quakecast/test")).Send(context.Background(), Target{URL: server.URL, Secret: "s3cret"}, payload)
	if !result.Success || result.StatusCode != http.StatusNoContent {
		t.Fatalf("result = %+v", result)
	}
	if got.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", got.Get("Content-Type"))
	}
	if !Verify("s3cret", body, got.Get(SignatureHeader)) {
		t.Errorf("signature %q does not verify", got.Get(SignatureHeader))
	}
	if got.Get(DeliveryHeader) == "" {
		t.Error("delivery id missing")
	}
	if got.Get("User-Agent") != "quakecast/test" {
		t.Errorf("User-Agent = %q", got.Get("User-Agent"))
	}
}

func TestSend_Failures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	tests := []struct {
		name       string
		url        string
		wantStatus int
	}{
		{"non-2xx", server.URL, http.StatusBadRequest},
		{"connection refused", "http://127.0.0.1:1", 0},
		{"invalid url", "://bad", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NewSender().Send(context.Background(), Target{URL: tt.url}, []byte(`{}`))
			if result.Success {
				t.Fatal("expected failure")
			}
			if result.StatusCode != tt.wantStatus {
				t.Errorf("StatusCode = %d, want %d", result.StatusCode, tt.wantStatus)
			}
			if result.ErrorMessage == "" {
				t.Error("ErrorMessage should be set")
			}
		})
	}
}

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 500 * time.Millisecond},
		{10, 500 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := calculateBackoff(tt.attempt, 100, 500); got != tt.want {
			t.Errorf("calculateBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name   string
		result DeliveryResult
		want   bool
	}{
		{"success", DeliveryResult{Success: true, StatusCode: 200}, false},
		{"connection error", DeliveryResult{ErrorMessage: "refused"}, true},
		{"408", DeliveryResult{StatusCode: 408, ErrorMessage: "x"}, true},
		{"429", DeliveryResult{StatusCode: 429, ErrorMessage: "x"}, true},
		{"500", DeliveryResult{StatusCode: 500, ErrorMessage: "x"}, true},
		{"503", DeliveryResult{StatusCode: 503, ErrorMessage: "x"}, true},
		{"400", DeliveryResult{StatusCode: 400, ErrorMessage: "x"}, false},
		{"404", DeliveryResult{StatusCode: 404, ErrorMessage: "x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryable(tt.result); got != tt.want {
				t.Errorf("isRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func fastRetry(max int) RetryConfig {
	return RetryConfig{Enabled: true, MaxRetries: max, InitialMs: 1, MaxMs: 5}
}

func TestRetryingSender_SuccessAfterRetry(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	result := NewRetryingSender(NewSender(), fastRetry(3)).Send(context.Background(), Target{URL: server.URL}, []byte(`{}`))
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.RetryCount != 2 || atomic.LoadInt32(&attempts) != 3 {
		t.Errorf("RetryCount = %d, attempts = %d, want 2 and 3", result.RetryCount, attempts)
	}
}

func TestRetryingSender_StopsOnClientError(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	result := NewRetryingSender(NewSender(), fastRetry(3)).Send(context.Background(), Target{URL: server.URL}, []byte(`{}`))
	if result.Success || result.StatusCode != http.StatusUnauthorized {
		t.Fatalf("result = %+v", result)
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetryingSender_MaxRetries(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	result := NewRetryingSender(NewSender(), fastRetry(2)).Send(context.Background(), Target{URL: server.URL}, []byte(`{}`))
	if result.Success || result.RetryCount != 2 {
		t.Fatalf("result = %+v", result)
	}
	if atomic.LoadInt32(&attempts) != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryingSender_Disabled(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := fastRetry(3)
	cfg.Enabled = false
	NewRetryingSender(NewSender(), cfg).Send(context.Background(), Target{URL: server.URL}, []byte(`{}`))
	if atomic.LoadInt32(&attempts) != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetryingSender_ContextCancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	cfg := RetryConfig{Enabled: true, MaxRetries: 5, InitialMs: 10_000, MaxMs: 10_000}
	start := time.Now()
	result := NewRetryingSender(NewSender(), cfg).Send(ctx, Target{URL: server.URL}, []byte(`{}`))
	if result.Success {
		t.Fatal("expected failure")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("cancellation did not interrupt backoff")
	}
}

func TestRetryingSender_SendAllKeepsOrder(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer bad.Close()

	rs := NewRetryingSender(NewSender(), fastRetry(1))
	results := rs.SendAll(context.Background(), []Target{{URL: ok.URL}, {URL: bad.URL}, {URL: ok.URL}}, []byte(`{}`))
	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}
	want := []bool{true, false, true}
	for i, r := range results {
		if r.Success != want[i] {
			t.Errorf("results[%d].Success = %v, want %v", i, r.Success, want[i])
		}
	}
	if got := rs.SendAll(context.Background(), nil, []byte(`{}`)); len(got) != 0 {
		t.Errorf("SendAll(nil) = %v", got)
	}
}

func TestHandshake(t *testing.T) {
	echo := func(mangle bool) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			if !Verify("k", body, r.Header.Get(SignatureHeader)) {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			var req handshakeRequest
			_ = json.Unmarshal(body, &req)
			if req.Type != "url_verification" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			if mangle {
				req.Challenge += "x"
			}
			_ = json.NewEncoder(w).Encode(handshakeResponse{Challenge: req.Challenge})
		}
	}

	good := httptest.NewServer(echo(false))
	defer good.Close()
	wrong := httptest.NewServer(echo(true))
	defer wrong.Close()

	s := NewSender()
	if err := s.Handshake(context.Background(), Target{URL: good.URL, Secret: "k"}); err != nil {
		t.Errorf("Handshake() error = %v", err)
	}
	if err := s.Handshake(context.Background(), Target{URL: good.URL, Secret: "other"}); err == nil {
		t.Error("expected error for wrong secret")
	}
	if err := s.Handshake(context.Background(), Target{URL: wrong.URL, Secret: "k"}); err == nil {
		t.Error("expected error for mismatched challenge")
	}
}

func TestForwarder_DeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var ids []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var alert Alert
		if err := json.Unmarshal(body, &alert); err != nil || alert.Type != AlertType {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		ids = append(ids, alert.Event.ID)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f := NewForwarder([]Target{{Name: "t", URL: server.URL, Secret: "k"}}, NewRetryingSender(NewSender(), fastRetry(0)), zerolog.Nop())
	for _, id := range []string{"e1", "e2", "e3"} {
		if !f.Forward(quake.Event{ID: id}) {
			t.Fatalf("Forward(%s) rejected", id)
		}
	}
	f.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(ids) != 3 || ids[0] != "e1" || ids[2] != "e3" {
		t.Errorf("delivered %v, want [e1 e2 e3]", ids)
	}
	if f.Forward(quake.Event{ID: "late"}) {
		t.Error("Forward after Close should be rejected")
	}
}

func TestForwarder_NoTargets(t *testing.T) {
	f := NewForwarder(nil, NewRetryingSender(NewSender(), DefaultRetryConfig()), zerolog.Nop())
	defer f.Close()
	if f.Forward(quake.Event{ID: "e1"}) {
		t.Error("Forward with no targets should report false")
	}
	if err := f.Verify(context.Background()); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
}
