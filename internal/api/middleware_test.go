package api

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func TestChain(t *testing.T) {
	order := make([]string, 0)
	mu := sync.Mutex{}

	record := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				mu.Lock()
				order = append(order, name+"-before")
				mu.Unlock()
				next.ServeHTTP(w, r)
				mu.Lock()
				order = append(order, name+"-after")
				mu.Unlock()
			})
		}
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		order = append(order, "handler")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	chained := Chain(record("m1"), record("m2"))(handler)
	chained.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))

	expected := []string{"m1-before", "m2-before", "handler", "m2-after", "m1-after"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(order), order)
	}
	for i, v := range expected {
		if order[i] != v {
			t.Errorf("order[%d] = %q, expected %q", i, order[i], v)
		}
	}
}

func TestLoggingMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	var captured *statusResponseWriter
	spy := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			captured, _ = w.(*statusResponseWriter)
			next.ServeHTTP(w, r)
		})
	}

	wrapped := Chain(LoggingMiddleware(zerolog.Nop()), spy)(handler)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

	if rec.Code != http.StatusTeapot {
		t.Errorf("expected status %d, got %d", http.StatusTeapot, rec.Code)
	}
	if captured == nil || captured.status != http.StatusTeapot {
		t.Errorf("captured status = %v, want first WriteHeader code", captured)
	}
}

type hijackRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	return nil, nil, nil
}

func TestStatusResponseWriter_PassThrough(t *testing.T) {
	rec := &hijackRecorder{ResponseRecorder: httptest.NewRecorder()}
	w := &statusResponseWriter{ResponseWriter: rec, status: http.StatusOK}

	w.Flush()
	if !rec.Flushed {
		t.Error("Flush() did not reach the underlying writer")
	}

	if _, _, err := w.Hijack(); err != nil {
		t.Fatalf("Hijack() error = %v", err)
	}
	if !rec.hijacked {
		t.Error("Hijack() did not reach the underlying writer")
	}
	if w.status != http.StatusSwitchingProtocols {
		t.Errorf("status = %d, want 101 after hijack", w.status)
	}

	plain := &statusResponseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := plain.Hijack(); err == nil {
		t.Error("Hijack() on a non-hijacker should fail")
	}
}

func TestCORSMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name            string
		allowed         []string
		origin          string
		method          string
		wantStatus      int
		wantAllowOrigin string
		wantCredentials bool
	}{
		{
			name:            "any origin when unconfigured",
			origin:          "https://obs.example.com",
			method:          http.MethodGet,
			wantStatus:      http.StatusOK,
			wantAllowOrigin: "*",
		},
		{
			name:            "configured origin echoed",
			allowed:         []string{"https://overlay.example.com/"},
			origin:          "https://overlay.example.com",
			method:          http.MethodGet,
			wantStatus:      http.StatusOK,
			wantAllowOrigin: "https://overlay.example.com",
			wantCredentials: true,
		},
		{
			name:       "unknown origin gets no allow header",
			allowed:    []string{"https://overlay.example.com"},
			origin:     "https://evil.example.com",
			method:     http.MethodGet,
			wantStatus: http.StatusOK,
		},
		{
			name:            "preflight",
			origin:          "https://obs.example.com",
			method:          http.MethodOptions,
			wantStatus:      http.StatusNoContent,
			wantAllowOrigin: "*",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := CORSMiddleware(tt.allowed)(handler)
			req := httptest.NewRequest(tt.method, "/api/settings", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()

			wrapped.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllowOrigin {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantAllowOrigin)
			}
			if got := rec.Header().Get("Access-Control-Allow-Credentials") == "true"; got != tt.wantCredentials {
				t.Errorf("Access-Control-Allow-Credentials = %v, want %v", got, tt.wantCredentials)
			}
			if rec.Header().Get("Access-Control-Allow-Methods") == "" {
				t.Error("expected Access-Control-Allow-Methods header")
			}
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	wrapped := RecoveryMiddleware(zerolog.Nop())(handler)
	rec := httptest.NewRecorder()

	// Should not panic
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, rec.Code)
	}
}

func TestJSONContentTypeMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	JSONContentTypeMiddleware(handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("expected Content-Type 'application/json', got %q", got)
	}
}

func TestRateLimiter(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	wrapped := NewRateLimiter(3, zerolog.Nop()).Middleware(handler)

	post := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/settings", nil)
		req.RemoteAddr = ip + ":1234"
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 3; i++ {
		if code := post("192.0.2.1"); code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, code)
		}
	}
	if code := post("192.0.2.1"); code != http.StatusTooManyRequests {
		t.Errorf("over-limit status = %d, want 429", code)
	}
	if code := post("192.0.2.2"); code != http.StatusOK {
		t.Errorf("other client status = %d, want 200", code)
	}

	t.Run("reads are not limited", func(t *testing.T) {
		for i := 0; i < 10; i++ {
			req := httptest.NewRequest(http.MethodGet, "/api/settings", nil)
			req.RemoteAddr = "192.0.2.1:1234"
			rec := httptest.NewRecorder()
			wrapped.ServeHTTP(rec, req)
			if rec.Code != http.StatusOK {
				t.Fatalf("GET %d: status = %d, want 200", i+1, rec.Code)
			}
		}
	})
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr", "203.0.113.5:5555", nil, "203.0.113.5"},
		{"forwarded for", "10.0.0.1:1", map[string]string{"X-Forwarded-For": "198.51.100.7, 10.0.0.1"}, "198.51.100.7"},
		{"real ip", "10.0.0.1:1", map[string]string{"X-Real-IP": "198.51.100.8"}, "198.51.100.8"},
		{"no port", "203.0.113.9", nil, "203.0.113.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
