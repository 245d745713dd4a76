package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/otiai10/quakecast/internal/quake"
)

func dial(t *testing.T, srv *httptest.Server, protocols []string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	d := websocket.Dialer{Subprotocols: protocols}
	return d.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
}

func TestFakeFeed_EmitsAfterSubscribe(t *testing.T) {
	f := newFakeFeed(20*time.Millisecond, "", zerolog.Nop())
	srv := httptest.NewServer(f)
	defer srv.Close()

	conn, _, err := dial(t, srv, nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"type": "subscribe", "topic": "earthquake_alerts", "id": "obs-overlay"}); err != nil {
		t.Fatal(err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame struct {
		Type    string         `json:"type"`
		Event   string         `json:"event"`
		Payload map[string]any `json:"payload"`
	}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read error = %v", err)
	}
	if frame.Type != "event" || frame.Event != "earthquake_alert" {
		t.Fatalf("frame = %+v", frame)
	}

	e, ok := quake.FromCustomBackendItem(frame.Payload)
	if !ok {
		t.Fatalf("payload %v is not a valid custom backend item", frame.Payload)
	}
	if e.Province != "Izmir" || e.Magnitude != 4.3 {
		t.Errorf("event = %+v", e)
	}
}

func TestFakeFeed_AnswersPing(t *testing.T) {
	f := newFakeFeed(time.Hour, "", zerolog.Nop())
	srv := httptest.NewServer(f)
	defer srv.Close()

	conn, _, err := dial(t, srv, nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"type": "ping", "t": 1700000000123}); err != nil {
		t.Fatal(err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var pong struct {
		Type string `json:"type"`
		T    int64  `json:"t"`
	}
	if err := conn.ReadJSON(&pong); err != nil {
		t.Fatalf("read error = %v", err)
	}
	if pong.Type != "pong" || pong.T != 1700000000123 {
		t.Errorf("pong = %+v", pong)
	}
}

func TestFakeFeed_BearerToken(t *testing.T) {
	f := newFakeFeed(time.Hour, "s3cret", zerolog.Nop())
	srv := httptest.NewServer(f)
	defer srv.Close()

	if _, resp, err := dial(t, srv, nil); err == nil {
		t.Error("dial without token should fail")
	} else if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v, want 401", resp)
	}

	conn, resp, err := dial(t, srv, []string{"bearer", "s3cret"})
	if err != nil {
		t.Fatalf("dial with token error = %v", err)
	}
	defer conn.Close()
	if got := resp.Header.Get("Sec-Websocket-Protocol"); got != "bearer" {
		t.Errorf("negotiated protocol = %q, want bearer", got)
	}
}

func TestFakeFeed_Latest(t *testing.T) {
	f := newFakeFeed(time.Hour, "", zerolog.Nop())
	f.now = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }

	rec := httptest.NewRecorder()
	f.serveLatest(rec, httptest.NewRequest(http.MethodGet, "/latest", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("status before first alert = %d, want 204", rec.Code)
	}

	f.next()
	rec = httptest.NewRecorder()
	f.serveLatest(rec, httptest.NewRequest(http.MethodGet, "/latest", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatal(err)
	}
	e, ok := quake.FromPushChannelPayload(payload)
	if !ok {
		t.Fatalf("snapshot %s is not a valid push-channel payload", rec.Body.String())
	}
	if e.ID != "fake-20240101-1" || e.Time != "2024-01-01T12:00:00.000Z" || e.Region != "WESTERN TURKEY" {
		t.Errorf("event = %+v", e)
	}
}
