package feed

import (
	"encoding/json"
	"time"

	"github.com/otiai10/quakecast/internal/quake"
)

const (
	envelopeTypeEvent  = "event"
	envelopeEventAlert = "earthquake_alert"

	// pushEventName is the named server-sent event carrying alerts.
	pushEventName = "earthquake"
)

type authFrame struct {
	Type          string `json:"type"`
	Authorization string `json:"authorization"`
}

type subscribeFrame struct {
	Type    string `json:"type"`
	Topic   string `json:"topic"`
	ID      string `json:"id"`
	TS      int64  `json:"ts,omitempty"`
	AfterID string `json:"after_id,omitempty"`
}

type pingFrame struct {
	Type string `json:"type"`
	T    int64  `json:"t"`
}

// envelope is the inbound wrapper; only event/earthquake_alert is handled.
type envelope struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func newAuthFrame(bearer string) authFrame {
	return authFrame{Type: "auth", Authorization: "Bearer " + bearer}
}

// newSubscribeFrame builds the subscribe request. ts comes from the fixed
// override, else from the look-back window; both ts and after_id are sent
// when available and the server decides their precedence.
func newSubscribeFrame(cfg Config, afterID string, now time.Time) subscribeFrame {
	f := subscribeFrame{
		Type:    "subscribe",
		Topic:   cfg.Topic,
		ID:      cfg.ClientID,
		AfterID: afterID,
	}
	switch {
	case cfg.FixedSince != 0:
		f.TS = cfg.FixedSince
	case cfg.SinceWindow > 0:
		f.TS = now.Unix() - int64(cfg.SinceWindow/time.Second)
	}
	return f
}

func newPingFrame(now time.Time) pingFrame {
	return pingFrame{Type: "ping", T: now.UnixMilli()}
}

// decodeEnvelope extracts events from a socket frame. Anything that is not
// an alert envelope yields nothing.
func decodeEnvelope(data []byte) (events []quake.Event, recognized bool) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false
	}
	if env.Type != envelopeTypeEvent || env.Event != envelopeEventAlert {
		return nil, false
	}
	items := quake.DecodeItems(env.Payload)
	return quake.NormalizeAll(items, quake.FromCustomBackendItem), true
}

// decodePush extracts events from the data of a named server-sent event.
func decodePush(data []byte) (events []quake.Event, recognized bool) {
	items := quake.DecodeItems(data)
	if len(items) == 0 {
		return nil, false
	}
	return quake.NormalizeAll(items, quake.FromPushChannelPayload), true
}
