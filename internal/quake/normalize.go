package quake

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/otiai10/quakecast/internal/timestamp"
)

// Item is one raw event object as decoded from the wire.
// Numbers are kept as json.Number when decoded with DecodeItems.
type Item = map[string]any

// FromCustomBackendItem converts the bespoke backend's event item:
//
//	{"id": "...", "event_time": ..., "magnitude": ..., "latitude": ..., "longitude": ...,
//	 "depth": ..., "province": "...", "location": "...", "magtype": "..."}
//
// It returns false when the id is missing or empty, the time is unparseable,
// or any coordinate or the magnitude is not a finite number.
func FromCustomBackendItem(item Item) (Event, bool) {
	if item == nil {
		return Event{}, false
	}
	id, ok := identifier(item["id"])
	if !ok {
		return Event{}, false
	}
	at, ok := timestamp.Canonical(item["event_time"])
	if !ok {
		return Event{}, false
	}
	mag, ok := number(item["magnitude"])
	if !ok {
		return Event{}, false
	}
	lat, ok := number(item["latitude"])
	if !ok {
		return Event{}, false
	}
	lon, ok := number(item["longitude"])
	if !ok {
		return Event{}, false
	}

	return Event{
		ID:            id,
		Time:          at,
		Latitude:      lat,
		Longitude:     lon,
		Magnitude:     mag,
		MagnitudeType: text(item["magtype"]),
		DepthKm:       optionalNumber(item["depth"]),
		Region:        text(item["location"]),
		Province:      text(item["province"]),
	}, true
}

// FromGenericExternal converts a third-party payload of the form
//
//	{"magnitude": ..., "timestamp": ..., "depth": ...,
//	 "location": {"latitude": ..., "longitude": ...}}
//
// The payload carries no id, so one is synthesized from time and position.
func FromGenericExternal(payload Item) (Event, bool) {
	if payload == nil {
		return Event{}, false
	}
	mag, ok := number(payload["magnitude"])
	if !ok {
		return Event{}, false
	}
	loc, ok := payload["location"].(map[string]any)
	if !ok {
		return Event{}, false
	}
	lat, ok := number(loc["latitude"])
	if !ok {
		return Event{}, false
	}
	lon, ok := number(loc["longitude"])
	if !ok {
		return Event{}, false
	}
	at, ok := timestamp.Canonical(payload["timestamp"])
	if !ok {
		return Event{}, false
	}

	return Event{
		ID:        SynthesizeID(at, lat, lon),
		Time:      at,
		Latitude:  lat,
		Longitude: lon,
		Magnitude: mag,
		DepthKm:   optionalNumber(payload["depth"]),
	}, true
}

// FromPushChannelPayload converts the server-push payload, accepting the
// field names used by the different backend revisions.
func FromPushChannelPayload(payload Item) (Event, bool) {
	if payload == nil {
		return Event{}, false
	}
	lat, ok := number(first(payload, "lat", "latitude"))
	if !ok {
		return Event{}, false
	}
	lon, ok := number(first(payload, "lon", "longitude"))
	if !ok {
		return Event{}, false
	}
	mag, ok := number(first(payload, "mag", "magnitude"))
	if !ok {
		return Event{}, false
	}
	at, ok := timestamp.Canonical(first(payload, "time", "timestamp"))
	if !ok {
		return Event{}, false
	}

	id, ok := identifier(payload["unid"])
	if !ok {
		id, ok = identifier(payload["id"])
	}
	if !ok {
		id = SynthesizeID(at, lat, lon)
	}

	return Event{
		ID:            id,
		Time:          at,
		Latitude:      lat,
		Longitude:     lon,
		Magnitude:     mag,
		MagnitudeType: text(first(payload, "magtype", "magnitudeType")),
		DepthKm:       optionalNumber(first(payload, "depth", "depthKm")),
		Region:        text(first(payload, "flynn_region", "region", "location")),
		Province:      text(payload["province"]),
	}, true
}

// DecodeItems splits a payload into raw items.
// An object yields one item, an array yields its object elements, and
// anything else (including malformed JSON) yields none.
func DecodeItems(raw json.RawMessage) []Item {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	switch raw[0] {
	case '{':
		var item Item
		if err := dec.Decode(&item); err != nil {
			return nil
		}
		return []Item{item}
	case '[':
		var elems []any
		if err := dec.Decode(&elems); err != nil {
			return nil
		}
		items := make([]Item, 0, len(elems))
		for _, e := range elems {
			if item, ok := e.(map[string]any); ok {
				items = append(items, item)
			}
		}
		return items
	default:
		return nil
	}
}

// NormalizeAll applies convert to each item and keeps the valid results.
func NormalizeAll(items []Item, convert func(Item) (Event, bool)) []Event {
	events := make([]Event, 0, len(items))
	for _, item := range items {
		if e, ok := convert(item); ok {
			events = append(events, e)
		}
	}
	return events
}

// Latest returns the event with the latest time. Ties keep the earlier
// element; if no time parses, the first event is returned.
func Latest(events []Event) (Event, bool) {
	if len(events) == 0 {
		return Event{}, false
	}
	best := -1
	var bestMillis int64
	for i, e := range events {
		t, ok := timestamp.Parse(e.Time)
		if !ok {
			continue
		}
		ms := t.UnixMilli()
		if best < 0 || ms > bestMillis {
			best, bestMillis = i, ms
		}
	}
	if best < 0 {
		return events[0], true
	}
	return events[best], true
}

// number reads a finite float from a JSON number or a numeric string.
func number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := strconv.ParseFloat(n.String(), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// optionalNumber reads depth. Only JSON numbers count; numeric strings do not.
func optionalNumber(v any) *float64 {
	if _, isString := v.(string); isString {
		return nil
	}
	f, ok := number(v)
	if !ok {
		return nil
	}
	return &f
}

// identifier accepts a non-empty string or a non-zero number. Strings
// containing control characters are rejected.
func identifier(v any) (string, bool) {
	switch id := v.(type) {
	case string:
		id = strings.TrimSpace(id)
		if id == "" || strings.IndexFunc(id, unicode.IsControl) >= 0 {
			return "", false
		}
		return id, true
	case json.Number, float64, float32, int, int64:
		f, ok := number(id)
		if !ok || f == 0 {
			return "", false
		}
		if n, isNumber := id.(json.Number); isNumber {
			return n.String(), true
		}
		return formatNumber(f), true
	default:
		return "", false
	}
}

func text(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// first returns the value of the first key present with a non-nil value.
func first(item Item, keys ...string) any {
	for _, k := range keys {
		if v, ok := item[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
