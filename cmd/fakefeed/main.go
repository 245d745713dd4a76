// Command fakefeed is a development stand-in for the upstream earthquake
// feed. It speaks the subscribe/event WebSocket protocol, emits a sample
// alert on an interval and answers heartbeats.
package main

import (
	"encoding/json"
	"flag"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/otiai10/quakecast/internal/logging"
	"github.com/otiai10/quakecast/internal/timestamp"
)

func main() {
	addr := flag.String("addr", ":9000", "listen address")
	interval := flag.Duration("interval", 15*time.Second, "time between sample alerts")
	token := flag.String("token", "", "require this bearer token when set")
	flag.Parse()

	logging.Init(logging.Config{Level: logging.DebugLevel})
	log := logging.WithComponent("fakefeed")

	f := newFakeFeed(*interval, *token, log)
	mux := http.NewServeMux()
	mux.Handle("/ws", f)
	mux.HandleFunc("/latest", f.serveLatest)

	log.Info().Str("ws", "ws://localhost"+*addr+"/ws").Dur("interval", *interval).Msg("fake feed listening")
	if err := http.ListenAndServe(*addr, mux); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

// sample places cycle through a few well-known Turkish regions, plus one
// far-away event so region filtering can be observed.
var samples = []struct {
	lat, lon, mag, depth float64
	province, location   string
}{
	{38.42, 27.14, 4.3, 10, "Izmir", "WESTERN TURKEY"},
	{37.17, 37.03, 5.1, 17.5, "Gaziantep", "CENTRAL TURKEY"},
	{40.76, 29.92, 3.4, 7, "Kocaeli", "WESTERN TURKEY"},
	{35.68, 139.69, 6.0, 40, "", "NEAR EAST COAST OF HONSHU, JAPAN"},
}

type fakeFeed struct {
	interval time.Duration
	token    string
	log      zerolog.Logger
	now      func() time.Time
	seq      atomic.Int64
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	latest map[string]any
}

func newFakeFeed(interval time.Duration, token string, logger zerolog.Logger) *fakeFeed {
	return &fakeFeed{
		interval: interval,
		token:    token,
		log:      logger,
		now:      time.Now,
		upgrader: websocket.Upgrader{
			Subprotocols: []string{"bearer"},
			CheckOrigin:  func(*http.Request) bool { return true },
		},
	}
}

// next builds the next sample alert in the custom backend shape.
func (f *fakeFeed) next() map[string]any {
	n := f.seq.Add(1)
	s := samples[(n-1)%int64(len(samples))]
	item := map[string]any{
		"id":         "fake-" + f.now().UTC().Format("20060102") + "-" + strconv.FormatInt(n, 10),
		"event_time": timestamp.Format(f.now()),
		"magnitude":  s.mag,
		"latitude":   s.lat,
		"longitude":  s.lon,
		"depth":      s.depth,
		"magtype":    "ml",
		"location":   s.location,
	}
	if s.province != "" {
		item["province"] = s.province
	}

	f.mu.Lock()
	f.latest = item
	f.mu.Unlock()
	return item
}

func (f *fakeFeed) authorized(r *http.Request) bool {
	if f.token == "" {
		return true
	}
	protocols := websocket.Subprotocols(r)
	return len(protocols) == 2 && protocols[0] == "bearer" && protocols[1] == f.token
}

type inbound struct {
	Type          string `json:"type"`
	Topic         string `json:"topic"`
	ID            string `json:"id"`
	TS            int64  `json:"ts"`
	AfterID       string `json:"after_id"`
	T             int64  `json:"t"`
	Authorization string `json:"authorization"`
}

func (f *fakeFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.Warn().Err(err).Msg("upgrade failed")
		return
	}
	defer conn.Close()
	f.log.Info().Str("remote", r.RemoteAddr).Msg("client connected")

	var writeMu sync.Mutex
	send := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	subscribed := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		var once sync.Once
		for {
			var msg inbound
			if err := conn.ReadJSON(&msg); err != nil {
				f.log.Info().Err(err).Msg("client disconnected")
				return
			}
			switch msg.Type {
			case "auth":
				f.log.Debug().Bool("bearer", strings.HasPrefix(msg.Authorization, "Bearer ")).Msg("auth frame")
			case "subscribe":
				f.log.Info().Str("topic", msg.Topic).Str("id", msg.ID).Int64("ts", msg.TS).Str("after_id", msg.AfterID).Msg("subscribed")
				once.Do(func() { close(subscribed) })
			case "ping":
				if err := send(map[string]any{"type": "pong", "t": msg.T}); err != nil {
					return
				}
			default:
				f.log.Debug().Str("type", msg.Type).Msg("ignored frame")
			}
		}
	}()

	select {
	case <-subscribed:
	case <-done:
		return
	}

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			item := f.next()
			f.log.Info().Interface("id", item["id"]).Interface("magnitude", item["magnitude"]).Msg("emitting alert")
			if err := send(map[string]any{"type": "event", "event": "earthquake_alert", "payload": item}); err != nil {
				return
			}
		}
	}
}

// serveLatest answers snapshot requests with the last emitted alert in the
// push-channel shape, or 204 before the first one.
func (f *fakeFeed) serveLatest(w http.ResponseWriter, r *http.Request) {
	f.mu.RLock()
	item := f.latest
	f.mu.RUnlock()

	if item == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"unid":         item["id"],
		"time":         item["event_time"],
		"lat":          item["latitude"],
		"lon":          item["longitude"],
		"mag":          item["magnitude"],
		"depth":        item["depth"],
		"magtype":      item["magtype"],
		"flynn_region": item["location"],
		"province":     item["province"],
	})
}
