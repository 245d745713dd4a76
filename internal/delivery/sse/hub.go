// Package sse pushes overlay messages to browsers over server-sent events.
//
// Every attached overlay page gets its own buffered channel. A page that
// cannot keep up loses messages; it never slows down the feed.
package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/otiai10/quakecast/internal/metrics"
)

// Message names understood by the overlay.
const (
	EventSettings   = "settings"
	EventStatus     = "status"
	EventEarthquake = "earthquake"
	EventPing       = "ping"
)

const (
	defaultBufferSize   = 32
	defaultPingInterval = 25 * time.Second
)

// Frame is one encoded server-sent event.
type Frame struct {
	Name string
	ID   string
	Data string
}

// NewFrame encodes v as the frame payload. Strings are sent verbatim,
// anything else as JSON.
func NewFrame(name, id string, v any) (Frame, error) {
	f := Frame{Name: name, ID: id}
	switch d := v.(type) {
	case string:
		f.Data = d
	case []byte:
		f.Data = string(d)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return Frame{}, fmt.Errorf("failed to encode %s frame: %w", name, err)
		}
		f.Data = string(data)
	}
	return f, nil
}

// WriteTo writes f in text/event-stream framing. An id or name containing a
// line break or NUL is left out, and carriage returns in the data are
// treated as line breaks.
func (f Frame) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	if f.ID != "" && singleLine(f.ID) {
		b.WriteString("id: ")
		b.WriteString(f.ID)
		b.WriteByte('\n')
	}
	if f.Name != "" && singleLine(f.Name) {
		b.WriteString("event: ")
		b.WriteString(f.Name)
		b.WriteByte('\n')
	}
	data := strings.ReplaceAll(f.Data, "\r\n", "\n")
	data = strings.ReplaceAll(data, "\r", "\n")
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

func singleLine(s string) bool {
	return !strings.ContainsAny(s, "\r\n\x00")
}

// Hub fans frames out to attached overlay pages. It is safe for concurrent use.
type Hub struct {
	mu      sync.RWMutex
	clients map[uint64]chan Frame
	nextID  uint64
	closed  bool

	initial      func() []Frame
	bufSize      int
	pingInterval time.Duration
	log          zerolog.Logger
	now          func() time.Time
}

// NewHub creates a hub. initial, when non-nil, supplies the frames every new
// page receives before live traffic.
func NewHub(initial func() []Frame, logger zerolog.Logger) *Hub {
	return &Hub{
		clients:      make(map[uint64]chan Frame),
		initial:      initial,
		bufSize:      defaultBufferSize,
		pingInterval: defaultPingInterval,
		log:          logger,
		now:          time.Now,
	}
}

// Register attaches a listener and returns its id and receive channel.
// Callers must Unregister the id when done.
func (h *Hub) Register() (uint64, <-chan Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Frame, h.bufSize)
	if h.closed {
		close(ch)
		return id, ch
	}
	h.clients[id] = ch
	metrics.OverlayClients.Set(float64(len(h.clients)))
	return id, ch
}

// Unregister detaches a listener and closes its channel. Unknown ids are ignored.
func (h *Hub) Unregister(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.clients[id]; ok {
		delete(h.clients, id)
		close(ch)
		metrics.OverlayClients.Set(float64(len(h.clients)))
	}
}

// Broadcast delivers f to every listener, dropping it for listeners whose
// buffer is full.
func (h *Hub) Broadcast(f Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.clients {
		select {
		case ch <- f:
		default:
			h.log.Debug().Uint64("client", id).Str("event", f.Name).Msg("overlay client too slow, frame dropped")
		}
	}
}

// Publish encodes v and broadcasts it.
func (h *Hub) Publish(name, id string, v any) error {
	f, err := NewFrame(name, id, v)
	if err != nil {
		return err
	}
	h.Broadcast(f)
	return nil
}

// Size returns the number of attached listeners.
func (h *Hub) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close detaches every listener. Streams in progress end and new ones end
// immediately after their initial frames.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for id, ch := range h.clients {
		delete(h.clients, id)
		close(ch)
	}
	metrics.OverlayClients.Set(0)
}

// ServeHTTP streams frames to one overlay page until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	id, frames := h.Register()
	defer h.Unregister(id)
	h.log.Debug().Uint64("client", id).Str("remote", r.RemoteAddr).Msg("overlay attached")

	if h.initial != nil {
		for _, f := range h.initial() {
			if _, err := f.WriteTo(w); err != nil {
				return
			}
		}
	}
	flusher.Flush()

	ping := time.NewTicker(h.pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.log.Debug().Uint64("client", id).Msg("overlay detached")
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			if _, err := f.WriteTo(w); err != nil {
				return
			}
			flusher.Flush()
		case <-ping.C:
			f := Frame{Name: EventPing, Data: strconv.FormatInt(h.now().UnixMilli(), 10)}
			if _, err := f.WriteTo(w); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
