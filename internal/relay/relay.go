// Package relay bridges a browser WebSocket to an upstream feed, passing
// messages through untouched in both directions.
package relay

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/otiai10/quakecast/internal/metrics"
	"github.com/otiai10/quakecast/internal/security"
)

// ErrNoTarget means neither the request nor the configuration names an upstream.
var ErrNoTarget = errors.New("missing upstream ws target")

const (
	defaultDialTimeout = 10 * time.Second
	closeWriteTimeout  = time.Second
	maxCloseReason     = 123
)

// Config controls target selection.
type Config struct {
	// Upstream is the default target.
	Upstream string
	// AllowQueryTarget lets ?target= override Upstream.
	AllowQueryTarget bool
	// AllowLocal permits loopback query targets.
	AllowLocal bool
	// DialTimeout bounds the upstream handshake.
	DialTimeout time.Duration
}

// Handler is the relay endpoint.
type Handler struct {
	cfg      Config
	upgrader websocket.Upgrader
	dialer   *websocket.Dialer
	log      zerolog.Logger
}

// NewHandler creates a relay handler.
func NewHandler(cfg Config, logger zerolog.Logger) *Handler {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	return &Handler{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			// The overlay may be served from any origin, e.g. a streaming tool's browser source.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.DialTimeout,
		},
		log: logger,
	}
}

// target resolves the upstream URL for r.
func (h *Handler) target(r *http.Request) (string, error) {
	if h.cfg.AllowQueryTarget {
		if q := strings.TrimSpace(r.URL.Query().Get("target")); q != "" {
			if err := security.ValidateRelayTarget(q, h.cfg.AllowLocal); err != nil {
				return "", err
			}
			return q, nil
		}
	}
	if t := strings.TrimSpace(h.cfg.Upstream); t != "" {
		return t, nil
	}
	return "", ErrNoTarget
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "Expected WebSocket upgrade", http.StatusBadRequest)
		return
	}

	target, err := h.target(r)
	switch {
	case errors.Is(err, ErrNoTarget):
		http.Error(w, "Missing upstream ws target", http.StatusInternalServerError)
		return
	case err != nil:
		http.Error(w, "Invalid upstream ws target: "+err.Error(), http.StatusBadRequest)
		return
	}

	log := h.log.With().Str("target", target).Str("remote", r.RemoteAddr).Logger()

	dialer := *h.dialer
	dialer.Subprotocols = websocket.Subprotocols(r)
	upstream, _, dialErr := dialer.DialContext(r.Context(), target, nil)

	var header http.Header
	if dialErr == nil && upstream.Subprotocol() != "" {
		header = http.Header{"Sec-Websocket-Protocol": {upstream.Subprotocol()}}
	}
	client, err := h.upgrader.Upgrade(w, r, header)
	if err != nil {
		log.Debug().Err(err).Msg("relay upgrade failed")
		if upstream != nil {
			upstream.Close()
		}
		return
	}

	if dialErr != nil {
		log.Warn().Err(dialErr).Msg("relay upstream connect failed")
		closeWith(client, websocket.CloseInternalServerErr, "Upstream connect failed")
		return
	}

	metrics.RelaySessions.Inc()
	defer metrics.RelaySessions.Dec()
	log.Info().Str("subprotocol", upstream.Subprotocol()).Msg("relay session started")

	s := &session{client: client, upstream: upstream}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.pump(client, upstream, "Client")
	}()
	go func() {
		defer wg.Done()
		s.pump(upstream, client, "Upstream")
	}()
	wg.Wait()

	log.Info().Int("code", s.code).Str("reason", s.reason).Msg("relay session ended")
}

// session is one client/upstream pair.
type session struct {
	client   *websocket.Conn
	upstream *websocket.Conn

	once   sync.Once
	code   int
	reason string
}

// pump copies messages from src to dst until either side fails, then
// closes both.
func (s *session) pump(src, dst *websocket.Conn, side string) {
	for {
		mt, data, err := src.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				s.closeBoth(mirrorCode(ce.Code), orDefault(ce.Text, side+" closed"))
			} else {
				s.closeBoth(websocket.CloseInternalServerErr, side+" error")
			}
			return
		}
		if err := dst.WriteMessage(mt, data); err != nil {
			s.closeBoth(websocket.CloseInternalServerErr, "Relay failed")
			return
		}
	}
}

func (s *session) closeBoth(code int, reason string) {
	s.once.Do(func() {
		s.code, s.reason = code, reason
		closeWith(s.client, code, reason)
		closeWith(s.upstream, code, reason)
	})
}

// mirrorCode maps close codes that cannot be sent on the wire.
func mirrorCode(code int) int {
	switch code {
	case websocket.CloseNoStatusReceived:
		return websocket.CloseNormalClosure
	case websocket.CloseAbnormalClosure, websocket.CloseTLSHandshake:
		return websocket.CloseInternalServerErr
	default:
		return code
	}
}

func closeWith(c *websocket.Conn, code int, reason string) {
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}
	_ = c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(closeWriteTimeout))
	_ = c.Close()
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
