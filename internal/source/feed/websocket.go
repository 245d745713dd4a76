package feed

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/otiai10/quakecast/internal/quake"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
)

type wsLink struct {
	conn      *websocket.Conn
	msgs      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	err       error
}

// dialWebSocket returns a dialer for the socket transport. A bearer token is
// offered as the subprotocol pair ["bearer", token]; it never goes in the URL.
func dialWebSocket(bearer string) dialer {
	return func(ctx context.Context, endpoint, _ string) (link, error) {
		d := websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		}
		if bearer != "" {
			d.Subprotocols = []string{"bearer", bearer}
		}

		conn, _, err := d.DialContext(ctx, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to connect: %w", err)
		}

		l := &wsLink{
			conn:   conn,
			msgs:   make(chan []byte),
			closed: make(chan struct{}),
		}
		go l.readLoop()
		return l, nil
	}
}

func (l *wsLink) Send(v any) error {
	_ = l.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return l.conn.WriteJSON(v)
}

func (l *wsLink) Messages() <-chan []byte { return l.msgs }

func (l *wsLink) Err() error { return l.err }

func (l *wsLink) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = l.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = l.conn.Close()
	})
	return err
}

func (l *wsLink) Decode(data []byte) ([]quake.Event, bool) {
	return decodeEnvelope(data)
}

// readLoop forwards text and binary frames; both are read as UTF-8 JSON.
func (l *wsLink) readLoop() {
	defer close(l.msgs)
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			l.err = err
			return
		}
		select {
		case l.msgs <- data:
		case <-l.closed:
			l.err = net.ErrClosed
			return
		}
	}
}
