package feed

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/net/http/httpguts"

	"github.com/otiai10/quakecast/internal/quake"
)

// maxEventSize bounds a single server-sent event line.
const maxEventSize = 1 << 20

type sseLink struct {
	body      io.ReadCloser
	cancel    context.CancelFunc
	release   func() bool
	msgs      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	err       error
}

// dialSSE returns a dialer for the server-push transport. The bearer token
// travels in the Authorization header and the last-seen id in Last-Event-ID.
func dialSSE(client *http.Client, bearer string) dialer {
	return func(ctx context.Context, endpoint, lastID string) (link, error) {
		streamCtx, cancel := context.WithCancel(context.Background())
		stop := context.AfterFunc(ctx, cancel)

		req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, endpoint, nil)
		if err != nil {
			stop()
			cancel()
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Cache-Control", "no-cache")
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		if lastID != "" && httpguts.ValidHeaderFieldValue(lastID) {
			req.Header.Set("Last-Event-ID", lastID)
		}

		resp, err := client.Do(req)
		if err != nil {
			stop()
			cancel()
			return nil, fmt.Errorf("failed to connect: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			stop()
			cancel()
			return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
		}

		l := &sseLink{
			body:    resp.Body,
			cancel:  cancel,
			release: stop,
			msgs:    make(chan []byte),
			closed:  make(chan struct{}),
		}
		go l.readLoop()
		return l, nil
	}
}

// Send drops the frame; the stream is one-way.
func (l *sseLink) Send(any) error { return nil }

func (l *sseLink) Messages() <-chan []byte { return l.msgs }

func (l *sseLink) Err() error { return l.err }

func (l *sseLink) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.release()
		l.cancel()
	})
	return l.body.Close()
}

func (l *sseLink) Decode(data []byte) ([]quake.Event, bool) {
	return decodePush(data)
}

// readLoop parses the event stream and forwards the data of "earthquake"
// events. Other event names, comments and retry hints are ignored.
func (l *sseLink) readLoop() {
	defer close(l.msgs)

	scanner := bufio.NewScanner(l.body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	var name string
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if name == pushEventName && len(data) > 0 {
				select {
				case l.msgs <- []byte(strings.Join(data, "\n")):
				case <-l.closed:
					l.err = net.ErrClosed
					return
				}
			}
			name, data = "", nil
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			data = append(data, value)
		}
	}

	if err := scanner.Err(); err != nil {
		l.err = err
		return
	}
	l.err = io.EOF
}
