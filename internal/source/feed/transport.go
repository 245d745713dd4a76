package feed

import (
	"context"

	"github.com/otiai10/quakecast/internal/quake"
)

// link is one live upstream connection.
//
// A reader goroutine owned by the link pushes inbound payloads to Messages
// and closes the channel when the connection ends; Err then reports why.
// Send and Close are only called from the connector's loop goroutine.
type link interface {
	Send(v any) error
	Messages() <-chan []byte
	Err() error
	Close() error
	// Decode turns one inbound payload into candidate events.
	Decode(data []byte) (events []quake.Event, recognized bool)
}

// dialer opens a link to endpoint. lastID is the current last-seen id.
type dialer func(ctx context.Context, endpoint, lastID string) (link, error)
