package source

import "github.com/otiai10/quakecast/internal/quake"

// Status represents the connector's view of the upstream link
type Status string

const (
	StatusOpen   Status = "open"
	StatusLost   Status = "lost"
	StatusClosed Status = "closed"
)

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusLost, StatusClosed:
		return true
	}
	return false
}

// EventFunc receives accepted, de-duplicated events
type EventFunc func(quake.Event)

// StatusFunc receives connection status transitions
type StatusFunc func(Status)

// Source represents a running feed connection
type Source interface {
	// Stop ends the connection. It is safe to call more than once.
	Stop()
}
