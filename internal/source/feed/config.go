package feed

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/otiai10/quakecast/internal/lastseen"
	"github.com/otiai10/quakecast/internal/source"
)

const (
	// TransportWebSocket is a bidirectional socket speaking the subscribe protocol.
	TransportWebSocket = "websocket"
	// TransportSSE is a one-way server-sent events stream.
	TransportSSE = "sse"

	DefaultTopic    = "earthquake_alerts"
	DefaultClientID = "obs-overlay"
)

// Config is the connection configuration supplied by the operator.
type Config struct {
	Endpoint  string
	Transport string // "websocket" (default) or "sse"
	Bearer    string

	Topic    string
	ClientID string

	// FixedSince, when non-zero, is sent as the subscribe "ts" (epoch seconds).
	FixedSince int64
	// SinceWindow, when positive and FixedSince is zero, sends now minus the window.
	SinceWindow time.Duration

	// PingInterval enables heartbeat frames when positive.
	PingInterval time.Duration

	// SnapshotURL is fetched once at start for the latest known event.
	SnapshotURL string

	// MaxSignatures bounds the delivered-signature memory. Zero means unbounded.
	MaxSignatures int
}

// Options carries the caller's callbacks and collaborators.
type Options struct {
	OnEvent          source.EventFunc
	OnStatus         source.StatusFunc
	EndpointOverride string

	// Gate must report true before the connector dials. Nil means always open.
	Gate func() bool

	// Store holds the last accepted id. Nil means lastseen.Unavailable().
	Store lastseen.Store

	Logger *zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.Transport == "" {
		c.Transport = TransportWebSocket
	}
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	if c.ClientID == "" {
		c.ClientID = DefaultClientID
	}
	return c
}
