package lastseen

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// saveTimeout bounds a single backend write.
const saveTimeout = 10 * time.Second

// Backend is durable storage for the last-seen id.
type Backend interface {
	// Load returns the stored id, or "" with a nil error when none exists.
	Load(ctx context.Context) (string, error)
	// Save replaces the stored id.
	Save(ctx context.Context, id string) error
	// Close releases the backend.
	Close() error
}

// Persistent is a Store backed by a Backend.
// Reads are served from memory; writes are applied in memory immediately and
// flushed to the backend by a background goroutine, so Set never blocks on I/O.
type Persistent struct {
	mem     Memory
	backend Backend
	log     zerolog.Logger

	pending   chan string
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

var _ Store = (*Persistent)(nil)

// Open loads the stored id from backend and starts the write-behind loop.
// A failed load is logged and the store starts empty.
func Open(ctx context.Context, backend Backend, logger zerolog.Logger) *Persistent {
	p := &Persistent{
		backend: backend,
		log:     logger,
		pending: make(chan string, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	id, err := backend.Load(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("last-seen store unavailable, starting empty")
	} else {
		p.mem.Set(id)
	}

	go p.writeLoop()
	return p
}

// Get implements Store.
func (p *Persistent) Get() string {
	return p.mem.Get()
}

// Set implements Store. Only the latest pending id is written; intermediate
// values queued while a save is in flight are dropped.
func (p *Persistent) Set(id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	p.mem.Set(id)

	for {
		select {
		case p.pending <- id:
			return
		default:
		}
		select {
		case <-p.pending:
		default:
		}
	}
}

// Close flushes the pending write, stops the loop and closes the backend.
func (p *Persistent) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		<-p.stopped
		err = p.backend.Close()
	})
	return err
}

func (p *Persistent) writeLoop() {
	defer close(p.stopped)
	for {
		select {
		case id := <-p.pending:
			p.save(id)
		case <-p.done:
			select {
			case id := <-p.pending:
				p.save(id)
			default:
			}
			return
		}
	}
}

func (p *Persistent) save(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := p.backend.Save(ctx, id); err != nil {
		p.log.Warn().Err(err).Str("event_id", id).Msg("failed to persist last-seen id")
	}
}
