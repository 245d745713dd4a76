// Package lastseen keeps the id of the most recently accepted event so that
// replays can be suppressed across reconnects and restarts.
//
// Every Store degrades instead of failing: reads return "" when nothing is
// known and writes never block or return errors.
package lastseen

import (
	"strings"
	"sync"
)

// Store holds a single last-seen event id.
type Store interface {
	// Get returns the stored id, or "" when none is known.
	Get() string
	// Set records id. Blank ids are ignored.
	Set(id string)
}

// Memory is a process-local Store.
type Memory struct {
	mu sync.RWMutex
	id string
}

// NewMemory returns an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{}
}

// Get implements Store.
func (m *Memory) Get() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.id
}

// Set implements Store.
func (m *Memory) Set(id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	m.mu.Lock()
	m.id = id
	m.mu.Unlock()
}

type unavailable struct{}

func (unavailable) Get() string { return "" }
func (unavailable) Set(string)  {}

// Unavailable returns the degraded Store used when no storage exists:
// it is always empty and drops writes.
func Unavailable() Store {
	return unavailable{}
}
