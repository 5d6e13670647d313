package connection

import (
	"log"
	"sync"

	"github.com/actionsync/backend/internal/model/event"
)

// Conn is one live client connection capable of receiving events. WebSocket
// and SSE transports both satisfy it.
type Conn interface {
	Send(ev event.Event) error
}

// Manager tracks the open connections of each user and fans events out to
// them. A user may hold several connections at once (multiple tabs); a
// connection that fails to receive is dropped from the registry.
type Manager struct {
	mu      sync.RWMutex
	buckets map[string][]Conn
}

// NewManager returns an empty registry.
func NewManager() *Manager {
	return &Manager{buckets: make(map[string][]Conn)}
}

// Register adds a connection under the user's bucket.
func (m *Manager) Register(userID string, c Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.buckets[userID] = append(m.buckets[userID], c)
	log.Printf("[connections] registered user=%s total=%d", userID, len(m.buckets[userID]))
}

// Unregister removes a connection if present. Removing a connection twice is
// a no-op; the user's bucket is deleted once empty.
func (m *Manager) Unregister(userID string, c Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conns, ok := m.buckets[userID]
	if !ok {
		return
	}
	for i, existing := range conns {
		if existing == c {
			m.buckets[userID] = append(conns[:i:i], conns[i+1:]...)
			break
		}
	}
	if len(m.buckets[userID]) == 0 {
		delete(m.buckets, userID)
	}
}

// Broadcast delivers ev to every connection currently registered for the
// user. A failing connection never blocks its siblings; failed connections
// are unregistered after the pass. Broadcasting to a user with no
// connections is a silent no-op.
func (m *Manager) Broadcast(userID string, ev event.Event) {
	m.mu.RLock()
	conns := append([]Conn(nil), m.buckets[userID]...)
	m.mu.RUnlock()

	var dead []Conn
	for _, c := range conns {
		if err := c.Send(ev); err != nil {
			log.Printf("[connections] dropping dead connection user=%s: %v", userID, err)
			dead = append(dead, c)
		}
	}
	for _, c := range dead {
		m.Unregister(userID, c)
	}
}

// Sink returns an event sink bound to the user, suitable for handing to a
// background job.
func (m *Manager) Sink(userID string) event.Sink {
	return func(ev event.Event) {
		m.Broadcast(userID, ev)
	}
}

// Count reports the number of live connections for a user.
func (m *Manager) Count(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.buckets[userID])
}
