// Package session keeps multi-turn agent conversations alive across HTTP
// requests. Each user owns at most one session; idle sessions are reaped in
// the background.
package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/actionsync/backend/internal/service/agent"
)

var ErrNotFound = errors.New("session not found")

// Session binds an open agent handle to its owner and activity metadata.
type Session struct {
	ID        string
	UserID    string
	Handle    agent.Handle
	CreatedAt time.Time

	// Guarded by the owning Manager's mutex.
	lastActivity time.Time
	isProcessing bool
}

// StartFunc opens the engine handle for a new session.
type StartFunc func(ctx context.Context) (agent.Handle, error)

// Manager is the session store. All operations are safe for concurrent use.
type Manager struct {
	mu           sync.Mutex
	sessions     map[string]*Session
	userSessions map[string]string

	// Serializes Create so "one session per user" holds even when a user
	// fires two new-conversation requests at once.
	createMu sync.Mutex

	idleTimeout  time.Duration
	reapInterval time.Duration

	reapOnce sync.Once
	stopOnce sync.Once
	started  bool
	stop     chan struct{}
	done     chan struct{}
}

// NewManager builds a store with the given idle timeout and reap interval.
func NewManager(idleTimeout, reapInterval time.Duration) *Manager {
	return &Manager{
		sessions:     make(map[string]*Session),
		userSessions: make(map[string]string),
		idleTimeout:  idleTimeout,
		reapInterval: reapInterval,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start launches the background reaper. Calling it twice is a no-op.
func (m *Manager) Start() {
	m.reapOnce.Do(func() {
		m.mu.Lock()
		m.started = true
		m.mu.Unlock()
		go m.reapLoop()
	})
}

func (m *Manager) reapLoop() {
	defer close(m.done)
	ticker := time.NewTicker(m.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.reapExpired(time.Now())
		}
	}
}

// reapExpired closes every session idle past the timeout. Sessions mid-turn
// are never reaped regardless of age.
func (m *Manager) reapExpired(now time.Time) {
	m.mu.Lock()
	var expired []string
	for id, s := range m.sessions {
		if now.Sub(s.lastActivity) > m.idleTimeout && !s.isProcessing {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		log.Printf("[session] reaping expired session %s", id)
		m.Close(id)
	}
}

// Create opens a new session for the user, closing any session the user
// already holds first. If the engine start fails no session is recorded and
// the user is left without one; the next ask starts fresh.
func (m *Manager) Create(ctx context.Context, userID string, start StartFunc) (*Session, error) {
	m.createMu.Lock()
	defer m.createMu.Unlock()

	m.mu.Lock()
	existing, hasExisting := m.userSessions[userID]
	m.mu.Unlock()
	if hasExisting {
		m.Close(existing)
	}

	handle, err := start(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	s := &Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		Handle:       handle,
		CreatedAt:    now,
		lastActivity: now,
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.userSessions[userID] = s.ID
	m.mu.Unlock()

	log.Printf("[session] created session %s for user %s", s.ID, userID)
	return s, nil
}

// Get returns the session and bumps its activity timestamp.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	s.lastActivity = time.Now()
	return s, true
}

// GetUserSession returns the user's active session, if any.
func (m *Manager) GetUserSession(userID string) (*Session, bool) {
	m.mu.Lock()
	id, ok := m.userSessions[userID]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	return m.Get(id)
}

// SetProcessing flags a session as mid-turn, shielding it from the reaper.
// Returns false if the session no longer exists.
func (m *Manager) SetProcessing(id string, processing bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return false
	}
	s.isProcessing = processing
	if processing {
		s.lastActivity = time.Now()
	}
	return true
}

// Close removes the session and releases its engine handle. The store entry
// is removed even if the handle refuses to close; a stuck handle must not
// leak the user's session slot.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, id)
	if m.userSessions[s.UserID] == id {
		delete(m.userSessions, s.UserID)
	}
	m.mu.Unlock()

	if err := s.Handle.Close(); err != nil {
		log.Printf("[session] error closing session %s: %v", id, err)
	}
	log.Printf("[session] closed session %s", id)
}

// CloseUserSession closes the session owned by the user, if any.
func (m *Manager) CloseUserSession(userID string) {
	m.mu.Lock()
	id, ok := m.userSessions[userID]
	m.mu.Unlock()
	if ok {
		m.Close(id)
	}
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown stops the reaper and closes every remaining session, idle or not.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if started {
		<-m.done
	}

	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Close(id)
	}
}
