package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	// ErrSessionNotFound is returned for an unknown or expired session ID.
	ErrSessionNotFound = errors.New("registry: session not found")

	// ErrSessionExists is returned when registering an ID twice.
	ErrSessionExists = errors.New("registry: session already registered")
)

// Registry publishes the sessions a host has open so other hosts and
// operators can see them.
type Registry interface {
	Register(ctx context.Context, session *Session) error
	Unregister(ctx context.Context, sessionID string) error
	Get(ctx context.Context, sessionID string) (*Session, error)
	List(ctx context.Context) ([]*Session, error)

	// Heartbeat refreshes the record's expiry without changing it.
	Heartbeat(ctx context.Context, sessionID string) error

	// UpdateState changes the lifecycle state.
	UpdateState(ctx context.Context, sessionID string, state SessionState) error

	// UpdateStatus replaces the playback status.
	UpdateStatus(ctx context.Context, sessionID string, status Status) error

	Close() error
}

// MemoryRegistry keeps session records in process. It is used when no
// shared registry is configured.
type MemoryRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

func (m *MemoryRegistry) Register(ctx context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[session.ID]; exists {
		return ErrSessionExists
	}
	rec := session.clone()
	now := m.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.LastHeartbeat = now
	m.sessions[rec.ID] = rec
	return nil
}

func (m *MemoryRegistry) Unregister(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[sessionID]; !exists {
		return ErrSessionNotFound
	}
	delete(m.sessions, sessionID)
	return nil
}

func (m *MemoryRegistry) Get(ctx context.Context, sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, exists := m.sessions[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}
	return rec.clone(), nil
}

// List returns sessions ordered by creation time.
func (m *MemoryRegistry) List(ctx context.Context) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, rec := range m.sessions {
		out = append(out, rec.clone())
	}
	sortSessions(out)
	return out, nil
}

func (m *MemoryRegistry) Heartbeat(ctx context.Context, sessionID string) error {
	return m.update(sessionID, func(*Session) {})
}

func (m *MemoryRegistry) UpdateState(ctx context.Context, sessionID string, state SessionState) error {
	return m.update(sessionID, func(s *Session) { s.State = state })
}

func (m *MemoryRegistry) UpdateStatus(ctx context.Context, sessionID string, status Status) error {
	return m.update(sessionID, func(s *Session) { s.Status = status })
}

func (m *MemoryRegistry) update(sessionID string, fn func(*Session)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, exists := m.sessions[sessionID]
	if !exists {
		return ErrSessionNotFound
	}
	fn(rec)
	rec.LastHeartbeat = m.now()
	return nil
}

func (m *MemoryRegistry) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]*Session)
	return nil
}

func sortSessions(s []*Session) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].CreatedAt.Equal(s[j].CreatedAt) {
			return s[i].ID < s[j].ID
		}
		return s[i].CreatedAt.Before(s[j].CreatedAt)
	})
}
