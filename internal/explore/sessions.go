package explore

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrSessionNotFound = errors.New("session not found")

// Sessions tracks open sessions. When full, opening a session evicts the one
// idle the longest.
type Sessions struct {
	max  int
	idle time.Duration
	now  func() time.Time

	mu      sync.RWMutex
	items   map[string]*Session
	onEvict func(id string)
}

func NewSessions(limit int, idle time.Duration) *Sessions {
	return &Sessions{
		max:   limit,
		idle:  idle,
		now:   time.Now,
		items: make(map[string]*Session),
	}
}

// OnEvict registers fn to run, outside the registry lock, for every session
// evicted to make room for a new one.
func (m *Sessions) OnEvict(fn func(id string)) {
	m.mu.Lock()
	m.onEvict = fn
	m.mu.Unlock()
}

// Open starts a session on ex.
func (m *Sessions) Open(ex *Explorer) (*Session, error) {
	s, err := newSession(uuid.NewString(), ex, m.now())
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	evicted := ""
	if m.max > 0 && len(m.items) >= m.max {
		evicted = m.evictOldestLocked()
	}
	m.items[s.ID] = s
	onEvict := m.onEvict
	m.mu.Unlock()

	if evicted != "" && onEvict != nil {
		onEvict(evicted)
	}
	return s, nil
}

func (m *Sessions) evictOldestLocked() string {
	var (
		oldestID string
		oldest   time.Time
	)
	for id, s := range m.items {
		if t := s.idleSince(); oldestID == "" || t.Before(oldest) {
			oldestID, oldest = id, t
		}
	}
	if oldestID != "" {
		delete(m.items, oldestID)
		slog.Info("session evicted", "session", oldestID, "idle_since", oldest)
	}
	return oldestID
}

// Get returns a session and marks it as used.
func (m *Sessions) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.items[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.touch(m.now())
	return s, nil
}

func (m *Sessions) Close(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return ErrSessionNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *Sessions) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Reset drops every session, e.g. after the explorer is reloaded, and
// returns their ids.
func (m *Sessions) Reset() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.items))
	for id := range m.items {
		ids = append(ids, id)
	}
	m.items = make(map[string]*Session)
	return ids
}

// Sweep closes sessions idle for longer than the idle timeout and returns their ids.
func (m *Sessions) Sweep() []string {
	if m.idle <= 0 {
		return nil
	}
	cutoff := m.now().Add(-m.idle)

	m.mu.Lock()
	defer m.mu.Unlock()
	var closed []string
	for id, s := range m.items {
		if s.idleSince().Before(cutoff) {
			delete(m.items, id)
			closed = append(closed, id)
		}
	}
	return closed
}
