package diagnosis

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"mai-dx-orchestrator/internal/medical"
)

// ErrSessionNotFound is the only error surfaced to callers at the pipeline
// entry points.
var ErrSessionNotFound = errors.New("session not found")

// Store keeps per-session state for the lifetime of the process. Get and
// List return snapshots and Save stores one, so readers polling a session
// never share struct memory with a pipeline that is still writing stages.
// Running two diagnosis pipelines against the same session id concurrently
// remains a caller error: the stages last-write-wins against each other.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*medical.Session, error)
	Save(ctx context.Context, s *medical.Session) error
	Delete(ctx context.Context, id uuid.UUID) bool
	List(ctx context.Context) []*medical.Session
	Clear(ctx context.Context) int
	Count(ctx context.Context) int
}

type memoryStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*medical.Session
}

func NewMemoryStore() Store {
	return &memoryStore{sessions: map[uuid.UUID]*medical.Session{}}
}

func (m *memoryStore) Get(ctx context.Context, id uuid.UUID) (*medical.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return snapshot(s), nil
}

func (m *memoryStore) Save(ctx context.Context, s *medical.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.SessionID] = snapshot(s)
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return false
	}
	delete(m.sessions, id)
	return true
}

func (m *memoryStore) List(ctx context.Context) []*medical.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sessions := make([]*medical.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, snapshot(s))
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions
}

func (m *memoryStore) Clear(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.sessions)
	m.sessions = map[uuid.UUID]*medical.Session{}
	return n
}

func (m *memoryStore) Count(ctx context.Context) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// snapshot copies the session struct itself. Pipeline stages replace fields
// wholesale and never write into stage data that has already been saved, so
// a shallow copy is enough to isolate saved state from the writer.
func snapshot(s *medical.Session) *medical.Session {
	c := *s
	return &c
}
