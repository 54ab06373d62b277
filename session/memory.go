package session

import (
	"context"
	"sync"
	"time"

	"gear_checkout/models"

	"github.com/google/uuid"
)

// MemoryStore keeps sessions in process. Used with STORE_DRIVER=memory and
// in handler tests.
type MemoryStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]AppSession
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, sessions: map[string]AppSession{}, now: time.Now}
}

func (m *MemoryStore) TTL() time.Duration { return m.ttl }

func (m *MemoryStore) Create(_ context.Context, userID string, role models.Role) (string, *AppSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	as := newSession(userID, role, m.ttl)
	m.sessions[id] = *as
	return id, as, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*AppSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	as, ok := m.sessions[id]
	if !ok {
		return nil, ErrNoSession
	}
	if m.now().Unix() >= as.ExpiresAt {
		delete(m.sessions, id)
		return nil, ErrNoSession
	}
	return &as, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) RevokeAllForUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, as := range m.sessions {
		if as.UserID == userID {
			delete(m.sessions, id)
		}
	}
	return nil
}
