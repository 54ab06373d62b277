package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/redis/go-redis/v9"
)

// ErrNoCeremony is returned when a passkey ceremony was never begun or has
// timed out.
var ErrNoCeremony = errors.New("passkey ceremony not found")

// Ceremonies holds the WebAuthn challenge state between the begin and finish
// calls of a registration or login.
type Ceremonies interface {
	Save(ctx context.Context, key string, sd *webauthn.SessionData) error
	Load(ctx context.Context, key string) (*webauthn.SessionData, error)
	Delete(ctx context.Context, key string)
}

func RegByInviteKey(token string) string { return "reg:inv:" + token }
func RegByUserKey(userID string) string  { return "reg:user:" + userID }
func AuthKey(sid string) string          { return "auth:" + sid }

type RedisCeremonies struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ Ceremonies = (*RedisCeremonies)(nil)

func NewRedisCeremonies(rdb *redis.Client, ttl time.Duration) *RedisCeremonies {
	return &RedisCeremonies{rdb: rdb, ttl: ttl}
}

func ceremonyKey(key string) string { return "gear:webauthn:" + key }

func (s *RedisCeremonies) Save(ctx context.Context, key string, sd *webauthn.SessionData) error {
	b, err := json.Marshal(sd)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, ceremonyKey(key), b, s.ttl).Err()
}

func (s *RedisCeremonies) Load(ctx context.Context, key string) (*webauthn.SessionData, error) {
	b, err := s.rdb.Get(ctx, ceremonyKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoCeremony
	}
	if err != nil {
		return nil, err
	}
	var sd webauthn.SessionData
	if err := json.Unmarshal(b, &sd); err != nil {
		return nil, err
	}
	return &sd, nil
}

func (s *RedisCeremonies) Delete(ctx context.Context, key string) {
	_ = s.rdb.Del(ctx, ceremonyKey(key)).Err()
}

type memCeremony struct {
	data    webauthn.SessionData
	expires time.Time
}

// MemoryCeremonies is the in-process Ceremonies for STORE_DRIVER=memory.
type MemoryCeremonies struct {
	mu    sync.Mutex
	ttl   time.Duration
	items map[string]memCeremony
	now   func() time.Time
}

var _ Ceremonies = (*MemoryCeremonies)(nil)

func NewMemoryCeremonies(ttl time.Duration) *MemoryCeremonies {
	return &MemoryCeremonies{ttl: ttl, items: map[string]memCeremony{}, now: time.Now}
}

func (m *MemoryCeremonies) Save(_ context.Context, key string, sd *webauthn.SessionData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = memCeremony{data: *sd, expires: m.now().Add(m.ttl)}
	return nil
}

func (m *MemoryCeremonies) Load(_ context.Context, key string) (*webauthn.SessionData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[key]
	if !ok {
		return nil, ErrNoCeremony
	}
	if !m.now().Before(c.expires) {
		delete(m.items, key)
		return nil, ErrNoCeremony
	}
	sd := c.data
	return &sd, nil
}

func (m *MemoryCeremonies) Delete(_ context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
}
