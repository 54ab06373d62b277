// Package session issues opaque bearer tokens and resolves them back to a
// user and role.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gear_checkout/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNoSession is returned for unknown, expired or revoked tokens.
var ErrNoSession = errors.New("session not found")

type AppSession struct {
	UserID    string      `json:"uid"`
	Role      models.Role `json:"role"`
	IssuedAt  int64       `json:"iat"`
	ExpiresAt int64       `json:"exp"`
}

// Store keeps sessions keyed by token.
type Store interface {
	Create(ctx context.Context, userID string, role models.Role) (token string, s *AppSession, err error)
	Get(ctx context.Context, token string) (*AppSession, error)
	Delete(ctx context.Context, token string) error
	RevokeAllForUser(ctx context.Context, userID string) error
	TTL() time.Duration
}

type AppSessionStore struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ Store = (*AppSessionStore)(nil)

func NewAppSessionStore(rdb *redis.Client, ttl time.Duration) *AppSessionStore {
	return &AppSessionStore{rdb: rdb, ttl: ttl}
}

func key(id string) string         { return fmt.Sprintf("gear:sess:%s", id) }
func userSetKey(uid string) string { return fmt.Sprintf("gear:user_sessions:%s", uid) }

func (s *AppSessionStore) TTL() time.Duration { return s.ttl }

func (s *AppSessionStore) Create(ctx context.Context, userID string, role models.Role) (string, *AppSession, error) {
	id := uuid.NewString()
	as := newSession(userID, role, s.ttl)
	b, err := json.Marshal(as)
	if err != nil {
		return "", nil, err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, key(id), b, s.ttl)
	pipe.SAdd(ctx, userSetKey(userID), id)
	pipe.Expire(ctx, userSetKey(userID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", nil, err
	}
	return id, as, nil
}

func (s *AppSessionStore) Get(ctx context.Context, id string) (*AppSession, error) {
	b, err := s.rdb.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}
	var as AppSession
	if err := json.Unmarshal(b, &as); err != nil {
		return nil, err
	}
	return &as, nil
}

func (s *AppSessionStore) Delete(ctx context.Context, id string) error {
	as, _ := s.Get(ctx, id) // already gone is fine
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, key(id))
	if as != nil {
		pipe.SRem(ctx, userSetKey(as.UserID), id)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// RevokeAllForUser drops every session of a user, e.g. on deactivation.
func (s *AppSessionStore) RevokeAllForUser(ctx context.Context, userID string) error {
	ids, err := s.rdb.SMembers(ctx, userSetKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	pipe := s.rdb.TxPipeline()
	for _, sid := range ids {
		pipe.Del(ctx, key(sid))
	}
	pipe.Del(ctx, userSetKey(userID))
	_, err = pipe.Exec(ctx)
	return err
}

func newSession(userID string, role models.Role, ttl time.Duration) *AppSession {
	now := time.Now()
	return &AppSession{
		UserID:    userID,
		Role:      role,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
}
