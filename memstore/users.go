package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"gear_checkout/lifecycle"
	"gear_checkout/models"
)

func (s *Store) GetUser(_ context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, lifecycle.ErrRecordNotFound
	}
	return &u, nil
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, lifecycle.ErrRecordNotFound
}

func (s *Store) CreateUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cur := range s.users {
		if cur.ID == u.ID || strings.EqualFold(cur.Email, u.Email) {
			return fmt.Errorf("user %s: %w", u.Email, lifecycle.ErrDuplicate)
		}
	}
	now := s.now()
	u.CreatedAt, u.UpdatedAt = now, now
	s.users[u.ID] = *u
	return nil
}

func (s *Store) ListUsers(_ context.Context, q string, page, size int) ([]models.User, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	page, size = normalizePage(page, size)
	q = strings.ToLower(strings.TrimSpace(q))
	var all []models.User
	for _, u := range s.users {
		if q != "" && !strings.Contains(strings.ToLower(u.Email), q) && !strings.Contains(strings.ToLower(u.DisplayName), q) {
			continue
		}
		all = append(all, u)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Email < all[j].Email })
	total := int64(len(all))
	start := (page - 1) * size
	if start >= len(all) {
		return []models.User{}, total, nil
	}
	end := min(start+size, len(all))
	return all[start:end], total, nil
}

func (s *Store) SetUserRole(_ context.Context, id string, role models.Role) error {
	return s.updateUser(id, func(u *models.User) { u.Role = role })
}

func (s *Store) SetUserActive(_ context.Context, id string, active bool) error {
	return s.updateUser(id, func(u *models.User) { u.Active = active })
}

func (s *Store) TouchUserSeen(_ context.Context, id string) error {
	return s.updateUser(id, func(u *models.User) {
		now := s.now()
		u.LastSeenAt = &now
	})
}

func (s *Store) CountAdmins(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, u := range s.users {
		if u.Role == models.RoleAdmin && u.Active {
			n++
		}
	}
	return n, nil
}

func (s *Store) updateUser(id string, fn func(*models.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return lifecycle.ErrRecordNotFound
	}
	fn(&u)
	u.UpdatedAt = s.now()
	s.users[id] = u
	return nil
}

func normalizePage(page, size int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return page, size
}
