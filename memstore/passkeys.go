package memstore

import (
	"bytes"
	"context"
	"fmt"
	"slices"

	"gear_checkout/lifecycle"
	"gear_checkout/models"
)

func (s *Store) CreateInvite(_ context.Context, inv *models.Invite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invites[inv.Token]; ok {
		return fmt.Errorf("invite: %w", lifecycle.ErrDuplicate)
	}
	now := s.now()
	inv.ID = uint(len(s.invites) + 1)
	inv.CreatedAt, inv.UpdatedAt = now, now
	s.invites[inv.Token] = *inv
	return nil
}

func (s *Store) GetInvite(_ context.Context, token string) (*models.Invite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invites[token]
	if !ok {
		return nil, lifecycle.ErrRecordNotFound
	}
	return &inv, nil
}

func (s *Store) MarkInviteUsed(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invites[token]
	if !ok {
		return lifecycle.ErrRecordNotFound
	}
	if inv.UsedAt != nil {
		return lifecycle.ErrStaleWrite
	}
	now := s.now()
	inv.UsedAt = &now
	inv.UpdatedAt = now
	s.invites[token] = inv
	return nil
}

func (s *Store) AddCredential(_ context.Context, c *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cur := range s.credentials {
		if bytes.Equal(cur.CredentialID, c.CredentialID) {
			return fmt.Errorf("credential: %w", lifecycle.ErrDuplicate)
		}
	}
	now := s.now()
	c.ID = uint(len(s.credentials) + 1)
	c.CreatedAt, c.UpdatedAt = now, now
	s.credentials = append(s.credentials, cloneCredential(*c))
	return nil
}

func (s *Store) ListCredentials(_ context.Context, userID string) ([]models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Credential
	for _, c := range s.credentials {
		if c.UserID == userID {
			out = append(out, cloneCredential(c))
		}
	}
	return out, nil
}

func (s *Store) FindCredential(_ context.Context, credentialID []byte) (*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.credentials {
		if bytes.Equal(c.CredentialID, credentialID) {
			out := cloneCredential(c)
			return &out, nil
		}
	}
	return nil, lifecycle.ErrRecordNotFound
}

func (s *Store) TouchCredential(_ context.Context, credentialID []byte, signCount uint32, cloneWarning bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.credentials {
		c := &s.credentials[i]
		if bytes.Equal(c.CredentialID, credentialID) {
			now := s.now()
			c.SignCount = signCount
			c.CloneWarning = cloneWarning
			c.LastUsedAt = &now
			c.UpdatedAt = now
			return nil
		}
	}
	return lifecycle.ErrRecordNotFound
}

func cloneCredential(c models.Credential) models.Credential {
	c.CredentialID = bytes.Clone(c.CredentialID)
	c.PublicKey = bytes.Clone(c.PublicKey)
	c.AAGUID = bytes.Clone(c.AAGUID)
	c.Transports = slices.Clone(c.Transports)
	return c
}
