// Package memstore is an in-process implementation of the lifecycle store
// and the user repository. It backs the test suites and STORE_DRIVER=memory.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"gear_checkout/lifecycle"
	"gear_checkout/models"
)

type Store struct {
	mu           sync.RWMutex
	equipment    map[string]models.Equipment
	transactions map[string]*models.Transaction
	logs         []models.Log
	users        map[string]models.User
	invites      map[string]models.Invite
	credentials  []models.Credential
	now          func() time.Time

	// FailLogs makes AppendLog fail, for exercising the audit backlog.
	FailLogs error
}

var _ lifecycle.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		equipment:    map[string]models.Equipment{},
		transactions: map[string]*models.Transaction{},
		users:        map[string]models.User{},
		invites:      map[string]models.Invite{},
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// ─── Equipment ──────────────────────────────────────────────────────────────

func (s *Store) GetEquipment(_ context.Context, id string) (*models.Equipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.equipment[id]
	if !ok {
		return nil, lifecycle.ErrRecordNotFound
	}
	return cloneEquipment(it), nil
}

func (s *Store) FindEquipmentByBarcode(_ context.Context, barcode string) (*models.Equipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, it := range s.equipment {
		if strings.EqualFold(it.Barcode, barcode) {
			return cloneEquipment(it), nil
		}
	}
	return nil, lifecycle.ErrRecordNotFound
}

func (s *Store) ListEquipment(_ context.Context, f lifecycle.EquipmentFilter) ([]models.Equipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q := strings.ToLower(strings.TrimSpace(f.Query))
	out := make([]models.Equipment, 0, len(s.equipment))
	for _, it := range s.equipment {
		if f.Status != "" && it.Status != f.Status {
			continue
		}
		if f.Category != "" && !strings.EqualFold(it.Category, f.Category) {
			continue
		}
		if f.AssignedTo != "" && it.Assignee() != f.AssignedTo {
			continue
		}
		if f.Assigned && it.AssignedTo == nil {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(it.Barcode), q) && !strings.Contains(strings.ToLower(it.Name), q) {
			continue
		}
		out = append(out, *cloneEquipment(it))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Barcode < out[j].Barcode })
	return out, nil
}

func (s *Store) InsertEquipment(_ context.Context, e *models.Equipment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.equipment[e.ID]; ok {
		return fmt.Errorf("equipment %s: %w", e.ID, lifecycle.ErrDuplicate)
	}
	for _, it := range s.equipment {
		if strings.EqualFold(it.Barcode, e.Barcode) {
			return fmt.Errorf("barcode %s: %w", e.Barcode, lifecycle.ErrDuplicate)
		}
	}
	now := s.now()
	e.CreatedAt, e.UpdatedAt = now, now
	s.equipment[e.ID] = *cloneEquipment(*e)
	return nil
}

func (s *Store) UpdateEquipment(_ context.Context, id string, expect models.EquipmentStatus, patch lifecycle.EquipmentPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.equipment[id]
	if !ok {
		return lifecycle.ErrRecordNotFound
	}
	if it.Status != expect {
		return lifecycle.ErrStaleWrite
	}
	next := cloneEquipment(it)
	patch.Apply(next)
	next.UpdatedAt = s.now()
	s.equipment[id] = *next
	return nil
}

// PutEquipment stores e as-is, bypassing every rule. Tests use it to seed
// states the engine would never produce.
func (s *Store) PutEquipment(e models.Equipment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.equipment[e.ID] = *cloneEquipment(e)
}

// ─── Transactions ───────────────────────────────────────────────────────────

func (s *Store) GetTransaction(_ context.Context, id string) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transactions[id]
	if !ok {
		return nil, lifecycle.ErrRecordNotFound
	}
	return t.Clone(), nil
}

func (s *Store) ListTransactions(_ context.Context, f lifecycle.TransactionFilter) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Transaction, 0, len(s.transactions))
	for _, t := range s.transactions {
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.UserID != "" && t.UserID != f.UserID {
			continue
		}
		out = append(out, *t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TimestampOut.Equal(out[j].TimestampOut) {
			return out[i].ID < out[j].ID
		}
		return out[i].TimestampOut.After(out[j].TimestampOut)
	})
	return out, nil
}

func (s *Store) OpenTransactionsWithItem(_ context.Context, equipmentID string) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Transaction
	for _, t := range s.transactions {
		if t.Status == models.TxnOpen && t.HasItem(equipmentID) {
			out = append(out, *t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) InsertTransaction(_ context.Context, t *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[t.ID]; ok {
		return fmt.Errorf("transaction %s: %w", t.ID, lifecycle.ErrDuplicate)
	}
	now := s.now()
	t.CreatedAt, t.UpdatedAt = now, now
	if t.Version == 0 {
		t.Version = 1
	}
	s.transactions[t.ID] = t.Clone()
	return nil
}

func (s *Store) UpdateTransaction(_ context.Context, t *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.transactions[t.ID]
	if !ok {
		return lifecycle.ErrRecordNotFound
	}
	if cur.Status != models.TxnOpen || cur.Version != t.Version {
		return lifecycle.ErrStaleWrite
	}
	next := cur.Clone()
	next.Items = append([]string{}, t.Items...)
	next.Pending = slices.Clone(t.Pending)
	next.Conditions = map[string]models.Condition{}
	for k, v := range t.Conditions {
		next.Conditions[k] = v
	}
	next.Status = t.Status
	next.ClosedAt = t.ClosedAt
	next.Version = cur.Version + 1
	next.UpdatedAt = s.now()
	s.transactions[t.ID] = next
	t.Version = next.Version
	t.UpdatedAt = next.UpdatedAt
	return nil
}

// PutTransaction stores t as-is, bypassing every rule.
func (s *Store) PutTransaction(t models.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.Version == 0 {
		t.Version = 1
	}
	s.transactions[t.ID] = t.Clone()
}

// ─── Logs ───────────────────────────────────────────────────────────────────

func (s *Store) AppendLog(_ context.Context, l *models.Log) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailLogs != nil {
		return s.FailLogs
	}
	s.logs = append(s.logs, *l)
	return nil
}

func (s *Store) ListLogs(_ context.Context, f lifecycle.LogFilter) ([]models.Log, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Log
	for i := len(s.logs) - 1; i >= 0; i-- {
		l := s.logs[i]
		if f.EntityID != "" && l.EntityID != f.EntityID {
			continue
		}
		if f.Action != "" && l.Action != f.Action {
			continue
		}
		if f.UserID != "" && (l.UserID == nil || *l.UserID != f.UserID) {
			continue
		}
		if !f.From.IsZero() && l.Timestamp.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !l.Timestamp.Before(f.To) {
			continue
		}
		out = append(out, l)
	}
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []models.Log{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Logs returns every entry in append order.
func (s *Store) Logs() []models.Log {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Log(nil), s.logs...)
}

func cloneEquipment(e models.Equipment) *models.Equipment {
	c := e
	if e.AssignedTo != nil {
		holder := *e.AssignedTo
		c.AssignedTo = &holder
	}
	return &c
}
