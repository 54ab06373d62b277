package lifecycle

import (
	"context"
	"errors"
	"time"

	"gear_checkout/models"
)

// Store sentinels. Implementations must return these (possibly wrapped).
var (
	ErrRecordNotFound = errors.New("record not found")
	ErrStaleWrite     = errors.New("record changed since it was read")
	ErrDuplicate      = errors.New("duplicate key")
)

// EquipmentPatch is a partial equipment update. Nil fields are left alone.
type EquipmentPatch struct {
	Status    *models.EquipmentStatus
	Condition *models.Condition
	Assign    *string
	Unassign  bool
	Name      *string
	Category  *string
	Location  *string
}

func (p EquipmentPatch) Apply(e *models.Equipment) {
	if p.Status != nil {
		e.Status = *p.Status
	}
	if p.Condition != nil {
		e.Condition = *p.Condition
	}
	if p.Assign != nil {
		holder := *p.Assign
		e.AssignedTo = &holder
	}
	if p.Unassign {
		e.AssignedTo = nil
	}
	if p.Name != nil {
		e.Name = *p.Name
	}
	if p.Category != nil {
		e.Category = *p.Category
	}
	if p.Location != nil {
		e.Location = *p.Location
	}
}

func (p EquipmentPatch) Empty() bool {
	return p.Status == nil && p.Condition == nil && p.Assign == nil && !p.Unassign &&
		p.Name == nil && p.Category == nil && p.Location == nil
}

type EquipmentFilter struct {
	Status     models.EquipmentStatus
	Category   string
	AssignedTo string
	Assigned   bool // only rows with an assignee
	Query      string
}

type TransactionFilter struct {
	Status models.TransactionStatus
	UserID string
}

type LogFilter struct {
	EntityID string
	Action   models.Action
	UserID   string
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

// Store is the persistence contract. Each call is an independent write;
// no grouping across record kinds is assumed.
type Store interface {
	GetEquipment(ctx context.Context, id string) (*models.Equipment, error)
	FindEquipmentByBarcode(ctx context.Context, barcode string) (*models.Equipment, error)
	ListEquipment(ctx context.Context, f EquipmentFilter) ([]models.Equipment, error)
	InsertEquipment(ctx context.Context, e *models.Equipment) error
	// UpdateEquipment applies patch only if the stored status still equals
	// expect, otherwise it returns ErrStaleWrite.
	UpdateEquipment(ctx context.Context, id string, expect models.EquipmentStatus, patch EquipmentPatch) error

	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	ListTransactions(ctx context.Context, f TransactionFilter) ([]models.Transaction, error)
	OpenTransactionsWithItem(ctx context.Context, equipmentID string) ([]models.Transaction, error)
	InsertTransaction(ctx context.Context, t *models.Transaction) error
	// UpdateTransaction writes items, conditions, status and closedAt of an
	// OPEN transaction whose stored version equals t.Version, then bumps
	// t.Version. Closed or newer rows yield ErrStaleWrite.
	UpdateTransaction(ctx context.Context, t *models.Transaction) error

	AppendLog(ctx context.Context, l *models.Log) error
	ListLogs(ctx context.Context, f LogFilter) ([]models.Log, error)

	GetUser(ctx context.Context, id string) (*models.User, error)
}
