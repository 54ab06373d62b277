package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gear_checkout/models"

	"github.com/google/uuid"
)

type NewEquipment struct {
	ID        string
	Barcode   string
	Name      string
	Category  string
	Location  string
	Condition models.Condition
}

// CreateEquipment registers an item as AVAILABLE with no holder.
func (e *Engine) CreateEquipment(ctx context.Context, in NewEquipment, actorID string) (it *models.Equipment, err error) {
	defer func() { e.obs.ObserveOperation("create_equipment", err) }()

	barcode := strings.TrimSpace(in.Barcode)
	if barcode == "" {
		return nil, validation("equipment", in.ID, "missing_barcode", "")
	}
	cond := in.Condition
	if cond == "" {
		cond = models.ConditionOK
	}
	if !cond.Valid() {
		return nil, validation("equipment", in.ID, "invalid_condition", string(cond))
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = uuid.NewString()
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = barcode
	}
	it = &models.Equipment{
		ID:        id,
		Barcode:   barcode,
		Name:      name,
		Category:  strings.TrimSpace(in.Category),
		Location:  strings.TrimSpace(in.Location),
		Status:    models.StatusAvailable,
		Condition: cond,
	}
	if err := e.store.InsertEquipment(ctx, it); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, conflict("equipment", id, "duplicate_barcode_or_id", barcode)
		}
		return nil, fmt.Errorf("insert equipment: %w", err)
	}
	e.record(ctx, models.ActionCreate, it.ID, actorID, fmt.Sprintf("Registered %s (%s)", it.Barcode, it.Name))
	return it, nil
}

// EquipmentEdit is a manager's direct change. Status may only move to a
// status that does not hold the item.
type EquipmentEdit struct {
	Status    *models.EquipmentStatus
	Condition *models.Condition
	Name      *string
	Category  *string
	Location  *string
}

func (e *Engine) EditEquipment(ctx context.Context, id string, edit EquipmentEdit, actorID string) (res *ItemResult, err error) {
	defer func() { e.obs.ObserveOperation("edit_equipment", err) }()

	it, err := e.store.GetEquipment(ctx, id)
	if err != nil {
		return nil, e.lookupErr(err, "equipment", id)
	}
	var patch EquipmentPatch
	var changes []string
	if edit.Status != nil && *edit.Status != it.Status {
		if !edit.Status.Valid() {
			return nil, validation("equipment", id, "invalid_status", string(*edit.Status))
		}
		if err := checkTransition(OpEdit, it, *edit.Status); err != nil {
			return nil, err
		}
		patch.Status = edit.Status
		changes = append(changes, fmt.Sprintf("status %s -> %s", it.Status, *edit.Status))
	}
	if edit.Condition != nil && *edit.Condition != it.Condition {
		if !edit.Condition.Valid() {
			return nil, validation("equipment", id, "invalid_condition", string(*edit.Condition))
		}
		patch.Condition = edit.Condition
		changes = append(changes, fmt.Sprintf("condition %s -> %s", it.Condition, *edit.Condition))
	}
	if edit.Name != nil && strings.TrimSpace(*edit.Name) != it.Name {
		name := strings.TrimSpace(*edit.Name)
		if name == "" {
			return nil, validation("equipment", id, "empty_name", "")
		}
		patch.Name = &name
		changes = append(changes, "name")
	}
	if edit.Category != nil && *edit.Category != it.Category {
		patch.Category = edit.Category
		changes = append(changes, "category")
	}
	if edit.Location != nil && *edit.Location != it.Location {
		patch.Location = edit.Location
		changes = append(changes, "location")
	}
	if len(changes) == 0 {
		return &ItemResult{Equipment: it}, nil
	}
	target := it.Status
	if patch.Status != nil {
		target = *patch.Status
	}
	if !target.Held() && it.AssignedTo != nil {
		patch.Unassign = true
		changes = append(changes, "assignment cleared")
	}

	next := *it
	patch.Apply(&next)
	if err := CheckAssignment(&next); err != nil {
		return nil, validation("equipment", id, "assignment_invariant", err.Error())
	}
	if err := e.store.UpdateEquipment(ctx, it.ID, it.Status, patch); err != nil {
		return nil, e.writeErr(ctx, err, it.ID, OpEdit)
	}
	e.record(ctx, models.ActionEdit, it.ID, actorID, "Edited "+it.Barcode+": "+strings.Join(changes, ", "))

	res = &ItemResult{Equipment: &next}
	if patch.Status != nil {
		if closed := e.autoClose(ctx, it.ID, actorID, "edit"); len(closed) > 0 {
			res.ClosedTransactionID = closed[0]
		}
	}
	return res, nil
}

// ResolveBarcode maps a scanned or typed code to its equipment.
func (e *Engine) ResolveBarcode(ctx context.Context, barcode string) (*models.Equipment, error) {
	code := strings.TrimSpace(barcode)
	if code == "" {
		return nil, validation("equipment", "", "missing_barcode", "")
	}
	it, err := e.store.FindEquipmentByBarcode(ctx, code)
	if err != nil {
		return nil, e.lookupErr(err, "equipment", code)
	}
	return it, nil
}

// ─── Read side ──────────────────────────────────────────────────────────────

func (e *Engine) Equipment(ctx context.Context, id string) (*models.Equipment, error) {
	it, err := e.store.GetEquipment(ctx, id)
	if err != nil {
		return nil, e.lookupErr(err, "equipment", id)
	}
	return it, nil
}

func (e *Engine) ListEquipment(ctx context.Context, f EquipmentFilter) ([]models.Equipment, error) {
	return e.store.ListEquipment(ctx, f)
}

type TransactionDetail struct {
	*models.Transaction
	Equipment []models.Equipment `json:"equipment"`
}

// Transaction returns a transaction with its items expanded in item order.
func (e *Engine) Transaction(ctx context.Context, id string) (*TransactionDetail, error) {
	t, err := e.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, e.lookupErr(err, "transaction", id)
	}
	items, err := e.currentItems(ctx, t)
	if err != nil {
		return nil, err
	}
	return &TransactionDetail{Transaction: t, Equipment: items}, nil
}

func (e *Engine) ListTransactions(ctx context.Context, f TransactionFilter) ([]models.Transaction, error) {
	return e.store.ListTransactions(ctx, f)
}

func (e *Engine) ListLogs(ctx context.Context, f LogFilter) ([]models.Log, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return e.store.ListLogs(ctx, f)
}
