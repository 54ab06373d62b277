package db

import (
	"context"
	"strings"
	"time"

	"gear_checkout/lifecycle"
	"gear_checkout/models"
)

// Equipment

func (r *Repo) InsertEquipment(ctx context.Context, e *models.Equipment) error {
	return storeErr(r.DB.WithContext(ctx).Create(e).Error)
}

func (r *Repo) GetEquipment(ctx context.Context, id string) (*models.Equipment, error) {
	var e models.Equipment
	if err := r.DB.WithContext(ctx).First(&e, "id = ?", id).Error; err != nil {
		return nil, storeErr(err)
	}
	return &e, nil
}

func (r *Repo) FindEquipmentByBarcode(ctx context.Context, barcode string) (*models.Equipment, error) {
	var e models.Equipment
	if err := r.DB.WithContext(ctx).Where("LOWER(barcode) = ?", strings.ToLower(barcode)).First(&e).Error; err != nil {
		return nil, storeErr(err)
	}
	return &e, nil
}

func (r *Repo) ListEquipment(ctx context.Context, f lifecycle.EquipmentFilter) ([]models.Equipment, error) {
	q := r.DB.WithContext(ctx).Model(&models.Equipment{}).Order("barcode ASC")
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Category != "" {
		q = q.Where("LOWER(category) = ?", strings.ToLower(f.Category))
	}
	if f.AssignedTo != "" {
		q = q.Where("assigned_to = ?", f.AssignedTo)
	}
	if f.Assigned {
		q = q.Where("assigned_to IS NOT NULL")
	}
	if s := strings.TrimSpace(f.Query); s != "" {
		pat := "%" + strings.ToLower(s) + "%"
		q = q.Where("LOWER(barcode) LIKE ? OR LOWER(name) LIKE ?", pat, pat)
	}
	var out []models.Equipment
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateEquipment is a compare-and-set on status: the row only changes if
// nobody moved it since the caller read it.
func (r *Repo) UpdateEquipment(ctx context.Context, id string, expect models.EquipmentStatus, patch lifecycle.EquipmentPatch) error {
	cols := equipmentColumns(patch)
	cols["updated_at"] = time.Now().UTC()

	res := r.DB.WithContext(ctx).Model(&models.Equipment{}).
		Where("id = ? AND status = ?", id, expect).
		Updates(cols)
	if res.Error != nil {
		return storeErr(res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var n int64
	if err := r.DB.WithContext(ctx).Model(&models.Equipment{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return lifecycle.ErrRecordNotFound
	}
	return lifecycle.ErrStaleWrite
}

func equipmentColumns(p lifecycle.EquipmentPatch) map[string]any {
	cols := map[string]any{}
	if p.Status != nil {
		cols["status"] = *p.Status
	}
	if p.Condition != nil {
		cols["condition"] = *p.Condition
	}
	if p.Assign != nil {
		cols["assigned_to"] = *p.Assign
	}
	if p.Unassign {
		cols["assigned_to"] = nil
	}
	if p.Name != nil {
		cols["name"] = *p.Name
	}
	if p.Category != nil {
		cols["category"] = *p.Category
	}
	if p.Location != nil {
		cols["location"] = *p.Location
	}
	return cols
}
