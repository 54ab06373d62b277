// db/repo_transaction.go
package db

import (
	"context"
	"encoding/json"
	"time"

	"gear_checkout/lifecycle"
	"gear_checkout/models"

	"gorm.io/gorm"
)

func (r *Repo) InsertTransaction(ctx context.Context, t *models.Transaction) error {
	if t.Version == 0 {
		t.Version = 1
	}
	return storeErr(r.DB.WithContext(ctx).Create(t).Error)
}

func (r *Repo) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	var t models.Transaction
	if err := r.DB.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, storeErr(err)
	}
	return &t, nil
}

func (r *Repo) ListTransactions(ctx context.Context, f lifecycle.TransactionFilter) ([]models.Transaction, error) {
	q := r.DB.WithContext(ctx).Model(&models.Transaction{}).Order("timestamp_out DESC, id ASC")
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	var out []models.Transaction
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// OpenTransactionsWithItem uses jsonb containment on the items array; the
// partial GIN index from Migrate serves it.
func (r *Repo) OpenTransactionsWithItem(ctx context.Context, equipmentID string) ([]models.Transaction, error) {
	needle, err := json.Marshal([]string{equipmentID})
	if err != nil {
		return nil, err
	}
	var out []models.Transaction
	err = r.DB.WithContext(ctx).
		Where("status = ? AND items @> ?::jsonb", models.TxnOpen, string(needle)).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// UpdateTransaction is a compare-and-set on (status OPEN, version). Closed
// rows never match, which keeps them frozen.
func (r *Repo) UpdateTransaction(ctx context.Context, t *models.Transaction) error {
	items, err := json.Marshal(nonNilItems(t.Items))
	if err != nil {
		return err
	}
	conds, err := json.Marshal(nonNilConditions(t.Conditions))
	if err != nil {
		return err
	}
	pending, err := json.Marshal(nonNilItems(t.Pending))
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	res := r.DB.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND status = ? AND version = ?", t.ID, models.TxnOpen, t.Version).
		Updates(map[string]any{
			"items":                   gorm.Expr("?::jsonb", string(items)),
			"pre_checkout_conditions": gorm.Expr("?::jsonb", string(conds)),
			"pending":                 gorm.Expr("?::jsonb", string(pending)),
			"status":                  t.Status,
			"closed_at":               t.ClosedAt,
			"version":                 gorm.Expr("version + 1"),
			"updated_at":              now,
		})
	if res.Error != nil {
		return storeErr(res.Error)
	}
	if res.RowsAffected == 0 {
		var n int64
		if err := r.DB.WithContext(ctx).Model(&models.Transaction{}).Where("id = ?", t.ID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return lifecycle.ErrRecordNotFound
		}
		return lifecycle.ErrStaleWrite
	}
	t.Version++
	t.UpdatedAt = now
	return nil
}

func nonNilItems(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

func nonNilConditions(c map[string]models.Condition) map[string]models.Condition {
	if c == nil {
		return map[string]models.Condition{}
	}
	return c
}
