package db

import (
	"context"
	"fmt"

	"gear_checkout/lifecycle"
	"gear_checkout/models"
)

func (r *Repo) AppendLog(ctx context.Context, l *models.Log) error {
	if err := r.DB.WithContext(ctx).Create(l).Error; err != nil {
		return fmt.Errorf("insert log: %w", storeErr(err))
	}
	return nil
}

func (r *Repo) ListLogs(ctx context.Context, f lifecycle.LogFilter) ([]models.Log, error) {
	q := r.DB.WithContext(ctx).Model(&models.Log{}).Order("timestamp DESC, id ASC")
	if f.EntityID != "" {
		q = q.Where("entity_id = ?", f.EntityID)
	}
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if !f.From.IsZero() {
		q = q.Where("timestamp >= ?", f.From)
	}
	if !f.To.IsZero() {
		q = q.Where("timestamp < ?", f.To)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []models.Log
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
