// db/repo_users_admin.go
package db

import (
	"context"

	"gear_checkout/lifecycle"
	"gear_checkout/models"
)

func (r *Repo) SetUserRole(ctx context.Context, userID string, role models.Role) error {
	return r.updateUser(ctx, userID, "role", role)
}

func (r *Repo) SetUserActive(ctx context.Context, userID string, active bool) error {
	return r.updateUser(ctx, userID, "active", active)
}

func (r *Repo) CountAdmins(ctx context.Context) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).
		Model(&models.User{}).
		Where("role = ? AND active = TRUE", models.RoleAdmin).
		Count(&n).Error
	return n, err
}

func (r *Repo) updateUser(ctx context.Context, userID, column string, value any) error {
	res := r.DB.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Update(column, value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return lifecycle.ErrRecordNotFound
	}
	return nil
}
