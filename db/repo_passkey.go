package db

import (
	"context"
	"time"

	"gear_checkout/lifecycle"
	"gear_checkout/models"
)

func (r *Repo) CreateInvite(ctx context.Context, inv *models.Invite) error {
	return storeErr(r.DB.WithContext(ctx).Create(inv).Error)
}

func (r *Repo) GetInvite(ctx context.Context, token string) (*models.Invite, error) {
	var inv models.Invite
	if err := r.DB.WithContext(ctx).Where("token = ?", token).First(&inv).Error; err != nil {
		return nil, storeErr(err)
	}
	return &inv, nil
}

// MarkInviteUsed consumes the token once. A second call, or one racing a
// concurrent registration, gets ErrStaleWrite.
func (r *Repo) MarkInviteUsed(ctx context.Context, token string) error {
	now := time.Now().UTC()
	res := r.DB.WithContext(ctx).Model(&models.Invite{}).
		Where("token = ? AND used_at IS NULL", token).
		Update("used_at", &now)
	if res.Error != nil {
		return storeErr(res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetInvite(ctx, token); err != nil {
			return err
		}
		return lifecycle.ErrStaleWrite
	}
	return nil
}

func (r *Repo) AddCredential(ctx context.Context, c *models.Credential) error {
	return storeErr(r.DB.WithContext(ctx).Create(c).Error)
}

func (r *Repo) ListCredentials(ctx context.Context, userID string) ([]models.Credential, error) {
	var out []models.Credential
	err := r.DB.WithContext(ctx).Where("user_id = ?", userID).Order("id").Find(&out).Error
	return out, storeErr(err)
}

func (r *Repo) FindCredential(ctx context.Context, credentialID []byte) (*models.Credential, error) {
	var c models.Credential
	if err := r.DB.WithContext(ctx).Where("credential_id = ?", credentialID).First(&c).Error; err != nil {
		return nil, storeErr(err)
	}
	return &c, nil
}

// TouchCredential records a successful assertion.
func (r *Repo) TouchCredential(ctx context.Context, credentialID []byte, signCount uint32, cloneWarning bool) error {
	now := time.Now().UTC()
	res := r.DB.WithContext(ctx).Model(&models.Credential{}).
		Where("credential_id = ?", credentialID).
		Updates(map[string]any{
			"sign_count":    signCount,
			"clone_warning": cloneWarning,
			"last_used_at":  &now,
		})
	if res.Error != nil {
		return storeErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return lifecycle.ErrRecordNotFound
	}
	return nil
}
