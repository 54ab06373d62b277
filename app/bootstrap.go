// app/bootstrap.go
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"gear_checkout/lifecycle"
	"gear_checkout/models"
	"gear_checkout/session"

	"github.com/google/uuid"
)

// BootstrapFirstAdmin makes sure BOOTSTRAP_ADMIN_EMAIL can sign in when no
// admin exists yet. It returns the issued token, or "" when nothing was done.
func BootstrapFirstAdmin(ctx context.Context, email string, users Users, sess session.Store) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", nil
	}
	n, err := users.CountAdmins(ctx)
	if err != nil {
		return "", fmt.Errorf("count admins: %w", err)
	}
	if n > 0 {
		return "", nil
	}

	u, err := users.FindUserByEmail(ctx, email)
	switch {
	case errors.Is(err, lifecycle.ErrRecordNotFound):
		u = &models.User{
			ID:          uuid.NewString(),
			Email:       email,
			DisplayName: email,
			Role:        models.RoleAdmin,
			Active:      true,
		}
		if err := users.CreateUser(ctx, u); err != nil {
			return "", fmt.Errorf("create admin: %w", err)
		}
	case err != nil:
		return "", fmt.Errorf("find admin: %w", err)
	default:
		if err := users.SetUserRole(ctx, u.ID, models.RoleAdmin); err != nil {
			return "", err
		}
		if err := users.SetUserActive(ctx, u.ID, true); err != nil {
			return "", err
		}
	}

	token, _, err := sess.Create(ctx, u.ID, models.RoleAdmin)
	if err != nil {
		return "", fmt.Errorf("issue session: %w", err)
	}
	log.Printf("[BOOTSTRAP] No admin found, promoted %s to admin", email)
	log.Printf("[BOOTSTRAP] One-time session token (valid %s): %s", sess.TTL(), token)
	return token, nil
}
