package controllers

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"gear_checkout/app"
	"gear_checkout/lifecycle"
	"gear_checkout/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type UserController struct{ *Srv }

func GetUserController(s *Srv) *UserController { return &UserController{Srv: s} }

// GET /api/me
func (uc *UserController) Me(c *gin.Context) {
	u, err := uc.Users.GetUser(c.Request.Context(), app.CurrentUserID(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"user": u, "role": app.CurrentRole(c)})
}

// POST /api/auth/logout
func (uc *UserController) Logout(c *gin.Context) {
	if token := c.GetString("sessionToken"); token != "" {
		_ = uc.AppSess.Delete(c.Request.Context(), token)
	}
	uc.setAppCookie(c.Writer, "", -time.Second)
	c.JSON(http.StatusOK, app.H{"ok": true})
}

// POST /api/users (admin)
func (uc *UserController) CreateUser(c *gin.Context) {
	var in struct {
		Email       string      `json:"email" binding:"required,email"`
		DisplayName string      `json:"displayName"`
		Role        models.Role `json:"role"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	role := in.Role
	if role == "" {
		role = models.RoleStaff
	}
	if !role.Valid() {
		c.JSON(http.StatusBadRequest, app.H{"error": "invalid role"})
		return
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	name := strings.TrimSpace(in.DisplayName)
	if name == "" {
		name = email
	}
	u := &models.User{ID: uuid.NewString(), Email: email, DisplayName: name, Role: role, Active: true}
	if err := uc.Users.CreateUser(c.Request.Context(), u); err != nil {
		if errors.Is(err, lifecycle.ErrDuplicate) {
			c.JSON(http.StatusConflict, app.H{"error": "email already registered"})
			return
		}
		respondErr(c, err)
		return
	}
	uc.audit(c, u.ID, "Created user "+u.Email+" as "+string(u.Role))
	c.JSON(http.StatusCreated, app.H{"user": u})
}

// GET /api/users?q=alice&page=1&size=20
func (uc *UserController) ListUsers(c *gin.Context) {
	page, size := pageParams(c)
	users, total, err := uc.Users.ListUsers(c.Request.Context(), c.Query("q"), page, size)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{
		"total": total,
		"users": users,
	})
}

// GET /api/users/:id
func (uc *UserController) GetUser(c *gin.Context) {
	user, err := uc.Users.GetUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, lifecycle.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, app.H{"error": "user not found"})
			return
		}
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"user": user})
}

// PUT /api/users/:id/role
func (uc *UserController) SetRole(c *gin.Context) {
	var in struct {
		Role models.Role `json:"role" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	if !in.Role.Valid() {
		c.JSON(http.StatusBadRequest, app.H{"error": "invalid role"})
		return
	}
	id := c.Param("id")
	if err := uc.Users.SetUserRole(c.Request.Context(), id, in.Role); err != nil {
		if errors.Is(err, lifecycle.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, app.H{"error": "user not found"})
			return
		}
		respondErr(c, err)
		return
	}
	// tokens carry the role they were issued with
	_ = uc.AppSess.RevokeAllForUser(c.Request.Context(), id)
	uc.audit(c, id, "Role set to "+string(in.Role))
	c.JSON(http.StatusOK, app.H{"ok": true})
}

// PUT /api/users/:id/active
func (uc *UserController) SetActive(c *gin.Context) {
	var in struct {
		Active *bool `json:"active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	id := c.Param("id")
	// deactivating yourself would lock you out
	if !*in.Active && id == app.CurrentUserID(c) {
		c.JSON(http.StatusBadRequest, app.H{"error": "cannot deactivate yourself"})
		return
	}
	if err := uc.Users.SetUserActive(c.Request.Context(), id, *in.Active); err != nil {
		if errors.Is(err, lifecycle.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, app.H{"error": "user not found"})
			return
		}
		respondErr(c, err)
		return
	}
	if !*in.Active {
		if err := uc.AppSess.RevokeAllForUser(c.Request.Context(), id); err != nil {
			log.Printf("[users] revoke sessions of %s: %v", id, err)
		}
		uc.audit(c, id, "User deactivated")
	} else {
		uc.audit(c, id, "User activated")
	}
	c.JSON(http.StatusOK, app.H{"ok": true})
}

// POST /api/users/:id/sessions issues a sign-in token for a user.
func (uc *UserController) IssueSession(c *gin.Context) {
	ctx := c.Request.Context()
	u, err := uc.Users.GetUser(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, lifecycle.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, app.H{"error": "user not found"})
			return
		}
		respondErr(c, err)
		return
	}
	if !u.Active {
		c.JSON(http.StatusConflict, app.H{"error": "user is inactive"})
		return
	}
	token, as, err := uc.AppSess.Create(ctx, u.ID, u.Role)
	if err != nil {
		respondErr(c, err)
		return
	}
	uc.audit(c, u.ID, "Session issued")
	c.JSON(http.StatusCreated, app.H{"token": token, "expiresAt": as.ExpiresAt})
}

// POST /api/users/:id/invites creates a one-time link the user opens to
// register a passkey.
func (uc *UserController) CreateInvite(c *gin.Context) {
	ctx := c.Request.Context()
	u, err := uc.Users.GetUser(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, lifecycle.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, app.H{"error": "user not found"})
			return
		}
		respondErr(c, err)
		return
	}
	if !u.Active {
		c.JSON(http.StatusConflict, app.H{"error": "user is inactive"})
		return
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		respondErr(c, err)
		return
	}
	inv := &models.Invite{
		UserID:    u.ID,
		Token:     hex.EncodeToString(buf),
		ExpiresAt: time.Now().Add(uc.Cfg.InviteTTL()).UTC(),
		CreatedBy: app.CurrentUserID(c),
	}
	if err := uc.Passkeys.CreateInvite(ctx, inv); err != nil {
		respondErr(c, err)
		return
	}
	link := strings.TrimRight(uc.WebOrigin, "/") + "/login?inviteToken=" + inv.Token
	log.Printf("[invite] passkey invite for %s: %s (expires %s)", u.Email, link, inv.ExpiresAt.Format(time.RFC3339))
	uc.audit(c, u.ID, "Passkey invite created")
	c.JSON(http.StatusCreated, app.H{"token": inv.Token, "link": link, "invite": inv})
}

// DELETE /api/users/:id/sessions
func (uc *UserController) RevokeSessions(c *gin.Context) {
	id := c.Param("id")
	if err := uc.AppSess.RevokeAllForUser(c.Request.Context(), id); err != nil {
		respondErr(c, err)
		return
	}
	uc.audit(c, id, "All sessions revoked")
	c.JSON(http.StatusOK, app.H{"ok": true})
}

func (uc *UserController) audit(c *gin.Context, userID, details string) {
	uc.Engine.RecordUserEvent(c.Request.Context(), userID, app.CurrentUserID(c), details)
}
