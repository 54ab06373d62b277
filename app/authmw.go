package app

import (
	"net/http"
	"strings"

	"gear_checkout/config"
	"gear_checkout/models"
	"gear_checkout/session"

	"github.com/gin-gonic/gin"
)

const AppSessionCookie = "app_session"

// bearerToken reads "Authorization: Bearer <t>" and falls back to the cookie.
func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if t, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(t)
		}
	}
	if ck, err := c.Request.Cookie(AppSessionCookie); err == nil {
		return ck.Value
	}
	return ""
}

func AuthRequired(sess session.Store, users Users, cfg config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, H{"error": "unauthorized"})
			return
		}
		as, err := sess.Get(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, H{"error": "invalid session"})
			return
		}

		// the user may have been deactivated after the token was issued
		u, err := users.GetUser(c.Request.Context(), as.UserID)
		if err != nil || !u.Active {
			_ = sess.Delete(c.Request.Context(), token)
			c.AbortWithStatusJSON(http.StatusUnauthorized, H{"error": "unauthorized"})
			return
		}
		role := u.Role
		if cfg.IsAdminEmail(u.Email) {
			role = models.RoleAdmin
		}
		c.Set("userID", u.ID)
		c.Set("role", role)
		c.Set("sessionToken", token)
		c.Next()
	}
}

// RoleAtLeast must run after AuthRequired.
func RoleAtLeast(min models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !CurrentRole(c).AtLeast(min) {
			c.AbortWithStatusJSON(http.StatusForbidden, H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

func CurrentUserID(c *gin.Context) string { return c.GetString("userID") }

func CurrentRole(c *gin.Context) models.Role {
	v, _ := c.Get("role")
	r, _ := v.(models.Role)
	return r
}
