// controllers/srv.go
package controllers

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gear_checkout/app"
	"gear_checkout/config"
	"gear_checkout/lifecycle"
	"gear_checkout/session"

	"github.com/gin-gonic/gin"
	"github.com/go-webauthn/webauthn/webauthn"
)

type Srv struct {
	Engine     *lifecycle.Engine
	Users      app.Users
	Passkeys   app.Passkeys
	AppSess    session.Store
	Ceremonies session.Ceremonies
	WA         *webauthn.WebAuthn
	WebOrigin  string
	Cfg        config.Config
}

func GetSrv(a *app.App) *Srv {
	return &Srv{
		Engine:     a.Engine,
		Users:      a.Users,
		Passkeys:   a.Passkeys,
		AppSess:    a.Sessions,
		Ceremonies: a.Ceremonies,
		WA:         a.WA,
		WebOrigin:  a.Config.WebOrigin,
		Cfg:        a.Config,
	}
}

// --- helpers ---

// setAppCookie sets the session cookie for browser clients.
func (s *Srv) setAppCookie(w http.ResponseWriter, sessionID string, maxAge time.Duration) {
	secure := strings.HasPrefix(s.WebOrigin, "https://")
	http.SetCookie(w, &http.Cookie{
		Name:     app.AppSessionCookie,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
		MaxAge:   int(maxAge / time.Second),
	})
}

// respondErr maps engine errors to status codes. Anything that is not a
// lifecycle error is an infrastructure failure.
func respondErr(c *gin.Context, err error) {
	var le *lifecycle.Error
	if !errors.As(err, &le) {
		if errors.Is(err, lifecycle.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, app.H{"error": "not found", "kind": lifecycle.KindNotFound})
			return
		}
		log.Printf("[http] %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, app.H{"error": "internal error"})
		return
	}
	code := http.StatusInternalServerError
	switch le.Kind {
	case lifecycle.KindNotFound:
		code = http.StatusNotFound
	case lifecycle.KindInvalidState, lifecycle.KindConflict:
		code = http.StatusConflict
	case lifecycle.KindValidation:
		code = http.StatusUnprocessableEntity
	}
	body := app.H{"error": le.Error(), "kind": le.Kind, "reason": le.Reason}
	if le.ID != "" {
		body["id"] = le.ID
	}
	if len(le.Items) > 0 {
		body["items"] = le.Items
	}
	c.JSON(code, body)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, app.H{"error": "invalid request: " + err.Error()})
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))
	return page, size
}
