// controllers/webauthn_controller.go
package controllers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"gear_checkout/app"
	"gear_checkout/lifecycle"
	"gear_checkout/models"
	"gear_checkout/session"

	"github.com/gin-gonic/gin"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
)

// waUser adapts a user and their stored passkeys to webauthn.User. The user
// handle is the raw user ID.
type waUser struct {
	user  models.User
	creds []webauthn.Credential
}

func (u *waUser) WebAuthnID() []byte                         { return []byte(u.user.ID) }
func (u *waUser) WebAuthnName() string                       { return u.user.Email }
func (u *waUser) WebAuthnDisplayName() string                { return u.user.DisplayName }
func (u *waUser) WebAuthnCredentials() []webauthn.Credential { return u.creds }

func toWaCred(c models.Credential) webauthn.Credential {
	transports := make([]protocol.AuthenticatorTransport, 0, len(c.Transports))
	for _, t := range c.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(t))
	}
	return webauthn.Credential{
		ID:              c.CredentialID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Transport:       transports,
		Authenticator: webauthn.Authenticator{
			AAGUID:       c.AAGUID,
			SignCount:    c.SignCount,
			CloneWarning: c.CloneWarning,
		},
		Flags: webauthn.CredentialFlags{
			BackupEligible: c.BackupEligible,
			BackupState:    c.BackupState,
		},
	}
}

func fromWaCred(userID string, cred *webauthn.Credential) *models.Credential {
	transports := make([]string, 0, len(cred.Transport))
	for _, t := range cred.Transport {
		transports = append(transports, string(t))
	}
	return &models.Credential{
		UserID:          userID,
		CredentialID:    cred.ID,
		PublicKey:       cred.PublicKey,
		AttestationType: cred.AttestationType,
		AAGUID:          cred.Authenticator.AAGUID,
		SignCount:       cred.Authenticator.SignCount,
		CloneWarning:    cred.Authenticator.CloneWarning,
		BackupEligible:  cred.Flags.BackupEligible,
		BackupState:     cred.Flags.BackupState,
		Transports:      transports,
	}
}

func (s *Srv) loadWAUser(ctx context.Context, u *models.User) (*waUser, error) {
	cs, err := s.Passkeys.ListCredentials(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	ws := make([]webauthn.Credential, 0, len(cs))
	for _, c := range cs {
		ws = append(ws, toWaCred(c))
	}
	return &waUser{user: *u, creds: ws}, nil
}

// inviteUser resolves an invite token to the user it was issued for. Used,
// expired and unknown tokens, and invites of deactivated users, all fail.
func (s *Srv) inviteUser(ctx context.Context, token string) (*models.User, bool) {
	inv, err := s.Passkeys.GetInvite(ctx, token)
	if err != nil || !inv.Usable(time.Now()) {
		return nil, false
	}
	u, err := s.Users.GetUser(ctx, inv.UserID)
	if err != nil || !u.Active {
		return nil, false
	}
	return u, true
}

func registrationOptions() []webauthn.RegistrationOption {
	return []webauthn.RegistrationOption{
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			RequireResidentKey: protocol.ResidentKeyRequired(),
			ResidentKey:        protocol.ResidentKeyRequirementRequired,
			UserVerification:   protocol.VerificationRequired,
		}),
	}
}

// issueSession signs a user in after a passkey ceremony: a token in the body
// for API clients and the same token as a cookie for the browser.
func (s *Srv) issueSession(c *gin.Context, u *models.User) (string, *session.AppSession, error) {
	token, as, err := s.AppSess.Create(c.Request.Context(), u.ID, u.Role)
	if err != nil {
		return "", nil, err
	}
	s.setAppCookie(c.Writer, token, s.AppSess.TTL())
	return token, as, nil
}

// ===== registration by invite =====

// POST /webauthn/register/begin
func (s *Srv) BeginRegistration(c *gin.Context) {
	var in struct {
		InviteToken string `json:"inviteToken" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	u, ok := s.inviteUser(ctx, in.InviteToken)
	if !ok {
		c.JSON(http.StatusForbidden, app.H{"error": "invalid or expired invite"})
		return
	}
	wUser, err := s.loadWAUser(ctx, u)
	if err != nil {
		respondErr(c, err)
		return
	}
	opts, sd, err := s.WA.BeginRegistration(wUser, registrationOptions()...)
	if err != nil {
		respondErr(c, err)
		return
	}
	if err := s.Ceremonies.Save(ctx, session.RegByInviteKey(in.InviteToken), sd); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"opts": opts})
}

// POST /webauthn/register/finish?inviteToken=...
// The body is the authenticator's attestation response.
func (s *Srv) FinishRegistration(c *gin.Context) {
	token := c.Query("inviteToken")
	if token == "" {
		c.JSON(http.StatusBadRequest, app.H{"error": "missing inviteToken"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	u, ok := s.inviteUser(ctx, token)
	if !ok {
		c.JSON(http.StatusForbidden, app.H{"error": "invalid or expired invite"})
		return
	}
	sd, err := s.Ceremonies.Load(ctx, session.RegByInviteKey(token))
	if err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": "session expired or invalid"})
		return
	}
	wUser, err := s.loadWAUser(ctx, u)
	if err != nil {
		respondErr(c, err)
		return
	}
	cred, err := s.WA.FinishRegistration(wUser, *sd, c.Request)
	if err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": err.Error()})
		return
	}

	// consume the invite before storing, so one token yields one passkey
	if err := s.Passkeys.MarkInviteUsed(ctx, token); err != nil {
		if errors.Is(err, lifecycle.ErrStaleWrite) {
			c.JSON(http.StatusForbidden, app.H{"error": "invalid or expired invite"})
			return
		}
		respondErr(c, err)
		return
	}
	s.Ceremonies.Delete(ctx, session.RegByInviteKey(token))
	if err := s.Passkeys.AddCredential(ctx, fromWaCred(u.ID, cred)); err != nil {
		if errors.Is(err, lifecycle.ErrDuplicate) {
			c.JSON(http.StatusConflict, app.H{"error": "passkey already registered"})
			return
		}
		respondErr(c, err)
		return
	}
	s.Engine.RecordUserEvent(ctx, u.ID, u.ID, "Passkey registered from invite")

	// registering signs you in
	tok, as, err := s.issueSession(c, u)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"ok": true, "user": u, "token": tok, "expiresAt": as.ExpiresAt})
}

// ===== extra passkeys (signed in) =====

// GET /api/me/passkeys
func (s *Srv) ListPasskeys(c *gin.Context) {
	cs, err := s.Passkeys.ListCredentials(c.Request.Context(), app.CurrentUserID(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	if cs == nil {
		cs = []models.Credential{}
	}
	c.JSON(http.StatusOK, app.H{"passkeys": cs})
}

// POST /api/me/passkeys/begin
func (s *Srv) BeginAddPasskey(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	u, err := s.Users.GetUser(ctx, app.CurrentUserID(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	wUser, err := s.loadWAUser(ctx, u)
	if err != nil {
		respondErr(c, err)
		return
	}
	exclude := make([]protocol.CredentialDescriptor, 0, len(wUser.creds))
	for _, cr := range wUser.creds {
		exclude = append(exclude, cr.Descriptor())
	}
	opts, sd, err := s.WA.BeginRegistration(wUser, append(registrationOptions(), webauthn.WithExclusions(exclude))...)
	if err != nil {
		respondErr(c, err)
		return
	}
	if err := s.Ceremonies.Save(ctx, session.RegByUserKey(u.ID), sd); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"opts": opts})
}

// POST /api/me/passkeys/finish
func (s *Srv) FinishAddPasskey(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	u, err := s.Users.GetUser(ctx, app.CurrentUserID(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	sd, err := s.Ceremonies.Load(ctx, session.RegByUserKey(u.ID))
	if err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": "session expired or invalid"})
		return
	}
	wUser, err := s.loadWAUser(ctx, u)
	if err != nil {
		respondErr(c, err)
		return
	}
	cred, err := s.WA.FinishRegistration(wUser, *sd, c.Request)
	if err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": err.Error()})
		return
	}
	s.Ceremonies.Delete(ctx, session.RegByUserKey(u.ID))
	if err := s.Passkeys.AddCredential(ctx, fromWaCred(u.ID, cred)); err != nil {
		if errors.Is(err, lifecycle.ErrDuplicate) {
			c.JSON(http.StatusConflict, app.H{"error": "passkey already registered"})
			return
		}
		respondErr(c, err)
		return
	}
	s.Engine.RecordUserEvent(ctx, u.ID, u.ID, "Passkey added")
	c.JSON(http.StatusOK, app.H{"ok": true})
}

// ===== login =====

type loginBeginReq struct {
	// Email selects the account; empty means a discoverable login where
	// the authenticator picks the account.
	Email string `json:"email"`
}

type loginBeginResp struct {
	Options   *protocol.CredentialAssertion `json:"options"`
	SessionID string                        `json:"sessionId"`
}

// POST /webauthn/login/begin
func (s *Srv) BeginLogin(c *gin.Context) {
	var req loginBeginReq
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	var (
		opts *protocol.CredentialAssertion
		sd   *webauthn.SessionData
		err  error
	)
	if req.Email == "" {
		opts, sd, err = s.WA.BeginDiscoverableLogin(webauthn.WithUserVerification(protocol.VerificationRequired))
	} else {
		u, ferr := s.Users.FindUserByEmail(ctx, req.Email)
		if ferr != nil || !u.Active {
			c.JSON(http.StatusNotFound, app.H{"error": "user not found"})
			return
		}
		wUser, lerr := s.loadWAUser(ctx, u)
		if lerr != nil {
			respondErr(c, lerr)
			return
		}
		if len(wUser.creds) == 0 {
			c.JSON(http.StatusNotFound, app.H{"error": "no passkey registered"})
			return
		}
		opts, sd, err = s.WA.BeginLogin(wUser, webauthn.WithUserVerification(protocol.VerificationRequired))
	}
	if err != nil {
		respondErr(c, err)
		return
	}

	sid := uuid.NewString()
	if err := s.Ceremonies.Save(ctx, session.AuthKey(sid), sd); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, loginBeginResp{Options: opts, SessionID: sid})
}

// POST /webauthn/login/finish?sessionId=...[&email=...]
// The body is the authenticator's assertion response.
func (s *Srv) FinishLogin(c *gin.Context) {
	sid := c.Query("sessionId")
	if sid == "" {
		c.JSON(http.StatusBadRequest, app.H{"error": "missing sessionId"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	sd, err := s.Ceremonies.Load(ctx, session.AuthKey(sid))
	if err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": "session expired or invalid"})
		return
	}

	var (
		user *models.User
		cred *webauthn.Credential
	)
	if email := c.Query("email"); email != "" {
		u, err := s.Users.FindUserByEmail(ctx, email)
		if err != nil {
			c.JSON(http.StatusNotFound, app.H{"error": "user not found"})
			return
		}
		wUser, err := s.loadWAUser(ctx, u)
		if err != nil {
			respondErr(c, err)
			return
		}
		cred, err = s.WA.FinishLogin(wUser, *sd, c.Request)
		if err != nil {
			c.JSON(http.StatusUnauthorized, app.H{"error": err.Error()})
			return
		}
		user = u
	} else {
		handler := func(rawID, _ []byte) (webauthn.User, error) {
			pc, err := s.Passkeys.FindCredential(ctx, rawID)
			if err != nil {
				return nil, protocol.ErrBadRequest.WithDetails("credential not found")
			}
			u, err := s.Users.GetUser(ctx, pc.UserID)
			if err != nil {
				return nil, protocol.ErrBadRequest.WithDetails("credential not found")
			}
			wUser, err := s.loadWAUser(ctx, u)
			if err != nil {
				return nil, err
			}
			return wUser, nil
		}
		wu, pcred, err := s.WA.FinishPasskeyLogin(handler, *sd, c.Request)
		if err != nil {
			c.JSON(http.StatusUnauthorized, app.H{"error": err.Error()})
			return
		}
		user = &wu.(*waUser).user
		cred = pcred
	}
	s.Ceremonies.Delete(ctx, session.AuthKey(sid))

	if !user.Active {
		c.JSON(http.StatusUnauthorized, app.H{"error": "unauthorized"})
		return
	}
	if err := s.Passkeys.TouchCredential(ctx, cred.ID, cred.Authenticator.SignCount, cred.Authenticator.CloneWarning); err != nil {
		log.Printf("[webauthn] touch credential of %s: %v", user.ID, err)
	}
	if cred.Authenticator.CloneWarning {
		log.Printf("[webauthn] sign counter went backwards for a passkey of %s", user.ID)
	}

	tok, as, err := s.issueSession(c, user)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"ok": true, "user": user, "token": tok, "expiresAt": as.ExpiresAt})
}
