package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gear_checkout/config"
	"gear_checkout/lifecycle"
	"gear_checkout/memstore"
	"gear_checkout/models"
	"gear_checkout/session"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBootstrapFirstAdmin(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	sess := session.NewMemoryStore(time.Hour)

	tok, err := BootstrapFirstAdmin(ctx, "", st, sess)
	require.NoError(t, err)
	assert.Empty(t, tok)

	tok, err = BootstrapFirstAdmin(ctx, " Boss@Studio.test ", st, sess)
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	u, err := st.FindUserByEmail(ctx, "boss@studio.test")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, u.Role)
	as, err := sess.Get(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, u.ID, as.UserID)

	// an admin exists now, so a second run does nothing
	tok, err = BootstrapFirstAdmin(ctx, "other@studio.test", st, sess)
	require.NoError(t, err)
	assert.Empty(t, tok)
	_, err = st.FindUserByEmail(ctx, "other@studio.test")
	assert.ErrorIs(t, err, lifecycle.ErrRecordNotFound)
}

func TestBootstrapPromotesExistingUser(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	sess := session.NewMemoryStore(time.Hour)
	require.NoError(t, st.CreateUser(ctx, &models.User{ID: "u1", Email: "lead@studio.test", DisplayName: "Lead", Role: models.RoleStaff, Active: true}))
	require.NoError(t, st.SetUserActive(ctx, "u1", false))

	tok, err := BootstrapFirstAdmin(ctx, "lead@studio.test", st, sess)
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	u, err := st.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, u.Role)
	assert.True(t, u.Active)
}

type authRig struct {
	router *gin.Engine
	st     *memstore.Store
	sess   *session.MemoryStore
}

func newAuthRig(t *testing.T) authRig {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st := memstore.New()
	sess := session.NewMemoryStore(time.Hour)
	cfg := config.DefaultConfig()
	cfg.AdminEmails = []string{"chief@studio.test"}

	r := gin.New()
	g := r.Group("/", AuthRequired(sess, st, cfg))
	g.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, H{"id": CurrentUserID(c), "role": CurrentRole(c)})
	})
	g.GET("/managers", RoleAtLeast(models.RoleManager), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return authRig{router: r, st: st, sess: sess}
}

func (r authRig) user(t *testing.T, id, email string, role models.Role) string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, r.st.CreateUser(ctx, &models.User{ID: id, Email: email, DisplayName: id, Role: role, Active: true}))
	tok, _, err := r.sess.Create(ctx, id, role)
	require.NoError(t, err)
	return tok
}

func (r authRig) get(path string, mod func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if mod != nil {
		mod(req)
	}
	w := httptest.NewRecorder()
	r.router.ServeHTTP(w, req)
	return w
}

func bearer(tok string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }
}

func TestAuthRequired(t *testing.T) {
	rig := newAuthRig(t)
	staff := rig.user(t, "s1", "s1@studio.test", models.RoleStaff)

	assert.Equal(t, http.StatusUnauthorized, rig.get("/whoami", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, rig.get("/whoami", bearer("nope")).Code)

	w := rig.get("/whoami", bearer(staff))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"s1","role":"STAFF"}`, w.Body.String())

	w = rig.get("/whoami", func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: AppSessionCookie, Value: staff})
	})
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, http.StatusForbidden, rig.get("/managers", bearer(staff)).Code)
}

func TestAuthRequiredRejectsInactiveUser(t *testing.T) {
	rig := newAuthRig(t)
	tok := rig.user(t, "s1", "s1@studio.test", models.RoleStaff)
	require.NoError(t, rig.st.SetUserActive(context.Background(), "s1", false))

	assert.Equal(t, http.StatusUnauthorized, rig.get("/whoami", bearer(tok)).Code)
	_, err := rig.sess.Get(context.Background(), tok)
	assert.True(t, errors.Is(err, session.ErrNoSession))
}

func TestAdminEmailElevates(t *testing.T) {
	rig := newAuthRig(t)
	tok := rig.user(t, "c1", "chief@studio.test", models.RoleStaff)

	w := rig.get("/whoami", bearer(tok))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"c1","role":"ADMIN"}`, w.Body.String())
	assert.Equal(t, http.StatusNoContent, rig.get("/managers", bearer(tok)).Code)
}

func TestTouchLastSeenWithoutRedis(t *testing.T) {
	gin.SetMode(gin.TestMode)
	st := memstore.New()
	require.NoError(t, st.CreateUser(context.Background(), &models.User{ID: "s1", Email: "s1@studio.test", DisplayName: "s1", Role: models.RoleStaff, Active: true}))

	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set("userID", "s1"); c.Next() })
	r.Use(TouchLastSeen(st, nil, time.Minute))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	u, err := st.GetUser(context.Background(), "s1")
	require.NoError(t, err)
	assert.NotNil(t, u.LastSeenAt)
}

func TestMetricsObserver(t *testing.T) {
	var m Metrics
	ok := testutil.ToFloat64(LifecycleOperations.WithLabelValues("verify", "ok"))
	conflicts := testutil.ToFloat64(LifecycleOperations.WithLabelValues("verify", "CONFLICT"))
	infra := testutil.ToFloat64(LifecycleOperations.WithLabelValues("verify", "error"))

	m.ObserveOperation("verify", nil)
	m.ObserveOperation("verify", &lifecycle.Error{Kind: lifecycle.KindConflict, Entity: "equipment", Reason: "concurrent_update"})
	m.ObserveOperation("verify", errors.New("db down"))

	assert.Equal(t, ok+1, testutil.ToFloat64(LifecycleOperations.WithLabelValues("verify", "ok")))
	assert.Equal(t, conflicts+1, testutil.ToFloat64(LifecycleOperations.WithLabelValues("verify", "CONFLICT")))
	assert.Equal(t, infra+1, testutil.ToFloat64(LifecycleOperations.WithLabelValues("verify", "error")))

	before := testutil.ToFloat64(TransactionsClosed.WithLabelValues("verify"))
	m.ObserveClose("verify")
	assert.Equal(t, before+1, testutil.ToFloat64(TransactionsClosed.WithLabelValues("verify")))
}
